package main

import (
	"fmt"
	"image"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/armcollect/pkg/env"
)

// renderFrame draws img into cols x rows terminal cells. Each cell shows two
// pixels stacked with an upper half block: foreground is the top pixel,
// background the bottom one. Sampling is nearest neighbour.
func renderFrame(img *image.RGBA, cols, rows int) string {
	if img == nil || cols <= 0 || rows <= 0 {
		return ""
	}
	b := img.Bounds()
	if b.Empty() {
		return ""
	}
	var sb strings.Builder
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x := b.Min.X + col*b.Dx()/cols
			top := b.Min.Y + (2*row)*b.Dy()/(2*rows)
			bottom := b.Min.Y + (2*row+1)*b.Dy()/(2*rows)
			cell := lipgloss.NewStyle().
				Foreground(pixelColor(img, x, top)).
				Background(pixelColor(img, x, bottom))
			sb.WriteString(cell.Render("▀"))
		}
		if row < rows-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func pixelColor(img *image.RGBA, x, y int) lipgloss.Color {
	c := img.RGBAAt(x, y)
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}

// frameSource picks the image shown in the TUI: front camera first.
func frameSource(obs env.Observation) (*image.RGBA, env.Camera, bool) {
	for _, cam := range []env.Camera{env.CameraFront, env.CameraTop} {
		if img, ok := obs.Image(cam); ok {
			return img, cam, true
		}
	}
	return nil, "", false
}
