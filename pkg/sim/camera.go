package sim

import (
	"image"
	"image/color"
	"image/draw"
)

const (
	camWidth  = 64
	camHeight = 48
)

var (
	colTable   = color.RGBA{96, 96, 104, 255}
	colSky     = color.RGBA{24, 28, 40, 255}
	colTarget  = color.RGBA{40, 160, 70, 255}
	colRed     = color.RGBA{210, 40, 40, 255}
	colBlue    = color.RGBA{40, 80, 220, 255}
	colGripper = color.RGBA{240, 240, 240, 255}
	colClosed  = color.RGBA{250, 200, 40, 255}
)

var cubeColors = []color.RGBA{colRed, colBlue}

// renderTop draws the table seen from above: x runs up the image, y to the left.
func (e *Env) renderTop() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, camWidth, camHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(colTable), image.Point{}, draw.Src)

	project := func(p vec3) (int, int) {
		px := int((0.3 - p.y) / 0.6 * camWidth)
		py := int((0.35 - p.x) / 0.4 * camHeight)
		return px, py
	}
	if e.kind == taskPush || e.kind == taskPushLoop || e.kind == taskPickPlace {
		for i := range e.targets {
			if i > 0 && e.kind != taskPushLoop {
				break
			}
			x, y := project(e.targets[i])
			fillSquare(img, x, y, 4, colTarget)
		}
	}
	for i, c := range e.cubes {
		x, y := project(c)
		fillSquare(img, x, y, 2, cubeColors[i%len(cubeColors)])
	}
	x, y := project(e.endEffector())
	fillSquare(img, x, y, 1, e.gripperColor())
	return img
}

// renderFront draws the scene from the front: y to the left, z up.
func (e *Env) renderFront() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, camWidth, camHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(colSky), image.Point{}, draw.Src)
	horizon := camHeight - camHeight/6
	draw.Draw(img, image.Rect(0, horizon, camWidth, camHeight), image.NewUniform(colTable), image.Point{}, draw.Src)

	project := func(p vec3) (int, int) {
		px := int((0.3 - p.y) / 0.6 * camWidth)
		py := horizon - int(p.z/0.4*float64(horizon))
		return px, py
	}
	for i, c := range e.cubes {
		x, y := project(c)
		fillSquare(img, x, y, 2, cubeColors[i%len(cubeColors)])
	}
	x, y := project(e.endEffector())
	fillSquare(img, x, y, 1, e.gripperColor())
	return img
}

func (e *Env) gripperColor() color.RGBA {
	if e.gripperClosed() {
		return colClosed
	}
	return colGripper
}

func fillSquare(img *image.RGBA, cx, cy, half int, c color.RGBA) {
	r := image.Rect(cx-half, cy-half, cx+half+1, cy+half+1).Intersect(img.Bounds())
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}
