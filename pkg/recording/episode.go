// Package recording collects demonstration episodes and stores them as
// compressed .npz archives that numpy can load directly.
package recording

import (
	"errors"
	"image"
	"time"

	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/robot"
)

var (
	// ErrNoEpisodes is returned by Save when nothing was recorded.
	ErrNoEpisodes = errors.New("no episodes to save")
	// ErrPersist wraps I/O failures while writing an archive.
	ErrPersist = errors.New("persist recording")
	// ErrMalformedArchive wraps archives that cannot be decoded.
	ErrMalformedArchive = errors.New("malformed archive")
)

// TimestampLayout formats the session timestamp stored in archives and
// their file names.
const TimestampLayout = "20060102_150405"

// Session is one run of collected episodes for a single environment and
// control method.
type Session struct {
	ID            string
	EnvName       string
	ControlMethod string
	// Timestamp is the archive timestamp in TimestampLayout.
	Timestamp string
	CreatedAt time.Time
	Episodes  []Episode
}

// TotalSteps sums the step counts of all episodes.
func (s *Session) TotalSteps() int {
	n := 0
	for i := range s.Episodes {
		n += s.Episodes[i].Len()
	}
	return n
}

// Episode holds the parallel per-step sequences of one episode. Images has
// an entry for a camera only when every step carries a frame for it.
type Episode struct {
	Observations []robot.Joints
	Actions      []robot.Joints
	Rewards      []float64
	Timestamps   []float64
	Images       map[env.Camera]*ImageStack
}

// Len is the number of recorded steps.
func (e *Episode) Len() int { return len(e.Actions) }

// Duration is the episode-relative time of the last step.
func (e *Episode) Duration() time.Duration {
	if len(e.Timestamps) == 0 {
		return 0
	}
	return time.Duration(e.Timestamps[len(e.Timestamps)-1] * float64(time.Second))
}

// ImageStack is a sequence of same-sized RGB frames stored step-major,
// matching a numpy array of shape (n, height, width, 3).
type ImageStack struct {
	Height int
	Width  int
	Pix    []uint8
}

func newImageStack(bounds image.Rectangle) *ImageStack {
	return &ImageStack{Height: bounds.Dy(), Width: bounds.Dx()}
}

func (s *ImageStack) frameSize() int { return s.Height * s.Width * 3 }

// Len is the number of frames.
func (s *ImageStack) Len() int {
	if s.frameSize() == 0 {
		return 0
	}
	return len(s.Pix) / s.frameSize()
}

// fits reports whether img has the stack's frame size.
func (s *ImageStack) fits(img *image.RGBA) bool {
	b := img.Bounds()
	return b.Dx() == s.Width && b.Dy() == s.Height
}

// appendRGBA drops the alpha channel of img and appends it as a frame.
func (s *ImageStack) appendRGBA(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			s.Pix = append(s.Pix, row[4*x], row[4*x+1], row[4*x+2])
		}
	}
}

func (s *ImageStack) appendBlack() {
	s.Pix = append(s.Pix, make([]uint8, s.frameSize())...)
}

// Frame returns frame i as an opaque RGBA image.
func (s *ImageStack) Frame(i int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	if i < 0 || i >= s.Len() {
		return img
	}
	src := s.Pix[i*s.frameSize():]
	for p := 0; p < s.Width*s.Height; p++ {
		img.Pix[4*p] = src[3*p]
		img.Pix[4*p+1] = src[3*p+1]
		img.Pix[4*p+2] = src[3*p+2]
		img.Pix[4*p+3] = 0xff
	}
	return img
}
