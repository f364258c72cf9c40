// Package device reads raw input devices: keyboards through evdev or the
// terminal, and gamepads through the Linux joystick interface.
package device

import "errors"

// ErrNoDevice is returned when no matching input device could be opened.
var ErrNoDevice = errors.New("no input device found")

// Key names reported in KeyEvent.Key besides single letters.
const (
	KeySpace  = "space"
	KeyEscape = "esc"
)

// KeyEvent is a key press or release.
type KeyEvent struct {
	Key     string
	Pressed bool
}

// KeySource delivers key events until closed. The events channel may be
// closed by the source when the underlying device goes away.
type KeySource interface {
	Events() <-chan KeyEvent
	Close() error
}

// Joystick is a polled game controller. Poll drains pending device events
// and updates the axis and button state read by Axis and Button.
type Joystick interface {
	Name() string
	Poll() error
	NumAxes() int
	Axis(i int) float64
	NumButtons() int
	Button(i int) bool
	Close() error
}
