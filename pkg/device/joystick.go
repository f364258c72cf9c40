package device

import "encoding/binary"

// js_event layout from linux/joystick.h.
const (
	jsEventSize   = 8
	jsEventButton = 0x01
	jsEventAxis   = 0x02
	jsEventInit   = 0x80
)

const axisScale = 32767.0

// jsState is the latest axis and button state of a joystick. Arrays grow
// as the driver reports higher axis or button numbers.
type jsState struct {
	axes    []float64
	buttons []bool
}

// apply folds one js_event record into the state.
func (s *jsState) apply(rec []byte) {
	if len(rec) < jsEventSize {
		return
	}
	value := int16(binary.NativeEndian.Uint16(rec[4:6]))
	typ := rec[6] &^ jsEventInit
	num := int(rec[7])

	switch typ {
	case jsEventAxis:
		for len(s.axes) <= num {
			s.axes = append(s.axes, 0)
		}
		v := float64(value) / axisScale
		if v < -1 {
			v = -1
		}
		s.axes[num] = v
	case jsEventButton:
		for len(s.buttons) <= num {
			s.buttons = append(s.buttons, false)
		}
		s.buttons[num] = value != 0
	}
}

// applyAll folds every complete record in buf.
func (s *jsState) applyAll(buf []byte) {
	for off := 0; off+jsEventSize <= len(buf); off += jsEventSize {
		s.apply(buf[off : off+jsEventSize])
	}
}

func (s *jsState) axis(i int) float64 {
	if i < 0 || i >= len(s.axes) {
		return 0
	}
	return s.axes[i]
}

func (s *jsState) button(i int) bool {
	if i < 0 || i >= len(s.buttons) {
		return false
	}
	return s.buttons[i]
}
