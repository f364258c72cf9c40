package device

import "encoding/binary"

// input_event type and value constants from linux/input.h.
const (
	evKey = 0x01

	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

var evdevKeyNames = map[uint16]string{
	1:  KeyEscape,
	16: "q",
	17: "w",
	18: "e",
	19: "r",
	20: "t",
	21: "y",
	30: "a",
	31: "s",
	32: "d",
	33: "f",
	34: "g",
	35: "h",
	57: KeySpace,
}

// decodeKeyEvent maps one input_event to a KeyEvent. Auto-repeat and keys
// without a name are ignored.
func decodeKeyEvent(typ, code uint16, value int32) (KeyEvent, bool) {
	if typ != evKey {
		return KeyEvent{}, false
	}
	name, ok := evdevKeyNames[code]
	if !ok {
		return KeyEvent{}, false
	}
	switch value {
	case keyPress:
		return KeyEvent{Key: name, Pressed: true}, true
	case keyRelease:
		return KeyEvent{Key: name, Pressed: false}, true
	default:
		return KeyEvent{}, false
	}
}

// parseInputEvents decodes a buffer of input_event records whose timeval
// header is tvSize bytes long. A trailing partial record is ignored.
func parseInputEvents(buf []byte, tvSize int) []KeyEvent {
	size := tvSize + 8
	var out []KeyEvent
	for off := 0; off+size <= len(buf); off += size {
		rec := buf[off+tvSize : off+size]
		typ := binary.NativeEndian.Uint16(rec[0:2])
		code := binary.NativeEndian.Uint16(rec[2:4])
		value := int32(binary.NativeEndian.Uint32(rec[4:8]))
		if ev, ok := decodeKeyEvent(typ, code, value); ok {
			out = append(out, ev)
		}
	}
	return out
}
