package device

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func inputEvent(tvSize int, typ, code uint16, value int32) []byte {
	rec := make([]byte, tvSize+8)
	binary.NativeEndian.PutUint16(rec[tvSize:], typ)
	binary.NativeEndian.PutUint16(rec[tvSize+2:], code)
	binary.NativeEndian.PutUint32(rec[tvSize+4:], uint32(value))
	return rec
}

func TestParseInputEvents(t *testing.T) {
	const tv = 16
	var buf []byte
	buf = append(buf, inputEvent(tv, evKey, 16, keyPress)...)   // q down
	buf = append(buf, inputEvent(tv, evKey, 16, keyRepeat)...)  // ignored
	buf = append(buf, inputEvent(tv, 0x00, 0, 0)...)            // EV_SYN
	buf = append(buf, inputEvent(tv, evKey, 99, keyPress)...)   // unmapped
	buf = append(buf, inputEvent(tv, evKey, 57, keyPress)...)   // space
	buf = append(buf, inputEvent(tv, evKey, 16, keyRelease)...) // q up
	buf = append(buf, 0x01, 0x02)                               // partial record

	got := parseInputEvents(buf, tv)
	want := []KeyEvent{
		{Key: "q", Pressed: true},
		{Key: KeySpace, Pressed: true},
		{Key: "q", Pressed: false},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func jsEvent(value int16, typ, num byte) []byte {
	rec := make([]byte, jsEventSize)
	binary.NativeEndian.PutUint32(rec[0:4], 1234)
	binary.NativeEndian.PutUint16(rec[4:6], uint16(value))
	rec[6] = typ
	rec[7] = num
	return rec
}

func TestJoystickState(t *testing.T) {
	var s jsState
	var buf []byte
	buf = append(buf, jsEvent(0, jsEventAxis|jsEventInit, 3)...)
	buf = append(buf, jsEvent(1, jsEventButton|jsEventInit, 9)...)
	buf = append(buf, jsEvent(32767, jsEventAxis, 0)...)
	buf = append(buf, jsEvent(-32768, jsEventAxis, 1)...)
	buf = append(buf, jsEvent(0, jsEventButton, 9)...)
	buf = append(buf, jsEvent(1, jsEventButton, 7)...)
	s.applyAll(buf)

	if len(s.axes) != 4 || len(s.buttons) != 10 {
		t.Fatalf("axes=%d buttons=%d, want 4 and 10", len(s.axes), len(s.buttons))
	}
	if s.axis(0) != 1 {
		t.Errorf("axis 0 = %v, want 1", s.axis(0))
	}
	if s.axis(1) != -1 {
		t.Errorf("axis 1 = %v, want -1", s.axis(1))
	}
	if s.button(9) {
		t.Error("button 9 should be released")
	}
	if !s.button(7) {
		t.Error("button 7 should be pressed")
	}
	if s.axis(12) != 0 || s.button(-1) {
		t.Error("out of range reads should be zero")
	}
}

func TestFindDevices(t *testing.T) {
	root := t.TempDir()
	sys := t.TempDir()
	oldDev, oldSys := devInputRoot, sysInputRoot
	devInputRoot, sysInputRoot = root, sys
	t.Cleanup(func() { devInputRoot, sysInputRoot = oldDev, oldSys })

	mustWrite := func(p, content string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(filepath.Join(root, "event3"), "")
	mustWrite(filepath.Join(root, "js0"), "")
	mustWrite(filepath.Join(sys, "js0", "device", "name"), "Xbox Wireless Controller\n")
	mustWrite(filepath.Join(sys, "event3", "device", "name"), "AT Translated Set 2 keyboard\n")

	for _, dir := range []string{"by-path", "by-id"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(filepath.Join(root, "event3"), filepath.Join(root, dir, "platform-i8042-serio-0-event-kbd")); err != nil {
			t.Fatal(err)
		}
	}

	kbds := FindKeyboards()
	if len(kbds) != 1 || filepath.Base(kbds[0]) != "event3" {
		t.Fatalf("FindKeyboards() = %v, want the single event3 node", kbds)
	}

	devs := ListInputDevices()
	if len(devs) != 2 {
		t.Fatalf("ListInputDevices() = %v", devs)
	}
	if devs[1].Kind != KindJoystick || devs[1].Name != "Xbox Wireless Controller" {
		t.Errorf("joystick = %+v", devs[1])
	}
	if devs[0].Name != "AT Translated Set 2 keyboard" {
		t.Errorf("keyboard name = %q", devs[0].Name)
	}
}

func nextEvent(t *testing.T, ch <-chan KeyEvent) KeyEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for key event")
		return KeyEvent{}
	}
}

func TestTerminalKeys(t *testing.T) {
	keys := NewTerminalKeys(30 * time.Millisecond)
	defer keys.Close()

	keys.Feed("w")
	keys.Feed("w") // repeat while held: no second press
	if ev := nextEvent(t, keys.Events()); ev != (KeyEvent{Key: "w", Pressed: true}) {
		t.Fatalf("first event = %+v", ev)
	}
	if ev := nextEvent(t, keys.Events()); ev != (KeyEvent{Key: "w", Pressed: false}) {
		t.Fatalf("second event = %+v", ev)
	}
}

func TestTerminalKeysCloseStopsReleases(t *testing.T) {
	keys := NewTerminalKeys(20 * time.Millisecond)
	keys.Feed("a")
	nextEvent(t, keys.Events())
	if err := keys.Close(); err != nil {
		t.Fatal(err)
	}
	keys.Feed("s")
	select {
	case ev := <-keys.Events():
		t.Fatalf("unexpected event after close: %+v", ev)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestHotplugEvent(t *testing.T) {
	if got := devnamePath("input/js0"); got != "/dev/input/js0" {
		t.Errorf("devnamePath = %q", got)
	}
	if got := devnamePath(""); got != "" {
		t.Errorf("devnamePath(empty) = %q", got)
	}
	if !(HotplugEvent{Device: "/dev/input/js1"}).IsGamepad() {
		t.Error("js node should be a gamepad")
	}
	if (HotplugEvent{Device: "/dev/input/event4"}).IsGamepad() {
		t.Error("event node should not be a gamepad")
	}
}
