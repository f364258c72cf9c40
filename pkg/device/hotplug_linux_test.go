package device

import (
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestWatcherHandleEvent(t *testing.T) {
	var got []HotplugEvent
	w := NewWatcher(nil, func(ev HotplugEvent) { got = append(got, ev) })

	w.handleEvent(netlink.UEvent{
		Action: netlink.KObjAction("add"),
		KObj:   "/devices/virtual/input/input42/js0",
		Env:    map[string]string{"SUBSYSTEM": "input", "DEVNAME": "input/js0"},
	})
	w.handleEvent(netlink.UEvent{
		Action: netlink.KObjAction("add"),
		Env:    map[string]string{"SUBSYSTEM": "input"},
	})

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Action != "add" || got[0].Device != "/dev/input/js0" {
		t.Errorf("event = %+v", got[0])
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w := NewWatcher(nil, nil)
	w.Stop()
	if w.Running() {
		t.Error("watcher should not be running")
	}
}
