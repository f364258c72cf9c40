package device

import (
	"path"
	"strings"
)

// HotplugEvent reports an input device being attached or removed.
type HotplugEvent struct {
	Action string
	Device string
}

// IsGamepad reports whether the event concerns a joystick node.
func (e HotplugEvent) IsGamepad() bool {
	return strings.HasPrefix(path.Base(e.Device), "js")
}

// devnamePath turns a udev DEVNAME such as "input/js0" into a device path.
func devnamePath(devname string) string {
	if devname == "" || strings.HasPrefix(devname, "/") {
		return devname
	}
	return "/dev/" + devname
}
