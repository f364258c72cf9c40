package device

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Roots scanned for device nodes and their sysfs metadata.
var (
	devInputRoot = "/dev/input"
	sysInputRoot = "/sys/class/input"
)

// Kind classifies an input device node.
type Kind string

const (
	KindKeyboard Kind = "keyboard"
	KindJoystick Kind = "joystick"
)

// InputDevice is a discovered input device node.
type InputDevice struct {
	Kind Kind
	Path string
	Name string
}

// FindKeyboards returns the event nodes of attached keyboards, resolved
// through the by-path and by-id symlinks udev maintains.
func FindKeyboards() []string {
	var found []string
	seen := make(map[string]bool)
	for _, dir := range []string{"by-path", "by-id"} {
		links, _ := filepath.Glob(filepath.Join(devInputRoot, dir, "*-event-kbd"))
		sort.Strings(links)
		for _, link := range links {
			target, err := filepath.EvalSymlinks(link)
			if err != nil {
				continue
			}
			if !seen[target] {
				seen[target] = true
				found = append(found, target)
			}
		}
	}
	return found
}

// FindJoysticks returns the js nodes of attached joysticks.
func FindJoysticks() []string {
	found, _ := filepath.Glob(filepath.Join(devInputRoot, "js*"))
	sort.Strings(found)
	return found
}

// ListInputDevices returns keyboards and joysticks with their names.
func ListInputDevices() []InputDevice {
	var out []InputDevice
	for _, path := range FindKeyboards() {
		out = append(out, InputDevice{Kind: KindKeyboard, Path: path, Name: deviceName(filepath.Base(path))})
	}
	for _, path := range FindJoysticks() {
		out = append(out, InputDevice{Kind: KindJoystick, Path: path, Name: deviceName(filepath.Base(path))})
	}
	return out
}

// deviceName reads the kernel name of an input node such as "js0" or "event3".
func deviceName(node string) string {
	data, err := os.ReadFile(filepath.Join(sysInputRoot, node, "device", "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
