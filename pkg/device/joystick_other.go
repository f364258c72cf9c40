//go:build !linux

package device

import "fmt"

// OpenJoystick is only supported on Linux.
func OpenJoystick(path string) (Joystick, error) {
	return nil, fmt.Errorf("joystick: unsupported platform: %w", ErrNoDevice)
}
