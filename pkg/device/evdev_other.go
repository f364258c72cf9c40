//go:build !linux

package device

import "fmt"

// OpenKeyboard is only supported on Linux.
func OpenKeyboard(path string) (KeySource, error) {
	return nil, fmt.Errorf("evdev keyboard: unsupported platform: %w", ErrNoDevice)
}
