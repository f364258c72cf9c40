package device

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// LinuxJoystick reads a /dev/input/js* device without blocking.
type LinuxJoystick struct {
	path  string
	name  string
	fd    int
	state jsState
	buf   [jsEventSize * 64]byte
}

// OpenJoystick opens the joystick at path, or the first discovered one when
// path is empty. The initial axis and button state is read before returning.
func OpenJoystick(path string) (Joystick, error) {
	if path == "" {
		found := FindJoysticks()
		if len(found) == 0 {
			return nil, ErrNoDevice
		}
		path = found[0]
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open joystick %s: %w", path, err)
	}
	js := &LinuxJoystick{
		path: path,
		name: deviceName(filepath.Base(path)),
		fd:   fd,
	}
	if js.name == "" {
		js.name = filepath.Base(path)
	}
	if err := js.Poll(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return js, nil
}

func (j *LinuxJoystick) Name() string { return j.name }

// Poll drains all queued events.
func (j *LinuxJoystick) Poll() error {
	for {
		n, err := unix.Read(j.fd, j.buf[:])
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read joystick %s: %w", j.path, err)
		}
		if n <= 0 {
			return nil
		}
		j.state.applyAll(j.buf[:n])
	}
}

func (j *LinuxJoystick) NumAxes() int { return len(j.state.axes) }

func (j *LinuxJoystick) Axis(i int) float64 { return j.state.axis(i) }

func (j *LinuxJoystick) NumButtons() int { return len(j.state.buttons) }

func (j *LinuxJoystick) Button(i int) bool { return j.state.button(i) }

func (j *LinuxJoystick) Close() error {
	if j.fd < 0 {
		return nil
	}
	err := unix.Close(j.fd)
	j.fd = -1
	return err
}
