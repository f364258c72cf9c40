package device

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var timevalSize = int(unsafe.Sizeof(unix.Timeval{}))

// EvdevKeyboard streams key events from a /dev/input/event* keyboard.
type EvdevKeyboard struct {
	path      string
	f         *os.File
	events    chan KeyEvent
	done      chan struct{}
	closeOnce sync.Once
}

// OpenKeyboard opens the evdev keyboard at path, or the first discovered
// keyboard when path is empty.
func OpenKeyboard(path string) (KeySource, error) {
	if path == "" {
		found := FindKeyboards()
		if len(found) == 0 {
			return nil, ErrNoDevice
		}
		path = found[0]
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyboard %s: %w", path, err)
	}
	k := &EvdevKeyboard{
		path:   path,
		f:      f,
		events: make(chan KeyEvent, 64),
		done:   make(chan struct{}),
	}
	go k.readLoop()
	return k, nil
}

func (k *EvdevKeyboard) Events() <-chan KeyEvent { return k.events }

// Path returns the device node being read.
func (k *EvdevKeyboard) Path() string { return k.path }

func (k *EvdevKeyboard) readLoop() {
	defer close(k.events)
	buf := make([]byte, (timevalSize+8)*64)
	for {
		n, err := k.f.Read(buf)
		if err != nil {
			return
		}
		for _, ev := range parseInputEvents(buf[:n], timevalSize) {
			select {
			case k.events <- ev:
			case <-k.done:
				return
			}
		}
	}
}

// Close stops the reader and closes the device.
func (k *EvdevKeyboard) Close() error {
	var err error
	k.closeOnce.Do(func() {
		close(k.done)
		err = k.f.Close()
	})
	return err
}
