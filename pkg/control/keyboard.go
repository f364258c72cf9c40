package control

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gwillem/armcollect/pkg/device"
	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/robot"
)

// KeyboardDelta is the joint increment per iteration while a key is held.
const KeyboardDelta = 0.05

type keyBinding struct {
	key   string
	joint int
	sign  float64
}

// Key pairs per joint: the first key raises the joint, the second lowers it.
var keyBindings = []keyBinding{
	{"q", 0, +1}, {"a", 0, -1},
	{"w", 1, +1}, {"s", 1, -1},
	{"e", 2, +1}, {"d", 2, -1},
	{"r", 3, +1}, {"f", 3, -1},
	{"t", 4, +1}, {"g", 4, -1},
	{"y", 5, +1}, {"h", 5, -1},
}

// Keyboard integrates held keys into a joint target. Key events arrive on a
// listener goroutine; the control loop only reads the held set and flags.
type Keyboard struct {
	src    device.KeySource
	logger *slog.Logger
	delta  float64

	mu   sync.Mutex
	held map[string]bool

	resetRequested atomic.Bool
	exitRequested  atomic.Bool

	// loop goroutine only
	target robot.Joints
	seeded bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// OpenKeyboard opens an evdev keyboard (the first one found when path is
// empty) and starts listening to it.
func OpenKeyboard(path string, logger *slog.Logger) (*Keyboard, error) {
	src, err := device.OpenKeyboard(path)
	if err != nil {
		return nil, fmt.Errorf("keyboard: %w: %w", ErrDeviceUnavailable, err)
	}
	return NewKeyboard(src, logger)
}

// NewKeyboard starts listening to src. The keyboard owns src and closes it.
func NewKeyboard(src device.KeySource, logger *slog.Logger) (*Keyboard, error) {
	if src == nil {
		return nil, fmt.Errorf("keyboard: %w", ErrDeviceUnavailable)
	}
	k := &Keyboard{
		src:    src,
		logger: logging.NewComponentLogger(logger, "keyboard"),
		delta:  KeyboardDelta,
		held:   make(map[string]bool),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go k.listen()
	return k, nil
}

func (k *Keyboard) listen() {
	defer close(k.done)
	events := k.src.Events()
	for {
		select {
		case <-k.stop:
			return
		case ev, ok := <-events:
			if !ok {
				k.logger.Warn("keyboard input closed")
				return
			}
			k.handle(ev)
		}
	}
}

func (k *Keyboard) handle(ev device.KeyEvent) {
	key := ev.Key
	if len(key) == 1 {
		key = strings.ToLower(key)
	}
	if ev.Pressed {
		switch key {
		case device.KeySpace:
			k.resetRequested.Store(true)
			return
		case device.KeyEscape:
			k.exitRequested.Store(true)
			return
		}
	}
	k.mu.Lock()
	if ev.Pressed {
		k.held[key] = true
	} else {
		delete(k.held, key)
	}
	k.mu.Unlock()
}

// Action adds the held-key increments to the previous target. The first
// call after construction or a reset starts from the observed pose.
func (k *Keyboard) Action(obs env.Observation) robot.Joints {
	if !k.seeded {
		k.target = obs.ArmQpos
		k.seeded = true
	}
	k.mu.Lock()
	for _, b := range keyBindings {
		if k.held[b.key] {
			k.target[b.joint] += b.sign * k.delta
		}
	}
	k.mu.Unlock()
	k.target = k.target.Clamp()
	return k.target
}

// ShouldReset reports a space press once and forgets the current target.
func (k *Keyboard) ShouldReset() bool {
	if k.resetRequested.CompareAndSwap(true, false) {
		k.seeded = false
		return true
	}
	return false
}

func (k *Keyboard) ShouldExit() bool {
	return k.exitRequested.Load()
}

func (k *Keyboard) StatusText(st Status) string {
	var j robot.Joints
	if k.seeded {
		j = k.target
	}
	return fmt.Sprintf("%s  Joints: [%.2f, %.2f, %.2f]", st, j[0], j[1], j[2])
}

// Close stops the listener and closes the key source.
func (k *Keyboard) Close() error {
	var err error
	k.closeOnce.Do(func() {
		close(k.stop)
		err = k.src.Close()
		<-k.done
	})
	return err
}
