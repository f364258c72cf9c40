package device

import (
	"sync"
	"time"
)

// DefaultKeyHold is how long a terminal key counts as held after its last
// press or auto-repeat.
const DefaultKeyHold = 150 * time.Millisecond

// TerminalKeys turns terminal key presses into press/release events.
// Terminals report no releases, so each key is released once no repeat
// arrived within the hold duration.
type TerminalKeys struct {
	hold   time.Duration
	events chan KeyEvent
	done   chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewTerminalKeys creates a terminal key source. A non-positive hold uses
// DefaultKeyHold.
func NewTerminalKeys(hold time.Duration) *TerminalKeys {
	if hold <= 0 {
		hold = DefaultKeyHold
	}
	return &TerminalKeys{
		hold:   hold,
		events: make(chan KeyEvent, 64),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
}

func (t *TerminalKeys) Events() <-chan KeyEvent { return t.events }

// Feed reports a key press from the terminal.
func (t *TerminalKeys) Feed(key string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if timer, held := t.timers[key]; held {
		timer.Reset(t.hold)
		t.mu.Unlock()
		return
	}
	t.timers[key] = time.AfterFunc(t.hold, func() { t.release(key) })
	t.mu.Unlock()

	t.send(KeyEvent{Key: key, Pressed: true})
}

func (t *TerminalKeys) release(key string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	t.send(KeyEvent{Key: key, Pressed: false})
}

func (t *TerminalKeys) send(ev KeyEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// Close stops pending releases. The events channel is left open.
func (t *TerminalKeys) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, timer := range t.timers {
		timer.Stop()
	}
	close(t.done)
	return nil
}
