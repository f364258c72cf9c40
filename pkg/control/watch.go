package control

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/robot"
)

// WatchInterval paces random-action sessions.
const WatchInterval = 20 * time.Millisecond

// Watch samples random actions from the action space. It never asks for a
// reset or exit; the session ends when its context is cancelled.
type Watch struct {
	space env.Space
	rng   *rand.Rand
}

// NewWatch samples from space. A zero seed picks a random one.
func NewWatch(space env.Space, seed uint64) *Watch {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Watch{space: space, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (w *Watch) Action(env.Observation) robot.Joints {
	return w.space.Sample(w.rng)
}

func (w *Watch) ShouldReset() bool { return false }

func (w *Watch) ShouldExit() bool { return false }

func (w *Watch) StatusText(st Status) string {
	return st.String() + "  Mode: Random Actions"
}

func (w *Watch) Tick(ctx context.Context) error {
	return Sleep(ctx, WatchInterval)
}

func (w *Watch) Close() error { return nil }
