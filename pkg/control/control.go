// Package control turns operator input, random sampling or a leader arm into
// joint targets for the control loop.
//
// Every Controller clamps the targets it produces to the joint limits. The
// loop owns the episode counter and last reward and hands them to StatusText.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/robot"
)

// ErrDeviceUnavailable is returned when a controller's input device cannot be opened.
var ErrDeviceUnavailable = errors.New("input device unavailable")

// Method identifies a control method. It is stored in recording archives.
type Method string

const (
	MethodKeyboard Method = "keyboard"
	MethodGamepad  Method = "gamepad"
	MethodLeader   Method = "leader"
	MethodReplay   Method = "replay"
	MethodWatch    Method = "watch"
)

// Records reports whether sessions driven by m are worth recording.
// Replays and random actions are not demonstrations.
func (m Method) Records() bool {
	switch m {
	case MethodKeyboard, MethodGamepad, MethodLeader:
		return true
	}
	return false
}

// Status is the loop-owned progress a controller reports on.
type Status struct {
	Episode int
	Reward  float64
}

func (s Status) String() string {
	return fmt.Sprintf("Episode: %d  Reward: %+.3f", s.Episode, s.Reward)
}

// Controller produces one action per control loop iteration.
type Controller interface {
	Action(obs env.Observation) robot.Joints
	// ShouldReset reports a pending reset request. Manual controllers clear
	// the request when they report it.
	ShouldReset() bool
	ShouldExit() bool
	StatusText(st Status) string
	Close() error
}

// Pacer is implemented by controllers that pace the loop themselves.
type Pacer interface {
	Tick(ctx context.Context) error
}

// EpisodeAdvancer is implemented by controllers that walk a fixed sequence
// of episodes. The loop calls AdvanceEpisode after ShouldReset returns true.
type EpisodeAdvancer interface {
	AdvanceEpisode()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
