package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/armcollect/pkg/device"
	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/robot"
)

const leaderReadTimeout = 200 * time.Millisecond

// leaderArm is the subset of robot.Arm the leader controller reads.
type leaderArm interface {
	Disable(ctx context.Context) error
	ReadJoints(ctx context.Context) (robot.Joints, error)
	Close() error
}

// LeaderOptions configures a Leader.
type LeaderOptions struct {
	// Mirror inverts shoulder pan and wrist roll so the follower moves
	// like a mirror image of the leader.
	Mirror bool
	RateHz int
	Logger *slog.Logger

	// Keys, when set, marks episode boundaries: space requests a reset and
	// escape ends the session. The leader owns Keys and closes it.
	Keys device.KeySource
}

// Leader follows a passive leader arm moved by hand.
type Leader struct {
	arm    leaderArm
	mirror bool
	pacer  *ratePacer
	logger *slog.Logger

	last    robot.Joints
	haveArm bool
	readErr error

	keys           device.KeySource
	resetRequested atomic.Bool
	exitRequested  atomic.Bool
	stop           chan struct{}
	done           chan struct{}
	closeOnce      sync.Once
}

// OpenLeader opens the leader arm described by cfg and disables its torque.
func OpenLeader(cfg robot.ArmConfig, opts LeaderOptions) (*Leader, error) {
	arm, err := robot.NewArm(cfg)
	if err != nil {
		return nil, fmt.Errorf("leader arm: %w: %w", ErrDeviceUnavailable, err)
	}
	return newLeader(arm, opts), nil
}

func newLeader(arm leaderArm, opts LeaderOptions) *Leader {
	l := &Leader{
		arm:    arm,
		mirror: opts.Mirror,
		pacer:  newRatePacer(opts.RateHz),
		logger: logging.NewComponentLogger(opts.Logger, "leader"),
		keys:   opts.Keys,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if l.keys != nil {
		go l.listen()
	} else {
		close(l.done)
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaderReadTimeout)
	defer cancel()
	if err := arm.Disable(ctx); err != nil {
		l.logger.Warn("failed to disable leader torque", logging.Error(err))
	} else {
		l.logger.Info("leader arm: torque disabled (passive mode)")
	}
	return l
}

// Action reads the leader pose. When a read fails the previous pose is
// repeated, or the observed pose before any read succeeded.
func (l *Leader) Action(obs env.Observation) robot.Joints {
	ctx, cancel := context.WithTimeout(context.Background(), leaderReadTimeout)
	defer cancel()

	j, err := l.arm.ReadJoints(ctx)
	if err != nil {
		if l.readErr == nil {
			l.logger.Warn("leader read failed", logging.Error(err))
		}
		l.readErr = err
		if !l.haveArm {
			return obs.ArmQpos.Clamp()
		}
		return l.last
	}
	l.readErr = nil

	if l.mirror {
		j[0] = -j[0]
		j[4] = -j[4]
	}
	l.last = j.Clamp()
	l.haveArm = true
	return l.last
}

func (l *Leader) listen() {
	defer close(l.done)
	events := l.keys.Events()
	for {
		select {
		case <-l.stop:
			return
		case ev, ok := <-events:
			if !ok {
				l.logger.Warn("leader key input closed")
				return
			}
			if !ev.Pressed {
				continue
			}
			switch ev.Key {
			case device.KeySpace:
				l.resetRequested.Store(true)
			case device.KeyEscape:
				l.exitRequested.Store(true)
			}
		}
	}
}

// ShouldReset reports a space press once.
func (l *Leader) ShouldReset() bool {
	return l.resetRequested.CompareAndSwap(true, false)
}

func (l *Leader) ShouldExit() bool {
	return l.exitRequested.Load()
}

func (l *Leader) StatusText(st Status) string {
	if l.readErr != nil {
		return st.String() + "  Leader: read error"
	}
	return fmt.Sprintf("%s  Leader: %s", st, l.last)
}

func (l *Leader) Tick(ctx context.Context) error {
	return l.pacer.Tick(ctx)
}

// Close stops the key listener and releases the key source and the arm.
func (l *Leader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stop)
		if l.keys != nil {
			err = l.keys.Close()
		}
		<-l.done
		err = errors.Join(err, l.arm.Close())
	})
	return err
}
