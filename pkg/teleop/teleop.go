// Package teleop runs the control loop: it pulls actions from a controller,
// steps the environment, feeds the recorder and handles episode boundaries.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/armcollect/pkg/control"
	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/recording"
	"github.com/gwillem/armcollect/pkg/robot"
)

// DefaultInterval is the pause between iterations for controllers that do
// not pace themselves.
const DefaultInterval = 10 * time.Millisecond

// Phase is the state of the control loop.
type Phase int

const (
	Running Phase = iota
	Resetting
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Resetting:
		return "resetting"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is a snapshot of the loop published after every iteration.
type State struct {
	Phase       Phase
	Status      control.Status
	StatusText  string
	Action      robot.Joints
	Observation env.Observation
	// Steps counts environment steps over the whole session.
	Steps     int
	Timestamp time.Time
	Error     error
}

// Recorder receives the steps of a recorded session.
type Recorder interface {
	StartEpisode()
	RecordStep(obs env.Observation, action robot.Joints, reward float64)
	EndEpisode()
	Episodes() []recording.Episode
	TotalSteps() int
	Save() (string, error)
}

// Config holds configuration for the loop.
type Config struct {
	Env        env.Env
	Controller control.Controller
	// Recorder is optional; without it nothing is recorded.
	Recorder Recorder
	Method   control.Method
	// Interval defaults to DefaultInterval.
	Interval time.Duration
	Logger   *slog.Logger
}

// Result summarizes a finished session.
type Result struct {
	// Episodes is the episode counter when the loop stopped.
	Episodes int
	Steps    int
	// Recorded is the number of non-empty episodes the recorder kept.
	Recorded    int
	ArchivePath string
	// SaveErr is set when the archive could not be written.
	SaveErr     error
	Interrupted bool
}

// Loop drives one environment with one controller.
type Loop struct {
	env      env.Env
	ctrl     control.Controller
	rec      Recorder
	method   control.Method
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stateCh chan State

	status control.Status
	steps  int
	obs    env.Observation
}

// New creates a loop. The loop owns the controller and the environment and
// closes both when Run returns.
func New(cfg Config) (*Loop, error) {
	if cfg.Env == nil {
		return nil, errors.New("teleop: environment is required")
	}
	if cfg.Controller == nil {
		return nil, errors.New("teleop: controller is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Loop{
		env:      cfg.Env,
		ctrl:     cfg.Controller,
		rec:      cfg.Recorder,
		method:   cfg.Method,
		interval: cfg.Interval,
		logger: logging.NewComponentLogger(cfg.Logger, "loop").With(
			logging.String(logging.FieldEnv, cfg.Env.Name()),
			logging.String(logging.FieldControlMethod, string(cfg.Method)),
		),
		stateCh: make(chan State, 1),
	}, nil
}

// States returns a channel that receives state updates. Only the most
// recent state is kept when the reader falls behind.
func (l *Loop) States() <-chan State {
	return l.stateCh
}

// Run executes the loop until the controller asks to exit, ctx is cancelled
// or the environment fails. Cancellation is not an error: the session is
// shut down and saved as usual and Result.Interrupted is set.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return Result{}, errors.New("teleop: already running")
	}
	l.running = true
	l.mu.Unlock()

	l.status = control.Status{Episode: 1}
	var result Result

	obs, err := l.env.Reset(ctx)
	if err != nil {
		if ctx.Err() != nil {
			result.Interrupted = true
			err = nil
		} else {
			err = fmt.Errorf("reset environment: %w", err)
		}
		return l.shutdown(result), err
	}
	l.obs = obs
	if l.rec != nil {
		l.rec.StartEpisode()
	}
	l.logger.Info("control loop started", logging.Bool("recording", l.rec != nil))

	runErr := l.loop(ctx)
	if runErr != nil && ctx.Err() != nil {
		result.Interrupted = true
		runErr = nil
	}
	if runErr == nil && ctx.Err() != nil {
		result.Interrupted = true
	}
	if result.Interrupted {
		l.logger.Info("control loop interrupted")
	}
	return l.shutdown(result), runErr
}

func (l *Loop) loop(ctx context.Context) error {
	pacer, paced := l.ctrl.(control.Pacer)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.ctrl.ShouldExit() {
			l.logger.Info("controller requested exit")
			return nil
		}

		if l.ctrl.ShouldReset() {
			if adv, ok := l.ctrl.(control.EpisodeAdvancer); ok {
				adv.AdvanceEpisode()
				if l.ctrl.ShouldExit() {
					l.status.Episode++
					l.logger.Info("all episodes replayed")
					return nil
				}
			}
			if err := l.reset(ctx, "reset requested"); err != nil {
				return err
			}
		} else if err := l.step(ctx); err != nil {
			return err
		}

		var err error
		if paced {
			err = pacer.Tick(ctx)
		} else {
			err = control.Sleep(ctx, l.interval)
		}
		if err != nil {
			return nil
		}
	}
}

func (l *Loop) step(ctx context.Context) error {
	action := l.ctrl.Action(l.obs)
	res, err := l.env.Step(ctx, action)
	if err != nil {
		return fmt.Errorf("step environment: %w", err)
	}
	l.obs = res.Observation
	l.status.Reward = res.Reward
	l.steps++
	if l.rec != nil {
		l.rec.RecordStep(res.Observation, action, res.Reward)
	}
	l.publish(Running, action, nil)

	switch {
	case res.Terminated:
		return l.reset(ctx, "episode terminated")
	case res.Truncated:
		return l.reset(ctx, "episode truncated")
	}
	return nil
}

// reset closes the current episode and starts the next one.
func (l *Loop) reset(ctx context.Context, reason string) error {
	l.publish(Resetting, robot.Joints{}, nil)
	if l.rec != nil {
		l.rec.EndEpisode()
		l.rec.StartEpisode()
	}
	obs, err := l.env.Reset(ctx)
	if err != nil {
		return fmt.Errorf("reset environment: %w", err)
	}
	l.obs = obs
	l.status.Episode++
	l.logger.Info(reason, logging.Int(logging.FieldEpisode, l.status.Episode))
	l.publish(Running, robot.Joints{}, nil)
	return nil
}

func (l *Loop) publish(phase Phase, action robot.Joints, err error) {
	l.sendState(State{
		Phase:       phase,
		Status:      l.status,
		StatusText:  l.ctrl.StatusText(l.status),
		Action:      action,
		Observation: l.obs,
		Steps:       l.steps,
		Timestamp:   time.Now(),
		Error:       err,
	})
}

func (l *Loop) sendState(s State) {
	select {
	case l.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-l.stateCh:
		default:
		}
		select {
		case l.stateCh <- s:
		default:
		}
	}
}

// shutdown releases the controller and environment and saves the session.
func (l *Loop) shutdown(result Result) Result {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	if err := l.ctrl.Close(); err != nil {
		l.logger.Warn("failed to close controller", logging.Error(err))
	}
	if err := l.env.Close(); err != nil {
		l.logger.Warn("failed to close environment", logging.Error(err))
	}

	result.Episodes = l.status.Episode
	result.Steps = l.steps

	if l.rec != nil {
		l.rec.EndEpisode()
		result.Recorded = len(l.rec.Episodes())
		total := l.rec.TotalSteps()
		l.logger.Debug("finalizing data collection",
			logging.Int("episodes", result.Recorded),
			logging.Int(logging.FieldSteps, total),
		)
		if result.Recorded > 0 && total > 0 {
			path, err := l.rec.Save()
			if err != nil {
				result.SaveErr = err
			} else {
				result.ArchivePath = path
			}
		} else {
			l.logger.Warn("no data collected",
				logging.Int("episodes", result.Recorded),
				logging.Int(logging.FieldSteps, total),
			)
		}
	}

	l.publish(Stopped, robot.Joints{}, result.SaveErr)
	l.logger.Info("control loop stopped",
		logging.Int("episodes", result.Episodes),
		logging.Int(logging.FieldSteps, result.Steps),
	)
	return result
}
