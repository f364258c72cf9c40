package env

import (
	"context"
	"fmt"
	"time"

	"github.com/gwillem/armcollect/pkg/robot"
)

// FollowerName is the registry name of the hardware follower arm.
const FollowerName = "Follower-v0"

// followerArm is the subset of robot.Arm the follower environment drives.
type followerArm interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	ReadJoints(ctx context.Context) (robot.Joints, error)
	WriteJoints(ctx context.Context, target robot.Joints) error
	Close() error
}

// Follower drives a physical follower arm as an environment. It has no task,
// so rewards are always zero and episodes only end by truncation.
type Follower struct {
	arm      followerArm
	home     robot.Joints
	settle   time.Duration
	maxSteps int
	steps    int
}

// NewFollower opens the follower arm described by cfg.
func NewFollower(cfg robot.ArmConfig, opts Options) (*Follower, error) {
	arm, err := robot.NewArm(cfg)
	if err != nil {
		return nil, fmt.Errorf("open follower arm: %w", err)
	}
	return newFollower(arm, opts), nil
}

func newFollower(arm followerArm, opts Options) *Follower {
	return &Follower{
		arm:      arm,
		home:     robot.Joints{}.Clamp(),
		settle:   time.Second,
		maxSteps: opts.MaxEpisodeSteps,
	}
}

// FollowerSpec registers the follower arm configured in cfg.
func FollowerSpec(cfg robot.ArmConfig) Spec {
	return Spec{
		Name:        FollowerName,
		Description: "Drive the physical follower arm",
		Order:       100,
		Factory: func(opts Options) (Env, error) {
			return NewFollower(cfg, opts)
		},
	}
}

func (f *Follower) Name() string { return FollowerName }

func (f *Follower) ActionSpace() Space { return JointSpace() }

// Reset enables torque, returns the arm to its home pose and reports the pose reached.
func (f *Follower) Reset(ctx context.Context) (Observation, error) {
	f.steps = 0
	if err := f.arm.Enable(ctx); err != nil {
		return Observation{}, fmt.Errorf("enable follower: %w", err)
	}
	if err := f.arm.WriteJoints(ctx, f.home); err != nil {
		return Observation{}, err
	}
	if f.settle > 0 {
		select {
		case <-ctx.Done():
			return Observation{}, ctx.Err()
		case <-time.After(f.settle):
		}
	}
	qpos, err := f.arm.ReadJoints(ctx)
	if err != nil {
		return Observation{}, err
	}
	return Observation{ArmQpos: qpos}, nil
}

// Step commands action and reads back the pose.
func (f *Follower) Step(ctx context.Context, action robot.Joints) (StepResult, error) {
	if err := f.arm.WriteJoints(ctx, action); err != nil {
		return StepResult{}, err
	}
	qpos, err := f.arm.ReadJoints(ctx)
	if err != nil {
		return StepResult{}, err
	}
	f.steps++
	return StepResult{
		Observation: Observation{ArmQpos: qpos},
		Truncated:   f.maxSteps > 0 && f.steps >= f.maxSteps,
	}, nil
}

// Close disables torque and releases the bus.
func (f *Follower) Close() error {
	disableErr := f.arm.Disable(context.Background())
	closeErr := f.arm.Close()
	if disableErr != nil {
		return fmt.Errorf("disable follower: %w", disableErr)
	}
	return closeErr
}
