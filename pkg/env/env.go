// Package env defines the environment contract the control loop drives:
// reset, step, an action space to sample from and a name used for archives.
package env

import (
	"context"
	"image"
	"math/rand/v2"

	"github.com/gwillem/armcollect/pkg/robot"
)

// Camera names an optional image stream in an observation.
type Camera string

const (
	CameraFront Camera = "front"
	CameraTop   Camera = "top"
)

// Observation is what the environment reports after a reset or step.
// A camera missing from Images means no image was captured for that step.
type Observation struct {
	ArmQpos robot.Joints
	Images  map[Camera]*image.RGBA
}

// Image returns the frame for cam, if any.
func (o Observation) Image(cam Camera) (*image.RGBA, bool) {
	img, ok := o.Images[cam]
	return img, ok && img != nil
}

// StepResult is the outcome of one environment step.
type StepResult struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        map[string]any
}

// Space is a box action space bounded per joint.
type Space struct {
	Low  robot.Joints
	High robot.Joints
}

// JointSpace is the action space of a joint-position controlled arm.
func JointSpace() Space {
	return Space{Low: robot.JointLimitsLow, High: robot.JointLimitsHigh}
}

// Sample draws a uniformly distributed action.
func (s Space) Sample(r *rand.Rand) robot.Joints {
	var j robot.Joints
	for i := range j {
		j[i] = s.Low[i] + r.Float64()*(s.High[i]-s.Low[i])
	}
	return j
}

// Contains reports whether a lies inside the space.
func (s Space) Contains(a robot.Joints) bool {
	for i := range a {
		if a[i] < s.Low[i] || a[i] > s.High[i] {
			return false
		}
	}
	return true
}

// Env is a steppable environment. Implementations are not safe for
// concurrent use; a single control loop owns them.
type Env interface {
	Name() string
	Reset(ctx context.Context) (Observation, error)
	Step(ctx context.Context, action robot.Joints) (StepResult, error)
	ActionSpace() Space
	Close() error
}
