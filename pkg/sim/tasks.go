// Package sim provides a kinematic stand-in for the low-cost arm gym tasks.
// Joints track the commanded targets with a bounded speed, cubes are moved by
// pushing or by closing the gripper around them. There is no dynamics model.
package sim

import (
	"math"

	"github.com/gwillem/armcollect/pkg/env"
)

type taskKind int

const (
	taskLift taskKind = iota
	taskReach
	taskPush
	taskPushLoop
	taskPickPlace
	taskStack
)

type taskInfo struct {
	name        string
	description string
	kind        taskKind
}

var tasks = []taskInfo{
	{"LiftCube-v0", "Lift a cube above threshold height", taskLift},
	{"ReachCube-v0", "Reach end-effector to cube position", taskReach},
	{"PushCube-v0", "Push cube to target region", taskPush},
	{"PushCubeLoop-v0", "Push cube between two target regions", taskPushLoop},
	{"PickPlaceCube-v0", "Pick cube and place at target", taskPickPlace},
	{"StackTwoCubes-v0", "Stack blue cube on top of red cube", taskStack},
}

// TaskNames returns the simulated task names in menu order.
func TaskNames() []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.name
	}
	return names
}

// Register adds every simulated task to reg.
func Register(reg *env.Registry) error {
	for i, t := range tasks {
		kind := t.kind
		name := t.name
		err := reg.Register(env.Spec{
			Name:        t.name,
			Description: t.description,
			Order:       i + 1,
			Factory: func(opts env.Options) (env.Env, error) {
				return New(name, kind, opts), nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const (
	liftHeight     = 0.10
	successRadius  = 0.03
	stackTolerance = 0.015
)

// reward scores the current state and reports task success.
func (e *Env) reward() (float64, bool) {
	ee := e.endEffector()
	red := e.cubes[0]
	switch e.kind {
	case taskReach:
		d := ee.dist(red)
		return -d, d < 0.02
	case taskLift:
		h := red.z - cubeHalf
		return h, h > liftHeight
	case taskPush:
		d := red.distXY(e.targets[0])
		return -d, d < successRadius
	case taskPushLoop:
		d := red.distXY(e.targets[e.activeTarget])
		if d < successRadius {
			e.activeTarget = 1 - e.activeTarget
		}
		return -d, false
	case taskPickPlace:
		d := red.dist(e.targets[0])
		return -d, d < successRadius && e.grasped < 0
	case taskStack:
		goal := red.add(vec3{z: 2 * cubeHalf})
		d := e.cubes[1].dist(goal)
		return -d, d < stackTolerance && e.grasped < 0
	}
	return 0, false
}

type vec3 struct{ x, y, z float64 }

func (a vec3) add(b vec3) vec3 { return vec3{a.x + b.x, a.y + b.y, a.z + b.z} }

func (a vec3) dist(b vec3) float64 {
	return math.Sqrt((a.x-b.x)*(a.x-b.x) + (a.y-b.y)*(a.y-b.y) + (a.z-b.z)*(a.z-b.z))
}

func (a vec3) distXY(b vec3) float64 {
	return math.Hypot(a.x-b.x, a.y-b.y)
}
