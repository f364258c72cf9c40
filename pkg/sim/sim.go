package sim

import (
	"context"
	"image"
	"math"
	"math/rand/v2"

	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/robot"
)

const (
	dt            = 0.02
	maxJointSpeed = 3.0 // rad/s

	baseHeight = 0.10
	link1      = 0.11
	link2      = 0.13
	link3      = 0.10

	cubeHalf      = 0.015
	graspRadius   = 0.04
	pushRadius    = 0.03
	gripperClosed = -0.8
)

// Env is a kinematic arm with one or two cubes on a table.
type Env struct {
	name    string
	kind    taskKind
	rng     *rand.Rand
	cameras bool

	maxSteps int
	steps    int

	qpos         robot.Joints
	cubes        []vec3
	targets      [2]vec3
	activeTarget int
	grasped      int
}

// New builds the task kind under name.
func New(name string, kind taskKind, opts env.Options) *Env {
	seed := uint64(opts.Seed)
	return &Env{
		name:     name,
		kind:     kind,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		cameras:  opts.Cameras,
		maxSteps: opts.MaxEpisodeSteps,
		grasped:  -1,
	}
}

// NewTask builds a registered task by name.
func NewTask(name string, opts env.Options) (*Env, bool) {
	for _, t := range tasks {
		if t.name == name {
			return New(t.name, t.kind, opts), true
		}
	}
	return nil, false
}

func (e *Env) Name() string { return e.name }

func (e *Env) ActionSpace() env.Space { return env.JointSpace() }

func (e *Env) Close() error { return nil }

// Reset puts the arm at its home pose and scatters the cubes.
func (e *Env) Reset(ctx context.Context) (env.Observation, error) {
	if err := ctx.Err(); err != nil {
		return env.Observation{}, err
	}
	e.steps = 0
	e.grasped = -1
	e.activeTarget = 0
	e.qpos = robot.Joints{}.Clamp()

	e.cubes = e.cubes[:0]
	e.cubes = append(e.cubes, e.spawn())
	if e.kind == taskStack {
		blue := e.spawn()
		for blue.distXY(e.cubes[0]) < 4*cubeHalf {
			blue = e.spawn()
		}
		e.cubes = append(e.cubes, blue)
	}
	e.targets[0] = e.spawn()
	e.targets[1] = e.spawn()
	return e.observe(), nil
}

// Step moves every joint toward action by at most one tick of travel.
func (e *Env) Step(ctx context.Context, action robot.Joints) (env.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return env.StepResult{}, err
	}
	target := action.Clamp()
	limit := maxJointSpeed * dt
	for i := range e.qpos {
		delta := target[i] - e.qpos[i]
		e.qpos[i] += math.Max(-limit, math.Min(limit, delta))
	}
	e.updateCubes()
	e.steps++

	reward, success := e.reward()
	return env.StepResult{
		Observation: e.observe(),
		Reward:      reward,
		Terminated:  success,
		Truncated:   e.maxSteps > 0 && e.steps >= e.maxSteps,
		Info:        map[string]any{"success": success, "grasped": e.grasped >= 0},
	}, nil
}

// endEffector computes the gripper position from the first four joints.
func (e *Env) endEffector() vec3 {
	pan, lift, elbow, wrist := e.qpos[0], e.qpos[1], e.qpos[2], e.qpos[3]
	a1 := math.Pi/2 - lift
	a2 := a1 - elbow - math.Pi/2
	a3 := a2 - wrist
	r := link1*math.Cos(a1) + link2*math.Cos(a2) + link3*math.Cos(a3)
	z := baseHeight + link1*math.Sin(a1) + link2*math.Sin(a2) + link3*math.Sin(a3)
	return vec3{x: r * math.Cos(pan), y: r * math.Sin(pan), z: math.Max(z, 0)}
}

func (e *Env) gripperClosed() bool { return e.qpos[5] < gripperClosed }

func (e *Env) updateCubes() {
	ee := e.endEffector()
	closed := e.gripperClosed()

	if e.grasped >= 0 {
		if closed {
			e.cubes[e.grasped] = ee
			return
		}
		e.drop(e.grasped)
		e.grasped = -1
	}

	for i, c := range e.cubes {
		if closed && ee.dist(c) < graspRadius {
			e.grasped = i
			e.cubes[i] = ee
			return
		}
		if ee.z < c.z+cubeHalf+0.01 {
			d := ee.distXY(c)
			if d < pushRadius && d > 1e-9 {
				scale := pushRadius / d
				e.cubes[i].x = ee.x + (c.x-ee.x)*scale
				e.cubes[i].y = ee.y + (c.y-ee.y)*scale
			}
		}
	}
}

// drop releases cube i onto the table or onto another cube below it.
func (e *Env) drop(i int) {
	c := e.cubes[i]
	c.z = cubeHalf
	for j, other := range e.cubes {
		if j != i && c.distXY(other) < 2*cubeHalf {
			c.z = other.z + 2*cubeHalf
		}
	}
	e.cubes[i] = c
}

func (e *Env) spawn() vec3 {
	r := 0.15 + e.rng.Float64()*0.10
	theta := (e.rng.Float64()*2 - 1) * math.Pi / 3
	return vec3{x: r * math.Cos(theta), y: r * math.Sin(theta), z: cubeHalf}
}

func (e *Env) observe() env.Observation {
	obs := env.Observation{ArmQpos: e.qpos}
	if e.cameras {
		obs.Images = map[env.Camera]*image.RGBA{
			env.CameraTop:   e.renderTop(),
			env.CameraFront: e.renderFront(),
		}
	}
	return obs
}
