package sim

import (
	"context"
	"testing"

	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/robot"
)

func TestRegister(t *testing.T) {
	reg := env.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	specs := reg.Specs()
	if len(specs) != len(tasks) {
		t.Fatalf("registered %d tasks, want %d", len(specs), len(tasks))
	}
	if specs[0].Name != "LiftCube-v0" {
		t.Errorf("first task = %s, want LiftCube-v0", specs[0].Name)
	}
	e, err := reg.Make("StackTwoCubes-v0", env.Options{})
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if e.Name() != "StackTwoCubes-v0" {
		t.Errorf("Name() = %s", e.Name())
	}
}

func TestStep_BoundedJointSpeed(t *testing.T) {
	e, _ := NewTask("ReachCube-v0", env.Options{Seed: 1})
	ctx := context.Background()
	obs, err := e.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}

	res, err := e.Step(ctx, robot.JointLimitsHigh)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	limit := maxJointSpeed*dt + 1e-12
	for i := range obs.ArmQpos {
		moved := res.Observation.ArmQpos[i] - obs.ArmQpos[i]
		if moved < 0 || moved > limit {
			t.Errorf("joint %d moved %f, want within [0, %f]", i, moved, limit)
		}
	}
	if !res.Observation.ArmQpos.InLimits() {
		t.Errorf("pose out of limits: %v", res.Observation.ArmQpos)
	}
}

func TestStep_Truncation(t *testing.T) {
	e, _ := NewTask("LiftCube-v0", env.Options{MaxEpisodeSteps: 3})
	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	for i := 1; i <= 3; i++ {
		res, err := e.Step(ctx, robot.Joints{})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if res.Truncated != (i == 3) {
			t.Errorf("step %d: Truncated = %v", i, res.Truncated)
		}
	}
}

func TestReset_Deterministic(t *testing.T) {
	a, _ := NewTask("PushCube-v0", env.Options{Seed: 42})
	b, _ := NewTask("PushCube-v0", env.Options{Seed: 42})
	ctx := context.Background()
	if _, err := a.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if a.cubes[0] != b.cubes[0] || a.targets != b.targets {
		t.Errorf("same seed produced different scenes: %v vs %v", a.cubes, b.cubes)
	}
}

func TestReach_RewardImprovesTowardCube(t *testing.T) {
	e, _ := NewTask("ReachCube-v0", env.Options{Seed: 7})
	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	before, _ := e.reward()
	// place the cube right under the current end effector
	ee := e.endEffector()
	e.cubes[0] = vec3{x: ee.x, y: ee.y, z: ee.z - 0.005}
	after, success := e.reward()
	if after <= before {
		t.Errorf("reward did not improve: before %f after %f", before, after)
	}
	if !success {
		t.Error("reach should succeed within 2cm")
	}
}

func TestGraspCarriesCube(t *testing.T) {
	e, _ := NewTask("LiftCube-v0", env.Options{Seed: 3})
	ctx := context.Background()
	if _, err := e.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	e.cubes[0] = e.endEffector()
	e.qpos[5] = robot.JointLimitsLow[5]
	e.updateCubes()
	if e.grasped != 0 {
		t.Fatalf("grasped = %d, want 0", e.grasped)
	}

	e.qpos[1] -= 0.3
	e.updateCubes()
	if e.cubes[0] != e.endEffector() {
		t.Error("grasped cube should follow the end effector")
	}

	e.qpos[5] = 0
	e.updateCubes()
	if e.grasped != -1 || e.cubes[0].z != cubeHalf {
		t.Errorf("released cube should rest on the table, got %+v", e.cubes[0])
	}
}

func TestCameras(t *testing.T) {
	e, _ := NewTask("PushCubeLoop-v0", env.Options{Cameras: true})
	obs, err := e.Reset(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, cam := range []env.Camera{env.CameraFront, env.CameraTop} {
		img, ok := obs.Image(cam)
		if !ok {
			t.Fatalf("missing %s image", cam)
		}
		if img.Bounds().Dx() != camWidth || img.Bounds().Dy() != camHeight {
			t.Errorf("%s image size = %v", cam, img.Bounds())
		}
	}

	plain, _ := NewTask("PushCubeLoop-v0", env.Options{})
	obs, _ = plain.Reset(context.Background())
	if _, ok := obs.Image(env.CameraTop); ok {
		t.Error("cameras disabled but top image present")
	}
}
