package env

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/gwillem/armcollect/pkg/robot"
)

func TestJointSpace_SampleInBounds(t *testing.T) {
	space := JointSpace()
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		a := space.Sample(r)
		if !space.Contains(a) {
			t.Fatalf("sample %d out of bounds: %v", i, a)
		}
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	mk := func(Options) (Env, error) { return nil, nil }
	if err := reg.Register(Spec{Name: "B", Order: 2, Factory: mk}); err != nil {
		t.Fatalf("register B: %v", err)
	}
	if err := reg.Register(Spec{Name: "A", Order: 1, Factory: mk}); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if err := reg.Register(Spec{Name: "A", Factory: mk}); err == nil {
		t.Error("duplicate register should fail")
	}
	if err := reg.Register(Spec{Name: "C"}); err == nil {
		t.Error("register without factory should fail")
	}

	specs := reg.Specs()
	if len(specs) != 2 || specs[0].Name != "A" || specs[1].Name != "B" {
		t.Errorf("Specs() order = %v", specs)
	}
	if _, err := reg.Make("missing", Options{}); err == nil {
		t.Error("Make(missing) should fail")
	}
}

type fakeArm struct {
	pose     robot.Joints
	enabled  bool
	closed   bool
	writeErr error
}

func (a *fakeArm) Enable(context.Context) error  { a.enabled = true; return nil }
func (a *fakeArm) Disable(context.Context) error { a.enabled = false; return nil }
func (a *fakeArm) Close() error                  { a.closed = true; return nil }

func (a *fakeArm) ReadJoints(context.Context) (robot.Joints, error) { return a.pose, nil }

func (a *fakeArm) WriteJoints(_ context.Context, target robot.Joints) error {
	if a.writeErr != nil {
		return a.writeErr
	}
	a.pose = target.Clamp()
	return nil
}

func TestFollower_StepAndTruncate(t *testing.T) {
	arm := &fakeArm{pose: robot.Joints{1, 1, 1, 1, 1, -1}}
	f := newFollower(arm, Options{MaxEpisodeSteps: 2})
	f.settle = 0
	ctx := context.Background()

	obs, err := f.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !arm.enabled {
		t.Error("Reset should enable torque")
	}
	if obs.ArmQpos != f.home {
		t.Errorf("Reset pose = %v, want home %v", obs.ArmQpos, f.home)
	}

	target := robot.Joints{0.5, 0.2, 0.1, 0, 0, -0.5}
	res, err := f.Step(ctx, target)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Observation.ArmQpos != target || res.Truncated {
		t.Errorf("first step = %+v", res)
	}
	res, err = f.Step(ctx, target)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.Truncated {
		t.Error("second step should truncate at MaxEpisodeSteps")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if arm.enabled || !arm.closed {
		t.Error("Close should disable torque and close the bus")
	}
}

func TestFollower_StepError(t *testing.T) {
	boom := errors.New("bus timeout")
	f := newFollower(&fakeArm{writeErr: boom}, Options{})
	if _, err := f.Step(context.Background(), robot.Joints{}); !errors.Is(err, boom) {
		t.Errorf("Step error = %v, want %v", err, boom)
	}
}
