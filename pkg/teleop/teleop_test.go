package teleop

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/gwillem/armcollect/pkg/control"
	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/recording"
	"github.com/gwillem/armcollect/pkg/replay"
	"github.com/gwillem/armcollect/pkg/robot"
)

// fakeEnv counts calls and truncates episodes after truncateAt steps.
type fakeEnv struct {
	resets     int
	steps      int
	epSteps    int
	truncateAt int
	stepErr    error
	closed     bool
	actions    []robot.Joints
}

func (e *fakeEnv) Name() string { return "Fake-v0" }

func (e *fakeEnv) Reset(ctx context.Context) (env.Observation, error) {
	e.resets++
	e.epSteps = 0
	return env.Observation{}, ctx.Err()
}

func (e *fakeEnv) Step(_ context.Context, action robot.Joints) (env.StepResult, error) {
	if e.stepErr != nil {
		return env.StepResult{}, e.stepErr
	}
	e.steps++
	e.epSteps++
	e.actions = append(e.actions, action)
	return env.StepResult{
		Observation: env.Observation{ArmQpos: action},
		Reward:      float64(e.steps),
		Truncated:   e.truncateAt > 0 && e.epSteps >= e.truncateAt,
	}, nil
}

func (e *fakeEnv) ActionSpace() env.Space { return env.JointSpace() }

func (e *fakeEnv) Close() error { e.closed = true; return nil }

// scripted exits after exitAfter actions and requests resets after the
// listed action counts.
type scripted struct {
	actions   int
	exitAfter int
	resetAt   map[int]bool
	pending   bool
	onAction  func(n int)
	closed    int
}

func (s *scripted) Action(obs env.Observation) robot.Joints {
	s.actions++
	if s.resetAt[s.actions] {
		s.pending = true
	}
	if s.onAction != nil {
		s.onAction(s.actions)
	}
	return robot.Joints{float64(s.actions) / 100}
}

func (s *scripted) ShouldReset() bool {
	if s.pending {
		s.pending = false
		return true
	}
	return false
}

func (s *scripted) ShouldExit() bool {
	return s.exitAfter > 0 && s.actions >= s.exitAfter
}

func (s *scripted) StatusText(st control.Status) string { return st.String() }

func (s *scripted) Close() error { s.closed++; return nil }

// fakeRecorder tracks recorder calls without touching disk.
type fakeRecorder struct {
	open     []int
	episodes []recording.Episode
	saved    int
	saveErr  error
}

func (r *fakeRecorder) StartEpisode() { r.open = r.open[:0] }

func (r *fakeRecorder) RecordStep(_ env.Observation, _ robot.Joints, _ float64) {
	r.open = append(r.open, 1)
}

func (r *fakeRecorder) EndEpisode() {
	if len(r.open) > 0 {
		r.episodes = append(r.episodes, recording.Episode{Actions: make([]robot.Joints, len(r.open))})
	}
	r.open = nil
}

func (r *fakeRecorder) Episodes() []recording.Episode { return r.episodes }

func (r *fakeRecorder) TotalSteps() int {
	n := 0
	for i := range r.episodes {
		n += r.episodes[i].Len()
	}
	return n
}

func (r *fakeRecorder) Save() (string, error) {
	r.saved++
	if r.saveErr != nil {
		return "", r.saveErr
	}
	return "/data/fake.npz", nil
}

func newLoop(t *testing.T, cfg Config) *Loop {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = time.Microsecond
	}
	l, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func episodeLens(eps []recording.Episode) []int {
	out := make([]int, len(eps))
	for i := range eps {
		out[i] = eps[i].Len()
	}
	return out
}

func TestLoop_ExitAndSave(t *testing.T) {
	e := &fakeEnv{}
	ctrl := &scripted{exitAfter: 5, resetAt: map[int]bool{2: true}}
	rec := &fakeRecorder{}
	l := newLoop(t, Config{Env: e, Controller: ctrl, Recorder: rec, Method: control.MethodKeyboard})

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Interrupted {
		t.Error("exit by controller is not an interruption")
	}
	// the reset iteration does not step
	if e.steps != 5 || res.Steps != 5 {
		t.Errorf("steps env=%d result=%d, want 5", e.steps, res.Steps)
	}
	if e.resets != 2 || res.Episodes != 2 {
		t.Errorf("resets=%d episodes=%d, want 2 and 2", e.resets, res.Episodes)
	}
	if got := episodeLens(rec.episodes); !slices.Equal(got, []int{2, 3}) {
		t.Errorf("recorded episodes %v, want [2 3]", got)
	}
	if rec.saved != 1 || res.ArchivePath != "/data/fake.npz" || res.Recorded != 2 {
		t.Errorf("saved=%d result=%+v", rec.saved, res)
	}
	if ctrl.closed != 1 || !e.closed {
		t.Errorf("controller closed %d times, env closed %v", ctrl.closed, e.closed)
	}
}

func TestLoop_TruncationResets(t *testing.T) {
	e := &fakeEnv{truncateAt: 3}
	rec := &fakeRecorder{}
	l := newLoop(t, Config{Env: e, Controller: &scripted{exitAfter: 7}, Recorder: rec})

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := episodeLens(rec.episodes); !slices.Equal(got, []int{3, 3, 1}) {
		t.Errorf("recorded episodes %v, want [3 3 1]", got)
	}
	if res.Episodes != 3 || e.resets != 3 {
		t.Errorf("episodes=%d resets=%d, want 3 and 3", res.Episodes, e.resets)
	}
}

func TestLoop_EmptySessionNotSaved(t *testing.T) {
	rec := &fakeRecorder{}
	l := newLoop(t, Config{Env: &fakeEnv{}, Controller: exitNow{&scripted{}}, Recorder: rec})

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.saved != 0 || res.ArchivePath != "" {
		t.Errorf("empty session was saved: %+v", res)
	}
}

// exitNow asks to exit before the first action.
type exitNow struct{ *scripted }

func (exitNow) ShouldExit() bool { return true }

func TestLoop_SaveFailureIsReported(t *testing.T) {
	rec := &fakeRecorder{saveErr: recording.ErrPersist}
	l := newLoop(t, Config{Env: &fakeEnv{}, Controller: &scripted{exitAfter: 2}, Recorder: rec})

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("save failure must not fail the run: %v", err)
	}
	if !errors.Is(res.SaveErr, recording.ErrPersist) {
		t.Errorf("SaveErr = %v", res.SaveErr)
	}
}

func TestLoop_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := &fakeEnv{}
	rec := &fakeRecorder{}
	ctrl := &scripted{onAction: func(n int) {
		if n == 4 {
			cancel()
		}
	}}
	l := newLoop(t, Config{Env: e, Controller: ctrl, Recorder: rec})

	res, err := l.Run(ctx)
	if err != nil {
		t.Fatalf("interruption should not be an error: %v", err)
	}
	if !res.Interrupted {
		t.Error("Interrupted not set")
	}
	if rec.saved != 1 || res.Steps != 4 {
		t.Errorf("saved=%d steps=%d, want 1 and 4", rec.saved, res.Steps)
	}
	if ctrl.closed != 1 || !e.closed {
		t.Error("shutdown skipped after interruption")
	}
}

func TestLoop_StepError(t *testing.T) {
	boom := errors.New("servo timeout")
	e := &fakeEnv{stepErr: boom}
	ctrl := &scripted{}
	l := newLoop(t, Config{Env: e, Controller: ctrl})

	_, err := l.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if ctrl.closed != 1 || !e.closed {
		t.Error("controller and environment must be closed after a failure")
	}
}

func TestLoop_ReplayExhaustion(t *testing.T) {
	s := &recording.Session{EnvName: "Fake-v0", ControlMethod: "keyboard"}
	for _, n := range []int{3, 2} {
		var ep recording.Episode
		for i := 0; i < n; i++ {
			ep.Observations = append(ep.Observations, robot.Joints{})
			ep.Actions = append(ep.Actions, robot.Joints{float64(len(s.Episodes)), float64(i) / 10})
			ep.Rewards = append(ep.Rewards, 1)
			ep.Timestamps = append(ep.Timestamps, float64(i)*0.001)
		}
		s.Episodes = append(s.Episodes, ep)
	}
	player := replay.NewPlayer(s, 100)
	e := &fakeEnv{}
	l := newLoop(t, Config{Env: e, Controller: player, Method: control.MethodReplay})

	res, err := l.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Episodes != 3 {
		t.Errorf("episode counter = %d, want 3", res.Episodes)
	}
	if e.steps != 5 {
		t.Errorf("env steps = %d, want 5", e.steps)
	}
	// one reset at start, one between the episodes
	if e.resets != 2 {
		t.Errorf("env resets = %d, want 2", e.resets)
	}
	if e.actions[3] != s.Episodes[1].Actions[0] {
		t.Errorf("first action of episode 2 = %v", e.actions[3])
	}
}

func TestLoop_RealRecorder(t *testing.T) {
	dir := t.TempDir()
	rec := recording.NewRecorder(recording.RecorderConfig{EnvName: "Fake-v0", ControlMethod: "keyboard", Dir: dir})
	l := newLoop(t, Config{Env: &fakeEnv{}, Controller: &scripted{exitAfter: 5}, Recorder: rec})

	res, err := l.Run(context.Background())
	if err != nil || res.SaveErr != nil {
		t.Fatalf("Run: %v / %v", err, res.SaveErr)
	}
	if _, err := os.Stat(res.ArchivePath); err != nil {
		t.Fatalf("archive not written: %v", err)
	}
	s, err := recording.ReadArchive(res.ArchivePath, recording.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Episodes) != 1 || s.Episodes[0].Len() != 5 {
		t.Fatalf("archive episodes = %v", episodeLens(s.Episodes))
	}
	// observations are recorded after the step
	if s.Episodes[0].Observations[0] != s.Episodes[0].Actions[0] {
		t.Errorf("observation %v does not follow action %v", s.Episodes[0].Observations[0], s.Episodes[0].Actions[0])
	}
}

func TestLoop_States(t *testing.T) {
	l := newLoop(t, Config{Env: &fakeEnv{}, Controller: &scripted{exitAfter: 3}})
	if _, err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case st := <-l.States():
		if st.Phase != Stopped || st.Steps != 3 || st.StatusText == "" {
			t.Errorf("last state = %+v", st)
		}
	default:
		t.Fatal("no state published")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Controller: &scripted{}}); err == nil {
		t.Error("missing env accepted")
	}
	if _, err := New(Config{Env: &fakeEnv{}}); err == nil {
		t.Error("missing controller accepted")
	}
}
