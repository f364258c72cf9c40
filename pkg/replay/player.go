package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/gwillem/armcollect/pkg/control"
	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/recording"
	"github.com/gwillem/armcollect/pkg/robot"
)

// BoundaryInterval paces the first step of an episode and the iteration
// after its last step, where no recorded interval exists.
const BoundaryInterval = 20 * time.Millisecond

// Player replays the episodes of a session in order and exits after the
// last one. It implements control.Controller, control.Pacer and
// control.EpisodeAdvancer.
type Player struct {
	episodes []recording.Episode
	speed    float64
	sleep    func(context.Context, time.Duration) error

	episode  int
	step     int
	recorded float64
}

var (
	_ control.Controller      = (*Player)(nil)
	_ control.Pacer           = (*Player)(nil)
	_ control.EpisodeAdvancer = (*Player)(nil)
)

// NewPlayer plays s back at speed times the recorded pace. A non-positive
// speed plays at the recorded pace.
func NewPlayer(s *recording.Session, speed float64) *Player {
	if speed <= 0 {
		speed = 1
	}
	return &Player{episodes: s.Episodes, speed: speed, sleep: control.Sleep}
}

// Action returns the recorded action at the cursor and advances it. Past
// the end of an episode the final action is repeated.
func (p *Player) Action(obs env.Observation) robot.Joints {
	if p.episode >= len(p.episodes) {
		if n := len(p.episodes); n > 0 {
			last := p.episodes[n-1].Actions
			return last[len(last)-1].Clamp()
		}
		return obs.ArmQpos.Clamp()
	}
	ep := &p.episodes[p.episode]
	if p.step >= ep.Len() {
		return ep.Actions[ep.Len()-1].Clamp()
	}
	action := ep.Actions[p.step]
	p.recorded = ep.Rewards[p.step]
	p.step++
	return action.Clamp()
}

// ShouldReset reports that the current episode has played out. It does not
// move the cursor; the loop calls AdvanceEpisode.
func (p *Player) ShouldReset() bool {
	return p.episode < len(p.episodes) && p.step >= p.episodes[p.episode].Len()
}

// AdvanceEpisode moves the cursor to the start of the next episode.
func (p *Player) AdvanceEpisode() {
	if p.episode < len(p.episodes) {
		p.episode++
	}
	p.step = 0
}

// ShouldExit reports that every episode has been played.
func (p *Player) ShouldExit() bool {
	return p.episode >= len(p.episodes)
}

// RecordedReward is the reward recorded for the last replayed step.
func (p *Player) RecordedReward() float64 { return p.recorded }

// Progress returns the zero-based episode and step cursor.
func (p *Player) Progress() (episode, step int) { return p.episode, p.step }

func (p *Player) StatusText(st control.Status) string {
	current := min(p.episode+1, len(p.episodes))
	return fmt.Sprintf("Episode: %d/%d  Reward: %+.3f  Recorded: %+.3f  Step: %d",
		current, len(p.episodes), st.Reward, p.recorded, p.step)
}

// Tick waits for the recorded interval between the previous and the next
// step, scaled by the playback speed.
func (p *Player) Tick(ctx context.Context) error {
	return p.sleep(ctx, p.nextDelay())
}

func (p *Player) nextDelay() time.Duration {
	if p.episode >= len(p.episodes) {
		return BoundaryInterval
	}
	ts := p.episodes[p.episode].Timestamps
	if p.step <= 0 || p.step >= len(ts) {
		return BoundaryInterval
	}
	dt := (ts[p.step] - ts[p.step-1]) / p.speed
	if dt <= 0 {
		return 0
	}
	return time.Duration(dt * float64(time.Second))
}

func (p *Player) Close() error { return nil }
