package control

import (
	"context"
	"time"
)

const defaultRateHz = 50

// ratePacer limits a loop to a fixed rate. Each Tick waits for whatever is
// left of the period since the previous Tick returned.
type ratePacer struct {
	period time.Duration
	last   time.Time
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

func newRatePacer(hz int) *ratePacer {
	if hz <= 0 {
		hz = defaultRateHz
	}
	return &ratePacer{
		period: time.Second / time.Duration(hz),
		now:    time.Now,
		sleep:  Sleep,
	}
}

func (p *ratePacer) Tick(ctx context.Context) error {
	if !p.last.IsZero() {
		if wait := p.period - p.now().Sub(p.last); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return nil
}
