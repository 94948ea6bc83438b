// Package clock is the scheduler's only source of time. Production code runs
// on the wall clock; tests drive a clockwork fake clock by hand.
package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

type WakeReason int

const (
	TimerFired WakeReason = iota
	Interrupted
)

func (r WakeReason) String() string {
	if r == TimerFired {
		return "timer"
	}
	return "interrupted"
}

type Clock interface {
	Now() time.Time
	// SleepUntil blocks until instant is reached (TimerFired) or wake receives
	// or ctx ends (Interrupted). A zero instant sleeps until woken.
	SleepUntil(ctx context.Context, instant time.Time, wake <-chan struct{}) WakeReason
}

type clock struct {
	c clockwork.Clock
}

// New wraps a clockwork clock; nil means the real clock.
func New(c clockwork.Clock) Clock {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &clock{c: c}
}

// System returns the wall clock.
func System() Clock { return New(nil) }

func (k *clock) Now() time.Time { return k.c.Now() }

func (k *clock) SleepUntil(ctx context.Context, instant time.Time, wake <-chan struct{}) WakeReason {
	var fired <-chan time.Time
	if !instant.IsZero() {
		d := instant.Sub(k.c.Now())
		if d <= 0 {
			return TimerFired
		}
		t := k.c.NewTimer(d)
		defer t.Stop()
		fired = t.Chan()
	}

	select {
	case <-fired:
		return TimerFired
	case <-wake:
		return Interrupted
	case <-ctx.Done():
		return Interrupted
	}
}
