package trigger

import (
	"time"

	"github.com/robfig/cron/v3"
)

// History is the part of a task's run state a trigger depends on.
// Zero values mean "never happened".
type History struct {
	LastScheduled time.Time
	LastCompleted time.Time
}

// Trigger is a compiled, validated Policy.
type Trigger struct {
	policy Policy
	sched  cron.Schedule
	loc    *time.Location
}

// Compile validates p and prepares it for evaluation. Cron expressions are
// parsed here so that a bad expression fails the registration, not a tick.
// defaultLoc applies to Cron policies without a Location (nil means time.Local).
func Compile(p Policy, defaultLoc *time.Location) (*Trigger, error) {
	if p == nil {
		return nil, ErrInvalidPolicy
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	t := &Trigger{policy: p}
	if c, ok := p.(Cron); ok {
		s, err := ParseCron(c.Expr)
		if err != nil {
			return nil, err
		}
		t.sched = s
		t.loc = c.Location
		if t.loc == nil {
			t.loc = defaultLoc
		}
		if t.loc == nil {
			t.loc = time.Local
		}
	}
	return t, nil
}

func (t *Trigger) Policy() Policy { return t.policy }

// Location is the zone cron instants are evaluated in (nil for interval policies).
func (t *Trigger) Location() *time.Location { return t.loc }

// CompletionDriven reports whether the next instant can only be known once the
// previous run has completed.
func (t *Trigger) CompletionDriven() bool {
	return t.policy.Kind() == KindFixedDelay
}

// Next returns the next fire instant and the reference instant it was derived
// from. A zero next means the trigger will not fire again.
//
//   - FixedRate: LastScheduled+Period if that is not before now, else now
//     (missed boundaries collapse into one immediate fire).
//   - FixedDelay: LastCompleted+Delay.
//   - Cron: next occurrence after now.
//
// With no history, interval policies fire at now+InitialDelay.
func (t *Trigger) Next(now time.Time, h History) (next, ref time.Time) {
	switch p := t.policy.(type) {
	case FixedRate:
		if h.LastScheduled.IsZero() {
			return now.Add(p.InitialDelay), now
		}
		cand := h.LastScheduled.Add(p.Period)
		if cand.Before(now) {
			return now, h.LastScheduled
		}
		return cand, h.LastScheduled
	case FixedDelay:
		if h.LastCompleted.IsZero() {
			return now.Add(p.InitialDelay), now
		}
		return h.LastCompleted.Add(p.Delay), h.LastCompleted
	case Cron:
		return nextIn(t.sched, t.loc, now), now
	}
	return time.Time{}, now
}

// First reports whether h carries no run yet for this trigger's purposes.
func (t *Trigger) First(h History) bool {
	if t.policy.Kind() == KindFixedDelay {
		return h.LastCompleted.IsZero()
	}
	return h.LastScheduled.IsZero()
}

// Missed returns how many fixed-rate boundaries were collapsed because the
// previous run (or the process) overran them. Always 0 for other policies.
func (t *Trigger) Missed(now time.Time, h History) int {
	p, ok := t.policy.(FixedRate)
	if !ok || h.LastScheduled.IsZero() {
		return 0
	}
	if !h.LastScheduled.Add(p.Period).Before(now) {
		return 0
	}
	n := int(now.Sub(h.LastScheduled) / p.Period)
	if n <= 1 {
		return 0
	}
	return n - 1
}
