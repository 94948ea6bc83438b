package trigger

import "time"

// Preview simulates n consecutive fires starting at from, assuming every run
// takes runFor. Used by the CLI to show upcoming instants.
func (t *Trigger) Preview(from time.Time, n int, runFor time.Duration) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	var h History
	now := from
	for len(out) < n {
		next, _ := t.Next(now, h)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		h.LastScheduled = next
		h.LastCompleted = next.Add(runFor)
		now = h.LastCompleted
	}
	return out
}
