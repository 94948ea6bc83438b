package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate-limits log lines per key (typically a task name).
//
// Each key gets its own token bucket: one line per `every`, with a burst of 1.
// Suppressed lines are counted and reported on the next allowed line.
type Throttle struct {
	every time.Duration

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	suppressed map[string]uint64
}

func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Throttle{
		every:      every,
		limiters:   map[string]*rate.Limiter{},
		suppressed: map[string]uint64{},
	}
}

// Allow reports whether a line for key may be written now. When it returns true,
// the second value is the number of lines suppressed since the last allowed one.
func (t *Throttle) Allow(key string) (bool, uint64) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	lim := t.limiters[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(t.every), 1)
		t.limiters[key] = lim
	}
	if !lim.Allow() {
		t.suppressed[key]++
		return false, 0
	}
	n := t.suppressed[key]
	delete(t.suppressed, key)
	return true, n
}

// Warn writes a warning through l unless key is currently throttled.
func (t *Throttle) Warn(l Logger, key, msg string, fields ...Field) {
	ok, dropped := t.Allow(key)
	if !ok {
		return
	}
	if dropped > 0 {
		fields = append(fields, Uint64("suppressed", dropped))
	}
	l.Warn(msg, fields...)
}
