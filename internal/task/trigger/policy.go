package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPolicy         = errors.New("invalid trigger policy")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
)

type Kind int

const (
	KindFixedRate Kind = iota
	KindFixedDelay
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindFixedRate:
		return "fixed_rate"
	case KindFixedDelay:
		return "fixed_delay"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Policy is one of FixedRate, FixedDelay or Cron.
type Policy interface {
	Kind() Kind
	String() string
	validate() error
}

// FixedRate fires every Period measured from the previous scheduled start,
// regardless of how long each run takes.
type FixedRate struct {
	Period       time.Duration
	InitialDelay time.Duration
}

// FixedDelay fires Delay after the previous run completed.
type FixedDelay struct {
	Delay        time.Duration
	InitialDelay time.Duration
}

// Cron fires at the instants described by Expr, evaluated in Location.
// A nil Location means the scheduler's default zone.
type Cron struct {
	Expr     string
	Location *time.Location
}

func (FixedRate) Kind() Kind  { return KindFixedRate }
func (FixedDelay) Kind() Kind { return KindFixedDelay }
func (Cron) Kind() Kind       { return KindCron }

func (p FixedRate) String() string {
	if p.InitialDelay > 0 {
		return fmt.Sprintf("rate:%s+%s", p.Period, p.InitialDelay)
	}
	return fmt.Sprintf("rate:%s", p.Period)
}

func (p FixedDelay) String() string {
	if p.InitialDelay > 0 {
		return fmt.Sprintf("delay:%s+%s", p.Delay, p.InitialDelay)
	}
	return fmt.Sprintf("delay:%s", p.Delay)
}

func (p Cron) String() string {
	if p.Location != nil {
		return fmt.Sprintf("cron:%s (%s)", p.Expr, p.Location)
	}
	return "cron:" + p.Expr
}

func (p FixedRate) validate() error {
	if p.Period <= 0 {
		return fmt.Errorf("%w: fixed rate period must be > 0", ErrInvalidPolicy)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("%w: initial delay must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

func (p FixedDelay) validate() error {
	if p.Delay <= 0 {
		return fmt.Errorf("%w: fixed delay must be > 0", ErrInvalidPolicy)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("%w: initial delay must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

func (p Cron) validate() error {
	if strings.TrimSpace(p.Expr) == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidCronExpression)
	}
	return nil
}
