package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) specs, so
// "0 15 10 15 * ?" and "*/5 * * * *" are both accepted.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses expr eagerly. Errors wrap ErrInvalidCronExpression.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCronExpression)
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCronExpression, expr, err)
	}
	return s, nil
}

// NextOccurrence returns the first instant strictly after `after` matched by
// expr in loc. The zero time means the expression never fires again.
func NextOccurrence(expr string, loc *time.Location, after time.Time) (time.Time, error) {
	s, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return nextIn(s, loc, after), nil
}

func nextIn(s cron.Schedule, loc *time.Location, after time.Time) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return s.Next(after.In(loc))
}
