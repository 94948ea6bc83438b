package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Parse turns a schedule string into a Policy.
//
// Supported forms:
//   - "cron:<expr>" or a bare cron expression ("0 15 10 15 * ?", "@hourly")
//   - "rate:<interval>[+<initial>]", "every:<interval>" (fixed rate)
//   - "delay:<interval>[+<initial>]" (fixed delay)
//   - bare interval: Go duration ("55m") or HH:MM ("02:30"), fixed rate
//
// loc is attached to cron policies; nil leaves the scheduler default.
func Parse(raw string, loc *time.Location) (Policy, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: schedule required", ErrInvalidPolicy)
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return nil, fmt.Errorf("%w: expression required after 'cron:'", ErrInvalidCronExpression)
		}
		return Cron{Expr: expr, Location: loc}, nil
	case strings.HasPrefix(low, "rate:"):
		every, initial, err := parseWithInitial(s[len("rate:"):])
		if err != nil {
			return nil, err
		}
		return FixedRate{Period: every, InitialDelay: initial}, nil
	case strings.HasPrefix(low, "every:"):
		every, initial, err := parseWithInitial(s[len("every:"):])
		if err != nil {
			return nil, err
		}
		return FixedRate{Period: every, InitialDelay: initial}, nil
	case strings.HasPrefix(low, "delay:"):
		d, initial, err := parseWithInitial(s[len("delay:"):])
		if err != nil {
			return nil, err
		}
		return FixedDelay{Delay: d, InitialDelay: initial}, nil
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Cron{Expr: s, Location: loc}, nil
	}
	if d, err := parseInterval(s); err == nil {
		return FixedRate{Period: d}, nil
	}
	return nil, fmt.Errorf(
		"%w: %q (use cron like '*/5 * * * *', 'rate:5s', 'delay:1s+1s', HH:MM like '02:30' or a duration like '55m')",
		ErrInvalidPolicy, raw,
	)
}

func parseWithInitial(v string) (time.Duration, time.Duration, error) {
	base, initial, hasInit := strings.Cut(strings.TrimSpace(v), "+")
	d, err := parseInterval(base)
	if err != nil {
		return 0, 0, err
	}
	if !hasInit {
		return d, 0, nil
	}
	initial = strings.TrimSpace(initial)
	if initial == "" {
		return 0, 0, fmt.Errorf("%w: initial delay required after '+'", ErrInvalidPolicy)
	}
	id, err := time.ParseDuration(initial)
	if err != nil || id < 0 {
		return 0, 0, fmt.Errorf("%w: invalid initial delay %q", ErrInvalidPolicy, initial)
	}
	return d, id, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: interval required", ErrInvalidPolicy)
	}
	if reHHMM.MatchString(v) {
		return parseHHMM(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid interval %q (use HH:MM or a Go duration like '55m')", ErrInvalidPolicy, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: interval must be > 0", ErrInvalidPolicy)
	}
	return d, nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("%w: invalid HH:MM %q", ErrInvalidPolicy, v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("%w: invalid minutes in %q", ErrInvalidPolicy, v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("%w: interval must be > 0", ErrInvalidPolicy)
	}
	return d, nil
}
