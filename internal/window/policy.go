// Package window implements the scheduling-window predicate that decides
// whether a given SIPSA method is allowed to run right now, and derives the
// stable window key used as the idempotency discriminator for a run.
package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrWindowViolation is returned when a non-forced call falls outside the
// configured window for its method.
var ErrWindowViolation = errors.New("window violation")

const (
	dateKeyLayout = "2006-01-02"

	// graceDayOffset is how many days after a configured run day the
	// monthly grace day falls.
	graceDayOffset = 1
)

// monthlyMethodMarkers are case-insensitive substrings that classify a
// method as monthly rather than daily. Matches §4.1's "contains mesmadr
// or abas" rule.
var monthlyMethodMarkers = []string{"mesmadr", "abas"}

// Policy is the pure, stateless window predicate. It holds no mutable state
// and is safe for concurrent use across orchestrator invocations.
type Policy struct {
	dailyStart     time.Duration // offset from local midnight
	dailyEnd       time.Duration
	monthlyStart   time.Duration
	monthlyRunDays map[int]bool
	loc            *time.Location
}

// Config is the externally supplied, serializable form of a Policy.
type Config struct {
	DailyStart     string // "HH:MM" local time
	DailyEnd       string
	MonthlyStart   string
	MonthlyRunDays []int
	TimeZone       string
}

// NewPolicy compiles a Config into a Policy, resolving the time zone and
// parsing local-time-of-day bounds once at construction time.
func NewPolicy(cfg Config) (*Policy, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("window: invalid time zone %q: %w", cfg.TimeZone, err)
	}

	dailyStart, err := parseTimeOfDay(cfg.DailyStart)
	if err != nil {
		return nil, fmt.Errorf("window: invalid dailyStart: %w", err)
	}

	dailyEnd, err := parseTimeOfDay(cfg.DailyEnd)
	if err != nil {
		return nil, fmt.Errorf("window: invalid dailyEnd: %w", err)
	}

	monthlyStart, err := parseTimeOfDay(cfg.MonthlyStart)
	if err != nil {
		return nil, fmt.Errorf("window: invalid monthlyStart: %w", err)
	}

	runDays := make(map[int]bool, len(cfg.MonthlyRunDays))
	for _, d := range cfg.MonthlyRunDays {
		runDays[d] = true
	}

	return &Policy{
		dailyStart:     dailyStart,
		dailyEnd:       dailyEnd,
		monthlyStart:   monthlyStart,
		monthlyRunDays: runDays,
		loc:            loc,
	}, nil
}

// parseTimeOfDay parses "HH:MM" into a duration since local midnight.
func parseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}

	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsMonthly classifies a method name as monthly (true) or daily (false)
// per the configured monthly-method markers.
func IsMonthly(methodName string) bool {
	lower := strings.ToLower(methodName)
	for _, marker := range monthlyMethodMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}

// ValidateAndGetKey returns the window key for methodName at the current
// moment, or ErrWindowViolation if force is false and now falls outside the
// legal window for the method's class (daily/monthly).
func (p *Policy) ValidateAndGetKey(methodName string, force bool, now time.Time) (string, error) {
	local := now.In(p.loc)
	key := local.Format(dateKeyLayout)

	if force {
		return key, nil
	}

	if IsMonthly(methodName) {
		if p.monthlyWindowOpen(local) {
			return key, nil
		}

		return "", fmt.Errorf("%w: %s outside monthly window", ErrWindowViolation, methodName)
	}

	if p.dailyWindowOpen(local) {
		return key, nil
	}

	return "", fmt.Errorf("%w: %s outside daily window", ErrWindowViolation, methodName)
}

func (p *Policy) dailyWindowOpen(local time.Time) bool {
	offset := timeOfDay(local)

	return offset >= p.dailyStart && offset <= p.dailyEnd
}

// monthlyWindowOpen implements §4.1's two-clause monthly rule: either today
// is a configured run day at or after monthlyStart, or today is the grace
// day immediately following a configured run day (accepted for the full
// day). The grace day intentionally yields a distinct window key from the
// scheduled day it follows — see SPEC_FULL.md §9.
func (p *Policy) monthlyWindowOpen(local time.Time) bool {
	day := local.Day()

	if p.monthlyRunDays[day] && timeOfDay(local) >= p.monthlyStart {
		return true
	}

	return p.monthlyRunDays[day-graceDayOffset]
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}
