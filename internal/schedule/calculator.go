// internal/schedule/calculator.go
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// CronEvaluator computes the next activation of a cron-like expression
type CronEvaluator interface {
	Validate(expr string) error
	Next(expr string, after time.Time) (time.Time, error)
}

// StandardCron evaluates five-field cron expressions and descriptors like @daily
type StandardCron struct{}

// Validate parses the expression without evaluating it
func (StandardCron) Validate(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the first activation strictly after the given instant
func (StandardCron) Next(expr string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched.Next(after), nil
}

// Calculator maps a Schedule and a reference instant to the next run.
// A nil Cron makes every custom schedule dormant.
type Calculator struct {
	Cron CronEvaluator
}

// NewCalculator returns a calculator backed by StandardCron
func NewCalculator() *Calculator {
	return &Calculator{Cron: StandardCron{}}
}

// Next returns the next execution instant, or false when the schedule is
// disabled or cannot produce one.
func (c *Calculator) Next(s Schedule, now time.Time) (time.Time, bool) {
	if !s.Enabled {
		return time.Time{}, false
	}
	if s.Timezone != "" {
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, false
		}
		now = now.In(loc)
	}

	switch s.Frequency {
	case Hourly:
		return now.Add(time.Hour), true
	case Daily:
		return s.TimeOfDay.on(startOfDay(now).AddDate(0, 0, 1)), true
	case Weekly:
		return nextWeekly(s, now)
	case Monthly:
		return nextMonthly(s, now)
	case Custom:
		return c.nextCustom(s, now)
	default:
		return time.Time{}, false
	}
}

func (c *Calculator) nextCustom(s Schedule, now time.Time) (time.Time, bool) {
	if c == nil || c.Cron == nil || s.CronExpression == "" {
		return time.Time{}, false
	}
	next, err := c.Cron.Next(s.CronExpression, now)
	if err != nil || next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func nextWeekly(s Schedule, now time.Time) (time.Time, bool) {
	if len(s.DaysOfWeek) == 0 {
		return time.Time{}, false
	}
	days := make(map[time.Weekday]bool, len(s.DaysOfWeek))
	for _, d := range s.DaysOfWeek {
		days[d] = true
	}

	first := startOfDay(now).AddDate(0, 0, 1)
	for i := 0; i < 7; i++ {
		candidate := first.AddDate(0, 0, i)
		if days[candidate.Weekday()] {
			return s.TimeOfDay.on(candidate), true
		}
	}
	return time.Time{}, false
}

func nextMonthly(s Schedule, now time.Time) (time.Time, bool) {
	if len(s.DaysOfMonth) == 0 {
		return time.Time{}, false
	}
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
	limit := daysIn(firstOfNext.Year(), firstOfNext.Month(), now.Location())

	days := append([]int(nil), s.DaysOfMonth...)
	sort.Ints(days)
	for _, d := range days {
		if d >= 1 && d <= limit {
			return s.TimeOfDay.on(firstOfNext.AddDate(0, 0, d-1)), true
		}
	}
	return time.Time{}, false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
