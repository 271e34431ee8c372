// internal/schedule/schedule.go
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Frequency defines how often a schedule fires
type Frequency string

const (
	Hourly  Frequency = "hourly"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Custom  Frequency = "custom"
)

// ErrInvalidSchedule is wrapped by every schedule validation failure
var ErrInvalidSchedule = errors.New("invalid schedule")

// TimeOfDay is a wall-clock time without a date
// It travels as "HH:MM" in JSON and YAML.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// At returns a TimeOfDay for hour:minute
func At(hour, minute int) TimeOfDay {
	return TimeOfDay{Hour: hour, Minute: minute}
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time of day %q: %v", ErrInvalidSchedule, s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalText implements encoding.TextMarshaler
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// on places the time of day on the calendar date of day
func (t TimeOfDay) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// Schedule describes when a backup job runs
type Schedule struct {
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	Frequency      Frequency      `json:"frequency" yaml:"frequency"`
	TimeOfDay      TimeOfDay      `json:"time_of_day" yaml:"time_of_day"`
	DaysOfWeek     []time.Weekday `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	DaysOfMonth    []int          `json:"days_of_month,omitempty" yaml:"days_of_month,omitempty"`
	CronExpression string         `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	Timezone       string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Validate checks the schedule. A disabled schedule only needs a known frequency.
func (s Schedule) Validate(cron CronEvaluator) error {
	switch s.Frequency {
	case Hourly, Daily, Weekly, Monthly, Custom:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, s.Frequency)
	}
	if !s.TimeOfDay.valid() {
		return fmt.Errorf("%w: time of day %s out of range", ErrInvalidSchedule, s.TimeOfDay)
	}
	for _, d := range s.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: day of week %d out of range", ErrInvalidSchedule, d)
		}
	}
	for _, d := range s.DaysOfMonth {
		if d < 1 || d > 31 {
			return fmt.Errorf("%w: day of month %d out of range", ErrInvalidSchedule, d)
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, s.Timezone, err)
		}
	}
	if !s.Enabled {
		return nil
	}

	switch s.Frequency {
	case Weekly:
		if len(s.DaysOfWeek) == 0 {
			return fmt.Errorf("%w: weekly schedule requires at least one day of week", ErrInvalidSchedule)
		}
	case Monthly:
		if len(s.DaysOfMonth) == 0 {
			return fmt.Errorf("%w: monthly schedule requires at least one day of month", ErrInvalidSchedule)
		}
	case Custom:
		if s.CronExpression == "" {
			return fmt.Errorf("%w: custom schedule requires a cron expression", ErrInvalidSchedule)
		}
		if cron == nil {
			return fmt.Errorf("%w: no cron evaluator configured", ErrInvalidSchedule)
		}
		if err := cron.Validate(s.CronExpression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}
	return nil
}
