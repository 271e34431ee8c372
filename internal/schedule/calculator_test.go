package schedule

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestCalculator_Next(t *testing.T) {
	calc := NewCalculator()
	ref := date(2024, time.January, 1, 10, 0) // Monday

	tests := []struct {
		name     string
		schedule Schedule
		now      time.Time
		want     time.Time
		ok       bool
	}{
		{
			name:     "disabled",
			schedule: Schedule{Enabled: false, Frequency: Hourly},
			now:      ref,
		},
		{
			name:     "hourly",
			schedule: Schedule{Enabled: true, Frequency: Hourly},
			now:      ref,
			want:     date(2024, time.January, 1, 11, 0),
			ok:       true,
		},
		{
			name:     "daily at 02:00",
			schedule: Schedule{Enabled: true, Frequency: Daily, TimeOfDay: At(2, 0)},
			now:      ref,
			want:     date(2024, time.January, 2, 2, 0),
			ok:       true,
		},
		{
			name:     "daily always moves to the next day",
			schedule: Schedule{Enabled: true, Frequency: Daily, TimeOfDay: At(23, 30)},
			now:      date(2024, time.January, 1, 1, 0),
			want:     date(2024, time.January, 2, 23, 30),
			ok:       true,
		},
		{
			name: "weekly picks earliest matching day from tomorrow",
			schedule: Schedule{
				Enabled: true, Frequency: Weekly, TimeOfDay: At(3, 15),
				DaysOfWeek: []time.Weekday{time.Friday, time.Wednesday},
			},
			now:  ref,
			want: date(2024, time.January, 3, 3, 15),
			ok:   true,
		},
		{
			name: "weekly same weekday as today goes a week out",
			schedule: Schedule{
				Enabled: true, Frequency: Weekly, TimeOfDay: At(3, 0),
				DaysOfWeek: []time.Weekday{time.Monday},
			},
			now:  ref,
			want: date(2024, time.January, 8, 3, 0),
			ok:   true,
		},
		{
			name:     "weekly with no days is dormant",
			schedule: Schedule{Enabled: true, Frequency: Weekly, TimeOfDay: At(3, 0)},
			now:      ref,
		},
		{
			name: "monthly uses smallest day that fits next month",
			schedule: Schedule{
				Enabled: true, Frequency: Monthly, TimeOfDay: At(4, 0),
				DaysOfMonth: []int{15, 5},
			},
			now:  ref,
			want: date(2024, time.February, 5, 4, 0),
			ok:   true,
		},
		{
			name: "monthly skips days beyond next month length",
			schedule: Schedule{
				Enabled: true, Frequency: Monthly, TimeOfDay: At(4, 0),
				DaysOfMonth: []int{31, 29},
			},
			now:  ref,
			want: date(2024, time.February, 29, 4, 0),
			ok:   true,
		},
		{
			name: "monthly with only day 31 before february is dormant",
			schedule: Schedule{
				Enabled: true, Frequency: Monthly, TimeOfDay: At(4, 0),
				DaysOfMonth: []int{31},
			},
			now: ref,
		},
		{
			name: "monthly rolls the year",
			schedule: Schedule{
				Enabled: true, Frequency: Monthly, TimeOfDay: At(0, 0),
				DaysOfMonth: []int{1},
			},
			now:  date(2024, time.December, 20, 8, 0),
			want: date(2025, time.January, 1, 0, 0),
			ok:   true,
		},
		{
			name: "custom cron expression",
			schedule: Schedule{
				Enabled: true, Frequency: Custom, CronExpression: "30 6 * * *",
			},
			now:  ref,
			want: date(2024, time.January, 2, 6, 30),
			ok:   true,
		},
		{
			name: "custom with unparsable expression fails closed",
			schedule: Schedule{
				Enabled: true, Frequency: Custom, CronExpression: "not a cron",
			},
			now: ref,
		},
		{
			name:     "unknown timezone is dormant",
			schedule: Schedule{Enabled: true, Frequency: Hourly, Timezone: "Mars/Olympus"},
			now:      ref,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := calc.Next(tt.schedule, tt.now)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCalculator_CustomWithoutEvaluator(t *testing.T) {
	calc := &Calculator{}
	_, ok := calc.Next(Schedule{Enabled: true, Frequency: Custom, CronExpression: "@daily"}, time.Now())
	assert.False(t, ok, "custom schedules must not fall back to a fixed time")
}

func TestCalculator_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	calc := NewCalculator()
	s := Schedule{Enabled: true, Frequency: Daily, TimeOfDay: At(2, 0), Timezone: "America/New_York"}
	got, ok := calc.Next(s, date(2024, time.January, 1, 10, 0))
	require.True(t, ok)
	assert.True(t, time.Date(2024, time.January, 2, 2, 0, 0, 0, loc).Equal(got))
}

func TestSchedule_Validate(t *testing.T) {
	cron := StandardCron{}

	t.Run("valid daily", func(t *testing.T) {
		assert.NoError(t, Schedule{Enabled: true, Frequency: Daily, TimeOfDay: At(2, 0)}.Validate(cron))
	})

	t.Run("rejects empty weekly selector", func(t *testing.T) {
		err := Schedule{Enabled: true, Frequency: Weekly}.Validate(cron)
		assert.True(t, errors.Is(err, ErrInvalidSchedule))
		assert.Contains(t, err.Error(), "day of week")
	})

	t.Run("allows empty selector when disabled", func(t *testing.T) {
		assert.NoError(t, Schedule{Enabled: false, Frequency: Monthly}.Validate(cron))
	})

	t.Run("rejects empty monthly selector", func(t *testing.T) {
		err := Schedule{Enabled: true, Frequency: Monthly}.Validate(cron)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("rejects out of range day of month", func(t *testing.T) {
		err := Schedule{Enabled: true, Frequency: Monthly, DaysOfMonth: []int{32}}.Validate(cron)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("rejects bad time of day", func(t *testing.T) {
		err := Schedule{Enabled: true, Frequency: Daily, TimeOfDay: At(24, 0)}.Validate(cron)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("rejects unknown frequency", func(t *testing.T) {
		err := Schedule{Enabled: true, Frequency: "yearly"}.Validate(cron)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("rejects bad cron", func(t *testing.T) {
		err := Schedule{Enabled: true, Frequency: Custom, CronExpression: "* *"}.Validate(cron)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("rejects custom without evaluator", func(t *testing.T) {
		err := Schedule{Enabled: true, Frequency: Custom, CronExpression: "@hourly"}.Validate(nil)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})
}

func TestTimeOfDay_JSON(t *testing.T) {
	data, err := json.Marshal(Schedule{Frequency: Daily, TimeOfDay: At(2, 5)})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"time_of_day":"02:05"`)

	var s Schedule
	require.NoError(t, json.Unmarshal([]byte(`{"frequency":"daily","time_of_day":"14:30"}`), &s))
	assert.Equal(t, At(14, 30), s.TimeOfDay)

	assert.Error(t, json.Unmarshal([]byte(`{"time_of_day":"25:00"}`), &s))
}
