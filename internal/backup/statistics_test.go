package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func finished(status Status, at time.Time, d time.Duration, size int64) *Execution {
	e := &Execution{Status: status, StartedAt: at.Add(-d), Duration: d, SizeBytes: size}
	if status == StatusFailed {
		e.FailedAt = &at
	} else {
		e.CompletedAt = &at
	}
	return e
}

func TestComputeStatistics(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	history := []*Execution{
		finished(StatusCompleted, base, 2*time.Minute, 100),
		finished(StatusFailed, base.Add(time.Hour), 30*time.Second, 0),
		finished(StatusCompleted, base.Add(2*time.Hour), 4*time.Minute, 300),
		finished(StatusCancelled, base.Add(3*time.Hour), time.Minute, 0),
		{Status: StatusRunning, StartedAt: base.Add(4 * time.Hour)},
	}

	s := ComputeStatistics(history)
	assert.Equal(t, int64(3), s.TotalExecutions)
	assert.Equal(t, int64(2), s.SuccessfulExecutions)
	assert.Equal(t, int64(1), s.FailedExecutions)
	assert.Equal(t, int64(1), s.CancelledExecutions)
	assert.InDelta(t, 66.666, s.SuccessRate, 0.01)
	assert.Equal(t, int64(400), s.TotalSizeBytes)
	assert.Equal(t, int64(200), s.AverageSizeBytes)
	assert.Equal(t, 3*time.Minute, s.AverageDuration)
	assert.Equal(t, 2*time.Minute, s.MinDuration)
	assert.Equal(t, 4*time.Minute, s.MaxDuration)
	assert.Equal(t, base.Add(2*time.Hour), *s.LastSuccessAt)
	assert.Equal(t, base.Add(time.Hour), *s.LastFailureAt)
	assert.Equal(t, base.Add(3*time.Hour), *s.LastExecutionAt)
}

func TestComputeStatistics_ZeroDurationIsMinimum(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := ComputeStatistics([]*Execution{
		finished(StatusCompleted, base, 0, 10),
		finished(StatusCompleted, base.Add(time.Hour), 5*time.Second, 10),
	})
	assert.Equal(t, time.Duration(0), s.MinDuration)
	assert.Equal(t, 5*time.Second, s.MaxDuration)
}

func TestComputeStatistics_Empty(t *testing.T) {
	s := ComputeStatistics(nil)
	assert.Zero(t, s.SuccessRate)
	assert.Nil(t, s.LastExecutionAt)
	assert.Zero(t, SuccessRateOf(0, 0))
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Job)
		field  string
	}{
		{"missing name", func(j *Job) { j.Name = "" }, "name"},
		{"missing tenant", func(j *Job) { j.TenantID = "" }, "tenant_id"},
		{"bad type", func(j *Job) { j.Type = "mirror" }, "type"},
		{"no destinations", func(j *Job) { j.Destinations = nil }, "destinations"},
		{"s3 without bucket", func(j *Job) {
			j.Destinations = []Destination{{Name: "s3", Type: DestinationS3}}
		}, "destinations"},
		{"duplicate destination", func(j *Job) {
			j.Destinations = append(j.Destinations, j.Destinations[0])
		}, "destinations"},
		{"negative retention", func(j *Job) { j.Retention.DailyDays = -1 }, "retention.daily_days"},
		{"monthly without days", func(j *Job) { j.Schedule.Frequency = "monthly" }, "schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testJob()
			tt.mutate(job)
			err := job.Validate(nil)
			var verr *ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, tt.field, verr.Field)
			}
		})
	}

	assert.NoError(t, testJob().Validate(nil))
}

func TestJobRedacted(t *testing.T) {
	job := testJob()
	job.Destinations = append(job.Destinations, Destination{Name: "s3", Type: DestinationS3, Bucket: "b", SecretAccessKey: "secret"})
	r := job.Redacted()
	assert.Equal(t, "REDACTED", r.Destinations[1].SecretAccessKey)
	assert.Equal(t, "secret", job.Destinations[1].SecretAccessKey)
}
