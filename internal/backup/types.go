// internal/backup/types.go
package backup

import (
	"time"

	"github.com/FairForge/vaultaire-recovery/internal/schedule"
)

// Type defines the type of backup
type Type string

const (
	TypeFull         Type = "full"         // Complete backup
	TypeIncremental  Type = "incremental"  // Changes since last backup
	TypeDifferential Type = "differential" // Changes since last full backup
)

// Priority orders admission when the tenant ceiling is reached
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Status represents execution state
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the execution has finished
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Trigger records why an execution started
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerEmergency Trigger = "emergency"
	TriggerDR        Trigger = "disaster_recovery"
)

// DestinationType selects the storage driver
type DestinationType string

const (
	DestinationLocal DestinationType = "local"
	DestinationS3    DestinationType = "s3"
)

// Destination is one place a backup is uploaded to
type Destination struct {
	Name            string          `json:"name" yaml:"name"`
	Type            DestinationType `json:"type" yaml:"type"`
	Path            string          `json:"path,omitempty" yaml:"path,omitempty"`
	Bucket          string          `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix          string          `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region          string          `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint        string          `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AccessKeyID     string          `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string          `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool            `json:"use_path_style,omitempty" yaml:"use_path_style,omitempty"`
}

// Scope selects what a job backs up
type Scope struct {
	Full    bool     `json:"full"`
	Paths   []string `json:"paths,omitempty"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Encryption configures payload protection
type Encryption struct {
	Enabled   bool   `json:"enabled"`
	Algorithm string `json:"algorithm,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
}

// Compression configures payload compression
type Compression struct {
	Enabled   bool   `json:"enabled"`
	Algorithm string `json:"algorithm,omitempty"`
	Level     int    `json:"level,omitempty"`
}

// Retention controls how long executions are kept
type Retention struct {
	DailyDays     int `json:"daily_days"`
	WeeklyWeeks   int `json:"weekly_weeks,omitempty"`
	MonthlyMonths int `json:"monthly_months,omitempty"`
	MaxBackups    int `json:"max_backups,omitempty"`
}

// Job is a configured, schedulable unit of backup work for one tenant
type Job struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Type         Type              `json:"type"`
	Scope        Scope             `json:"scope"`
	Schedule     schedule.Schedule `json:"schedule"`
	Encryption   Encryption        `json:"encryption"`
	Compression  Compression       `json:"compression"`
	Retention    Retention         `json:"retention"`
	Destinations []Destination     `json:"destinations"`
	Priority     Priority          `json:"priority"`
	Tags         map[string]string `json:"tags,omitempty"`
	CreatedBy    string            `json:"created_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Statistics   Statistics        `json:"statistics"`
}

// Clone returns a deep copy
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Scope.Paths = append([]string(nil), j.Scope.Paths...)
	c.Scope.Include = append([]string(nil), j.Scope.Include...)
	c.Scope.Exclude = append([]string(nil), j.Scope.Exclude...)
	c.Schedule.DaysOfWeek = append([]time.Weekday(nil), j.Schedule.DaysOfWeek...)
	c.Schedule.DaysOfMonth = append([]int(nil), j.Schedule.DaysOfMonth...)
	c.Destinations = append([]Destination(nil), j.Destinations...)
	if j.Tags != nil {
		c.Tags = make(map[string]string, len(j.Tags))
		for k, v := range j.Tags {
			c.Tags[k] = v
		}
	}
	return &c
}

// Redacted returns a copy safe to hand to API callers
func (j *Job) Redacted() *Job {
	c := j.Clone()
	for i := range c.Destinations {
		if c.Destinations[i].SecretAccessKey != "" {
			c.Destinations[i].SecretAccessKey = "REDACTED"
		}
	}
	return c
}

// Validate checks the definition before any state changes
func (j *Job) Validate(cron schedule.CronEvaluator) error {
	if j == nil {
		return &ValidationError{Field: "job", Reason: "required"}
	}
	if j.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if j.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	switch j.Type {
	case TypeFull, TypeIncremental, TypeDifferential:
	default:
		return &ValidationError{Field: "type", Reason: "must be full, incremental or differential"}
	}
	if len(j.Destinations) == 0 {
		return &ValidationError{Field: "destinations", Reason: "at least one destination required"}
	}
	seen := make(map[string]bool, len(j.Destinations))
	for _, d := range j.Destinations {
		if d.Name == "" {
			return &ValidationError{Field: "destinations", Reason: "destination name required"}
		}
		if seen[d.Name] {
			return &ValidationError{Field: "destinations", Reason: "duplicate destination " + d.Name}
		}
		seen[d.Name] = true
		switch d.Type {
		case DestinationLocal:
			if d.Path == "" {
				return &ValidationError{Field: "destinations", Reason: d.Name + ": path required"}
			}
		case DestinationS3:
			if d.Bucket == "" {
				return &ValidationError{Field: "destinations", Reason: d.Name + ": bucket required"}
			}
		default:
			return &ValidationError{Field: "destinations", Reason: d.Name + ": unknown type " + string(d.Type)}
		}
	}
	if j.Retention.DailyDays < 0 {
		return &ValidationError{Field: "retention.daily_days", Reason: "must not be negative"}
	}
	if err := j.Schedule.Validate(cron); err != nil {
		return &ValidationError{Field: "schedule", Reason: err.Error()}
	}
	return nil
}

// DestinationResult is the outcome of uploading to one destination
type DestinationResult struct {
	Destination string        `json:"destination"`
	Success     bool          `json:"success"`
	Location    string        `json:"location,omitempty"`
	SizeBytes   int64         `json:"size_bytes"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// VerificationResult records post-backup verification
type VerificationResult struct {
	Verified   bool      `json:"verified"`
	Checksum   string    `json:"checksum,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
	Error      string    `json:"error,omitempty"`
}

// Execution is one run of a job
type Execution struct {
	ID           string              `json:"id"`
	JobID        string              `json:"job_id"`
	TenantID     string              `json:"tenant_id"`
	Type         Type                `json:"type"`
	Trigger      Trigger             `json:"trigger"`
	Status       Status              `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	FailedAt     *time.Time          `json:"failed_at,omitempty"`
	Duration     time.Duration       `json:"duration"`
	Progress     float64             `json:"progress"`
	SizeBytes    int64               `json:"size_bytes"`
	FileCount    int64               `json:"file_count"`
	Compressed   bool                `json:"compressed"`
	Destinations []DestinationResult `json:"destinations,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Clone returns a deep copy
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	if e.FailedAt != nil {
		t := *e.FailedAt
		c.FailedAt = &t
	}
	c.Destinations = append([]DestinationResult(nil), e.Destinations...)
	if e.Verification != nil {
		v := *e.Verification
		c.Verification = &v
	}
	return &c
}

// FinishedAt returns the terminal timestamp, or zero while running
func (e *Execution) FinishedAt() time.Time {
	if e.CompletedAt != nil {
		return *e.CompletedAt
	}
	if e.FailedAt != nil {
		return *e.FailedAt
	}
	return time.Time{}
}

// Result is what an Executor reports for one run
type Result struct {
	Success      bool                `json:"success"`
	SizeBytes    int64               `json:"size_bytes"`
	FileCount    int64               `json:"file_count"`
	Compressed   bool                `json:"compressed"`
	Destinations []DestinationResult `json:"destinations,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// RestoreType selects the restore variant
type RestoreType string

const (
	RestoreFull        RestoreType = "full"
	RestorePartial     RestoreType = "partial"
	RestorePointInTime RestoreType = "point_in_time"
)

// RestoreRequest asks for a restore of one job's backup
type RestoreRequest struct {
	TenantID    string      `json:"tenant_id"`
	JobID       string      `json:"job_id"`
	ExecutionID string      `json:"execution_id,omitempty"`
	Type        RestoreType `json:"type"`
	PointInTime time.Time   `json:"point_in_time,omitempty"`
	TargetPath  string      `json:"target_path"`
	Paths       []string    `json:"paths,omitempty"`

	// Filled in by the coordinator from the selected execution
	Execution    *Execution    `json:"-"`
	Destinations []Destination `json:"-"`
}

// RestoreResult reports a finished restore
type RestoreResult struct {
	Success       bool          `json:"success"`
	ExecutionID   string        `json:"execution_id"`
	Destination   string        `json:"destination,omitempty"`
	RestoredFiles int64         `json:"restored_files"`
	RestoredBytes int64         `json:"restored_bytes"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}
