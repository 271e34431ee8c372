package backup

import "context"

// ProgressFunc receives completion percentages (0-100) from an executor
type ProgressFunc func(percent float64)

// Executor performs the data movement for one backup run
type Executor interface {
	ExecuteBackup(ctx context.Context, job *Job, progress ProgressFunc) (*Result, error)
}

// Restorer performs the data movement for one restore
type Restorer interface {
	ExecuteRestore(ctx context.Context, req *RestoreRequest) (*RestoreResult, error)
}

// Purger deletes the physical data behind an expired execution
type Purger interface {
	PurgeExecution(ctx context.Context, job *Job, exec *Execution) error
}

// ConnectivityProber checks that a destination is reachable
type ConnectivityProber interface {
	TestConnection(ctx context.Context, dest Destination) bool
}

// Monitor observes execution lifecycle and progress
type Monitor interface {
	TrackExecution(ctx context.Context, exec *Execution)
	UpdateProgress(ctx context.Context, exec *Execution, percent float64)
}

type nopMonitor struct{}

func (nopMonitor) TrackExecution(context.Context, *Execution)          {}
func (nopMonitor) UpdateProgress(context.Context, *Execution, float64) {}
