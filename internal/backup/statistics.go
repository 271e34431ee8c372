package backup

import "time"

// Statistics is a derived view over a job's executions. Counters accumulate
// across the job's lifetime; averages and duration bounds come from the
// retained history window.
type Statistics struct {
	TotalExecutions      int64         `json:"total_executions"`
	SuccessfulExecutions int64         `json:"successful_executions"`
	FailedExecutions     int64         `json:"failed_executions"`
	CancelledExecutions  int64         `json:"cancelled_executions"`
	SuccessRate          float64       `json:"success_rate"`
	LastExecutionAt      *time.Time    `json:"last_execution_at,omitempty"`
	LastSuccessAt        *time.Time    `json:"last_success_at,omitempty"`
	LastFailureAt        *time.Time    `json:"last_failure_at,omitempty"`
	TotalSizeBytes       int64         `json:"total_size_bytes"`
	AverageSizeBytes     int64         `json:"average_size_bytes"`
	AverageDuration      time.Duration `json:"average_duration"`
	MinDuration          time.Duration `json:"min_duration"`
	MaxDuration          time.Duration `json:"max_duration"`
}

// SuccessRateOf returns successful/total*100, or zero without executions
func SuccessRateOf(successful, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}

// record folds one terminal execution into the counters
func (s *Statistics) record(e *Execution) {
	at := e.FinishedAt()
	if at.IsZero() {
		at = e.StartedAt
	}
	s.LastExecutionAt = &at

	switch e.Status {
	case StatusCompleted:
		s.TotalExecutions++
		s.SuccessfulExecutions++
		s.LastSuccessAt = &at
	case StatusFailed:
		s.TotalExecutions++
		s.FailedExecutions++
		s.LastFailureAt = &at
	case StatusCancelled:
		s.CancelledExecutions++
	}
	s.SuccessRate = SuccessRateOf(s.SuccessfulExecutions, s.TotalExecutions)
}

// refreshWindow recomputes size and duration figures from the history window
func (s *Statistics) refreshWindow(history []*Execution) {
	window := ComputeStatistics(history)
	s.TotalSizeBytes = window.TotalSizeBytes
	s.AverageSizeBytes = window.AverageSizeBytes
	s.AverageDuration = window.AverageDuration
	s.MinDuration = window.MinDuration
	s.MaxDuration = window.MaxDuration
}

// ComputeStatistics derives statistics from a history slice alone
func ComputeStatistics(history []*Execution) Statistics {
	var s Statistics
	var totalDuration time.Duration
	var completed int64
	var haveMin bool

	for _, e := range history {
		if !e.Status.Terminal() {
			continue
		}
		s.record(e)
		if e.Status != StatusCompleted {
			continue
		}
		completed++
		s.TotalSizeBytes += e.SizeBytes
		totalDuration += e.Duration
		if !haveMin || e.Duration < s.MinDuration {
			haveMin = true
			s.MinDuration = e.Duration
		}
		if e.Duration > s.MaxDuration {
			s.MaxDuration = e.Duration
		}
	}
	if completed > 0 {
		s.AverageSizeBytes = s.TotalSizeBytes / completed
		s.AverageDuration = totalDuration / time.Duration(completed)
	}
	return s
}
