// internal/backup/unit.go
package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
	"github.com/FairForge/vaultaire-recovery/internal/database"
	"github.com/FairForge/vaultaire-recovery/internal/schedule"
)

// State of a job execution unit
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
)

const (
	DefaultHistoryLimit     = 100
	DefaultProgressInterval = 30 * time.Second
	DefaultCancelGrace      = 5 * time.Second
)

// UnitOptions wires a unit to its collaborators
type UnitOptions struct {
	Executor   Executor
	Store      database.Store
	Monitor    Monitor
	Alerts     alerting.Sender
	Calculator *schedule.Calculator
	Logger     *zap.Logger
	Clock      func() time.Time

	ProgressInterval time.Duration
	CancelGrace      time.Duration
	HistoryLimit     int

	// OnDue is called when the schedule timer fires. Without it the unit
	// starts itself.
	OnDue func(jobID string)
}

// persisted is the unit's durable state
type persisted struct {
	Job       *Job         `json:"job"`
	History   []*Execution `json:"history"`
	Current   *Execution   `json:"current,omitempty"`
	NextRunAt *time.Time   `json:"next_run_at,omitempty"`
}

// Unit owns one backup job: its definition, schedule, running state and
// execution history. All methods are safe for concurrent use; operations on
// one unit are serialized by its mutex.
type Unit struct {
	id     string
	opts   UnitOptions
	logger *zap.Logger

	mu       sync.Mutex
	job      *Job
	state    State
	current  *Execution
	cancel   context.CancelFunc
	done     chan struct{} // closed when the worker returns
	finished chan struct{} // closed when the current execution is terminal
	history  []*Execution
	nextRun  *time.Time
	timer    *time.Timer
	timerGen uint64 // bumped whenever the armed timer changes
	deleted  bool
}

// NewUnit creates an empty unit addressed by id
func NewUnit(id string, opts UnitOptions) *Unit {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = database.NewMemoryStore()
	}
	if opts.Monitor == nil {
		opts.Monitor = nopMonitor{}
	}
	if opts.Alerts == nil {
		opts.Alerts = alerting.Nop{}
	}
	if opts.Calculator == nil {
		opts.Calculator = schedule.NewCalculator()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = DefaultCancelGrace
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	return &Unit{
		id:     id,
		opts:   opts,
		logger: opts.Logger.Named("backup").With(zap.String("job_id", id)),
		state:  StateIdle,
	}
}

// ID returns the job id this unit is addressed by
func (u *Unit) ID() string {
	return u.id
}

// Initialize binds a job definition to the unit and schedules its first run
func (u *Unit) Initialize(ctx context.Context, job *Job) error {
	if job == nil {
		return &ValidationError{Field: "job", Reason: "required"}
	}
	job = job.Clone()
	job.ID = u.id
	if err := job.Validate(u.opts.Calculator.Cron); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.deleted {
		return ErrJobDeleted
	}
	if u.job != nil {
		return ErrAlreadyInitialized
	}

	now := u.opts.Clock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Statistics = Statistics{}

	u.job = job
	u.rescheduleLocked(now)
	if err := u.saveLocked(ctx); err != nil {
		u.stopTimerLocked()
		u.job = nil
		u.nextRun = nil
		return fmt.Errorf("failed to persist job: %w", err)
	}

	u.logger.Info("backup job initialized",
		zap.String("tenant_id", job.TenantID),
		zap.String("name", job.Name),
		zap.Bool("scheduled", u.nextRun != nil))
	return nil
}

// Restore reloads persisted state. It reports false when nothing was stored.
// An execution that was running when the state was saved is recorded as failed.
func (u *Unit) Restore(ctx context.Context) (bool, error) {
	var p persisted
	if err := u.opts.Store.Load(ctx, database.KindBackupJob, u.id, &p); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load job state: %w", err)
	}
	if p.Job == nil {
		return false, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.job != nil {
		return false, ErrAlreadyInitialized
	}

	now := u.opts.Clock()
	u.job = p.Job
	u.history = p.History
	if p.Current != nil && !p.Current.Status.Terminal() {
		interrupted := p.Current
		interrupted.Status = StatusFailed
		interrupted.FailedAt = &now
		interrupted.Duration = now.Sub(interrupted.StartedAt)
		interrupted.Error = "interrupted by restart"
		u.appendHistoryLocked(interrupted)
		u.job.Statistics.record(interrupted)
		u.job.Statistics.refreshWindow(u.history)
	}

	u.rescheduleLocked(now)
	if err := u.saveLocked(ctx); err != nil {
		u.logger.Warn("failed to persist restored state", zap.Error(err))
	}
	return true, nil
}

// Start begins an execution without waiting for it to finish
func (u *Unit) Start(ctx context.Context, trigger Trigger) (*Execution, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.deleted {
		return nil, ErrJobDeleted
	}
	if u.job == nil {
		return nil, ErrNotInitialized
	}
	if u.state != StateIdle {
		return nil, ErrAlreadyRunning
	}

	now := u.opts.Clock()
	exec := &Execution{
		ID:        uuid.New().String(),
		JobID:     u.job.ID,
		TenantID:  u.job.TenantID,
		Type:      u.job.Type,
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: now,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	u.state = StateRunning
	u.current = exec
	u.cancel = cancel
	u.done = make(chan struct{})
	u.finished = make(chan struct{})
	u.stopTimerLocked()
	u.nextRun = nil

	if err := u.saveLocked(ctx); err != nil {
		u.persistFailed(ctx, err)
	}
	u.opts.Monitor.TrackExecution(ctx, exec.Clone())

	u.logger.Info("backup execution started",
		zap.String("tenant_id", exec.TenantID),
		zap.String("execution_id", exec.ID),
		zap.String("trigger", string(trigger)))

	go u.run(runCtx, u.job.Clone(), exec.ID, u.done)
	return exec.Clone(), nil
}

// Execute starts an execution and waits for its terminal state
func (u *Unit) Execute(ctx context.Context, trigger Trigger) (*Execution, error) {
	exec, err := u.Start(ctx, trigger)
	if err != nil {
		return nil, err
	}
	return u.Wait(ctx, exec.ID)
}

// Wait blocks until the given execution is terminal
func (u *Unit) Wait(ctx context.Context, executionID string) (*Execution, error) {
	u.mu.Lock()
	var finished chan struct{}
	if u.current != nil && u.current.ID == executionID {
		finished = u.finished
	}
	u.mu.Unlock()

	if finished != nil {
		select {
		case <-finished:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return u.Execution(executionID)
}

func (u *Unit) run(ctx context.Context, job *Job, execID string, done chan struct{}) {
	defer close(done)

	tracker := &progressTracker{}
	stop := u.watchProgress(ctx, execID, tracker)
	result, panicked, err := u.invoke(ctx, job, tracker.set)
	stop()

	u.finish(context.WithoutCancel(ctx), execID, result, panicked, err)
}

func (u *Unit) invoke(ctx context.Context, job *Job, progress ProgressFunc) (result *Result, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			panicked = true
			err = fmt.Errorf("backup executor panic: %v", r)
		}
	}()
	if u.opts.Executor == nil {
		return nil, false, errors.New("no backup executor configured")
	}
	result, err = u.opts.Executor.ExecuteBackup(ctx, job, progress)
	return result, false, err
}

// finish records the worker's outcome unless the execution was already
// finalized by a cancellation.
func (u *Unit) finish(ctx context.Context, execID string, result *Result, panicked bool, err error) {
	u.mu.Lock()
	if u.current == nil || u.current.ID != execID {
		u.mu.Unlock()
		u.logger.Debug("discarding result of finalized execution", zap.String("execution_id", execID))
		return
	}

	exec := u.current
	now := u.opts.Clock()
	exec.Duration = now.Sub(exec.StartedAt)
	if result != nil {
		exec.SizeBytes = result.SizeBytes
		exec.FileCount = result.FileCount
		exec.Compressed = result.Compressed
		exec.Destinations = result.Destinations
		exec.Verification = result.Verification
	}

	switch {
	case u.state == StateCancelling:
		exec.Status = StatusCancelled
		exec.CompletedAt = &now
		exec.Error = "cancelled"
	case err == nil && result != nil && result.Success:
		exec.Status = StatusCompleted
		exec.CompletedAt = &now
		exec.Progress = 100
	default:
		exec.Status = StatusFailed
		exec.FailedAt = &now
		exec.Error = failureMessage(result, err)
	}

	final := exec.Clone()
	tenantID := exec.TenantID
	name := u.job.Name
	u.finalizeLocked(ctx, now)
	u.mu.Unlock()

	fields := []zap.Field{
		zap.String("tenant_id", tenantID),
		zap.String("execution_id", final.ID),
		zap.String("status", string(final.Status)),
		zap.Duration("duration", final.Duration),
	}
	switch final.Status {
	case StatusCompleted:
		u.logger.Info("backup execution completed", append(fields, zap.Int64("size_bytes", final.SizeBytes))...)
	case StatusCancelled:
		u.logger.Info("backup execution cancelled", fields...)
	default:
		u.logger.Warn("backup execution failed", append(fields, zap.String("error", final.Error))...)
	}

	if final.Status != StatusFailed {
		return
	}
	alert := alerting.Alert{
		Severity: alerting.SeverityWarning,
		Type:     alerting.TypeBackupFailed,
		Title:    fmt.Sprintf("Backup failed: %s", name),
		Message:  final.Error,
		TenantID: tenantID,
		Context:  map[string]string{"job_id": final.JobID, "execution_id": final.ID},
	}
	if panicked {
		alert.Severity = alerting.SeverityCritical
		alert.Type = alerting.TypeBackupCritical
		alert.Title = fmt.Sprintf("Backup crashed: %s", name)
		u.logger.Error("backup executor panicked", append(fields, zap.String("error", final.Error))...)
	}
	u.sendAlert(ctx, alert)
}

func failureMessage(result *Result, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case result == nil:
		return "backup executor returned no result"
	case result.Error != "":
		return result.Error
	}
	for _, d := range result.Destinations {
		if !d.Success {
			return fmt.Sprintf("upload to %s failed: %s", d.Destination, d.Error)
		}
	}
	return "backup failed"
}

// finalizeLocked moves the terminal current execution into history and
// returns the unit to idle.
func (u *Unit) finalizeLocked(ctx context.Context, now time.Time) {
	exec := u.current
	u.appendHistoryLocked(exec)
	u.job.Statistics.record(exec)
	u.job.Statistics.refreshWindow(u.history)

	if u.cancel != nil {
		u.cancel()
	}
	u.current = nil
	u.cancel = nil
	u.state = StateIdle
	close(u.finished)

	u.rescheduleLocked(now)
	if err := u.saveLocked(ctx); err != nil {
		u.persistFailed(ctx, err)
	}
	u.opts.Monitor.TrackExecution(ctx, exec.Clone())
}

func (u *Unit) appendHistoryLocked(exec *Execution) {
	u.history = append(u.history, exec)
	if over := len(u.history) - u.opts.HistoryLimit; over > 0 {
		u.history = append([]*Execution(nil), u.history[over:]...)
	}
}

// Cancel stops the in-flight execution. It returns false when nothing runs.
func (u *Unit) Cancel(ctx context.Context) bool {
	u.mu.Lock()
	if u.state != StateRunning || u.current == nil {
		u.mu.Unlock()
		return false
	}
	u.state = StateCancelling
	cancel := u.cancel
	done := u.done
	execID := u.current.ID
	u.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(u.opts.CancelGrace):
		u.logger.Warn("backup worker did not stop within grace period", zap.String("execution_id", execID))
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current != nil && u.current.ID == execID {
		now := u.opts.Clock()
		u.current.Status = StatusCancelled
		u.current.CompletedAt = &now
		u.current.Duration = now.Sub(u.current.StartedAt)
		u.current.Error = "cancelled"
		u.finalizeLocked(ctx, now)
	}
	u.logger.Info("backup execution cancelled", zap.String("execution_id", execID))
	return true
}

// UpdateConfiguration replaces the job definition and re-evaluates the schedule
func (u *Unit) UpdateConfiguration(ctx context.Context, job *Job) error {
	if job == nil {
		return &ValidationError{Field: "job", Reason: "required"}
	}
	job = job.Clone()
	job.ID = u.id
	if err := job.Validate(u.opts.Calculator.Cron); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.deleted {
		return ErrJobDeleted
	}
	if u.job == nil {
		return ErrNotInitialized
	}

	prev := u.job
	job.TenantID = prev.TenantID
	job.CreatedAt = prev.CreatedAt
	job.CreatedBy = prev.CreatedBy
	job.Statistics = prev.Statistics
	job.UpdatedAt = u.opts.Clock()

	u.job = job
	u.rescheduleLocked(job.UpdatedAt)
	if err := u.saveLocked(ctx); err != nil {
		u.job = prev
		u.rescheduleLocked(u.opts.Clock())
		return fmt.Errorf("failed to persist job: %w", err)
	}
	return nil
}

// Delete cancels any run, unschedules the job and removes its persisted state
func (u *Unit) Delete(ctx context.Context) error {
	u.Cancel(ctx)

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.deleted {
		return nil
	}
	if u.current != nil {
		// a run started after the cancellation above
		u.cancel()
		u.current = nil
		u.cancel = nil
		u.state = StateIdle
		close(u.finished)
	}
	u.stopTimerLocked()
	u.nextRun = nil
	u.deleted = true
	u.job = nil
	u.history = nil

	if err := u.opts.Store.Delete(ctx, database.KindBackupJob, u.id); err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("failed to delete job state: %w", err)
	}
	u.logger.Info("backup job deleted")
	return nil
}

// Job returns a copy of the job definition
func (u *Unit) Job() (*Job, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.job == nil {
		return nil, false
	}
	return u.job.Clone(), true
}

// State returns the unit's state
func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// IsRunning reports whether an execution is in flight
func (u *Unit) IsRunning() bool {
	return u.State() != StateIdle
}

// Current returns the in-flight execution, if any
func (u *Unit) Current() (*Execution, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current == nil {
		return nil, false
	}
	return u.current.Clone(), true
}

// NextRunAt returns the next scheduled instant
func (u *Unit) NextRunAt() (time.Time, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.nextRun == nil {
		return time.Time{}, false
	}
	return *u.nextRun, true
}

// IsDue reports whether the schedule is enabled and its next run has arrived
func (u *Unit) IsDue(now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.job == nil || !u.job.Schedule.Enabled || u.nextRun == nil {
		return false
	}
	return !u.nextRun.After(now)
}

// Statistics returns the job's statistics
func (u *Unit) Statistics() Statistics {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.job == nil {
		return Statistics{}
	}
	return u.job.Statistics
}

// History returns up to limit executions, newest first. limit <= 0 returns all.
func (u *Unit) History(limit int) []*Execution {
	u.mu.Lock()
	defer u.mu.Unlock()

	n := len(u.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Execution, 0, n)
	for i := len(u.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, u.history[i].Clone())
	}
	return out
}

// Execution looks up the current or a historical execution
func (u *Unit) Execution(id string) (*Execution, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.current != nil && u.current.ID == id {
		return u.current.Clone(), nil
	}
	for i := len(u.history) - 1; i >= 0; i-- {
		if u.history[i].ID == id {
			return u.history[i].Clone(), nil
		}
	}
	return nil, ErrExecutionNotFound(id)
}

// LastSuccessfulExecution returns the newest completed execution
func (u *Unit) LastSuccessfulExecution() (*Execution, bool) {
	return u.ExecutionAt(time.Time{})
}

// ExecutionAt returns the newest completed execution finished at or before t.
// A zero t matches any time.
func (u *Unit) ExecutionAt(t time.Time) (*Execution, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for i := len(u.history) - 1; i >= 0; i-- {
		e := u.history[i]
		if e.Status != StatusCompleted {
			continue
		}
		if t.IsZero() || !e.FinishedAt().After(t) {
			return e.Clone(), true
		}
	}
	return nil, false
}

// PurgeExpired removes executions older than the job's daily retention window
// and asks the purger to delete their data. It returns the number of
// executions that expired.
func (u *Unit) PurgeExpired(ctx context.Context, purger Purger) (int, error) {
	u.mu.Lock()
	if u.job == nil {
		u.mu.Unlock()
		return 0, ErrNotInitialized
	}
	days := u.job.Retention.DailyDays
	if days <= 0 {
		u.mu.Unlock()
		return 0, nil
	}
	cutoff := u.opts.Clock().AddDate(0, 0, -days)
	job := u.job.Clone()
	var expired []*Execution
	for _, e := range u.history {
		at := e.FinishedAt()
		if at.IsZero() {
			at = e.StartedAt
		}
		if at.Before(cutoff) {
			expired = append(expired, e.Clone())
		}
	}
	u.mu.Unlock()

	if len(expired) == 0 {
		return 0, nil
	}

	for _, e := range expired {
		if purger == nil || e.Status != StatusCompleted {
			continue
		}
		if err := purger.PurgeExecution(ctx, job, e); err != nil {
			u.logger.Warn("failed to purge backup data",
				zap.String("execution_id", e.ID),
				zap.Error(err))
		}
	}

	gone := make(map[string]bool, len(expired))
	for _, e := range expired {
		gone[e.ID] = true
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	kept := u.history[:0:0]
	for _, e := range u.history {
		if !gone[e.ID] {
			kept = append(kept, e)
		}
	}
	u.history = kept
	if u.job != nil {
		u.job.Statistics.refreshWindow(u.history)
	}
	if err := u.saveLocked(ctx); err != nil {
		return len(expired), fmt.Errorf("failed to persist after cleanup: %w", err)
	}
	u.logger.Info("expired executions purged", zap.Int("count", len(expired)))
	return len(expired), nil
}

// Close stops the schedule timer without touching persisted state
func (u *Unit) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopTimerLocked()
}

func (u *Unit) rescheduleLocked(now time.Time) {
	u.stopTimerLocked()
	u.nextRun = nil
	if u.deleted || u.job == nil {
		return
	}
	next, ok := u.opts.Calculator.Next(u.job.Schedule, now)
	if !ok {
		return
	}
	u.nextRun = &next

	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	gen := u.timerGen
	u.timer = time.AfterFunc(delay, func() { u.fire(gen) })
}

func (u *Unit) stopTimerLocked() {
	u.timerGen++
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
}

// fire runs when the timer armed at generation gen expires. A timer that
// was replaced or stopped while fire waited for the lock does nothing.
func (u *Unit) fire(gen uint64) {
	u.mu.Lock()
	if gen != u.timerGen || u.deleted || u.job == nil {
		u.mu.Unlock()
		return
	}
	u.timer = nil
	onDue := u.opts.OnDue
	u.mu.Unlock()

	if onDue != nil {
		onDue(u.id)
		return
	}
	if _, err := u.Start(context.Background(), TriggerScheduled); err != nil {
		u.logger.Debug("scheduled run skipped", zap.Error(err))
	}
}

func (u *Unit) saveLocked(ctx context.Context) error {
	if u.job == nil {
		return nil
	}
	return u.opts.Store.Save(ctx, database.KindBackupJob, u.id, persisted{
		Job:       u.job,
		History:   u.history,
		Current:   u.current,
		NextRunAt: u.nextRun,
	})
}

func (u *Unit) persistFailed(ctx context.Context, err error) {
	u.logger.Error("failed to persist job state", zap.Error(err))
	tenantID := ""
	if u.job != nil {
		tenantID = u.job.TenantID
	}
	go u.sendAlert(context.WithoutCancel(ctx), alerting.Alert{
		Severity: alerting.SeverityCritical,
		Type:     alerting.TypePersistenceFailure,
		Title:    "Backup job state not persisted",
		Message:  err.Error(),
		TenantID: tenantID,
		Context:  map[string]string{"job_id": u.id},
	})
}

func (u *Unit) sendAlert(ctx context.Context, alert alerting.Alert) {
	if err := u.opts.Alerts.SendAlert(ctx, alert); err != nil {
		u.logger.Warn("failed to send alert", zap.String("type", string(alert.Type)), zap.Error(err))
	}
}

// watchProgress pushes the executor's latest progress to the monitor on a
// fixed interval until stop is called.
func (u *Unit) watchProgress(ctx context.Context, execID string, tracker *progressTracker) (stop func()) {
	ticker := time.NewTicker(u.opts.ProgressInterval)
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := -1.0
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				pct := tracker.get()
				if pct == last {
					continue
				}
				last = pct
				u.reportProgress(ctx, execID, pct)
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(quit)
		wg.Wait()
	}
}

func (u *Unit) reportProgress(ctx context.Context, execID string, pct float64) {
	u.mu.Lock()
	if u.current == nil || u.current.ID != execID {
		u.mu.Unlock()
		return
	}
	u.current.Progress = pct
	snapshot := u.current.Clone()
	u.mu.Unlock()

	u.opts.Monitor.UpdateProgress(ctx, snapshot, pct)
}

type progressTracker struct {
	mu  sync.Mutex
	pct float64
}

func (p *progressTracker) set(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	p.mu.Lock()
	p.pct = pct
	p.mu.Unlock()
}

func (p *progressTracker) get() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pct
}

// SortByPriority orders jobs by priority descending, then next run ascending
func SortByPriority(units []*Unit) {
	type key struct {
		priority Priority
		next     time.Time
		has      bool
	}
	keys := make(map[*Unit]key, len(units))
	for _, u := range units {
		k := key{}
		if job, ok := u.Job(); ok {
			k.priority = job.Priority
		}
		k.next, k.has = u.NextRunAt()
		keys[u] = k
	}
	sort.SliceStable(units, func(i, j int) bool {
		a, b := keys[units[i]], keys[units[j]]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.has != b.has {
			return a.has
		}
		return a.next.Before(b.next)
	})
}
