// internal/tenant/coordinator.go
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/database"
	"github.com/FairForge/vaultaire-recovery/internal/health"
	"github.com/FairForge/vaultaire-recovery/internal/schedule"
)

// Health component names
const (
	ComponentActiveJobs    = "active-jobs"
	ComponentBackupSuccess = "backup-success"
	ComponentStorageUsage  = "storage-usage"
)

// Options wires coordinators to their collaborators
type Options struct {
	Config     Config
	Store      database.Store
	Executor   backup.Executor
	Restorer   backup.Restorer
	Purger     backup.Purger
	Prober     backup.ConnectivityProber
	Monitor    backup.Monitor
	Alerts     alerting.Sender
	Calculator *schedule.Calculator
	Logger     *zap.Logger
	Clock      func() time.Time

	// HealthObserver receives every computed health status
	HealthObserver func(tenantID string, status health.Status)

	ProgressInterval time.Duration
	CancelGrace      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Store == nil {
		o.Store = database.NewMemoryStore()
	}
	if o.Alerts == nil {
		o.Alerts = alerting.Nop{}
	}
	if o.Calculator == nil {
		o.Calculator = schedule.NewCalculator()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	o.Config = o.Config.withDefaults()
	return o
}

// coordinatorState is the coordinator's durable state
type coordinatorState struct {
	TenantID   string         `json:"tenant_id"`
	JobIDs     []string       `json:"job_ids"`
	Config     Config         `json:"config"`
	LastHealth *health.Status `json:"last_health,omitempty"`
}

// Statistics is a derived view across all of a tenant's jobs
type Statistics struct {
	TenantID             string        `json:"tenant_id"`
	TotalJobs            int           `json:"total_jobs"`
	ActiveJobs           int           `json:"active_jobs"`
	RunningJobs          int           `json:"running_jobs"`
	TotalExecutions      int64         `json:"total_executions"`
	SuccessfulExecutions int64         `json:"successful_executions"`
	FailedExecutions     int64         `json:"failed_executions"`
	CancelledExecutions  int64         `json:"cancelled_executions"`
	SuccessRate          float64       `json:"success_rate"`
	TotalSizeBytes       int64         `json:"total_size_bytes"`
	AverageDuration      time.Duration `json:"average_duration"`
	LastBackupAt         *time.Time    `json:"last_backup_at,omitempty"`
	LastSuccessAt        *time.Time    `json:"last_success_at,omitempty"`
	ComputedAt           time.Time     `json:"computed_at"`
}

// StorageUsage reports retained backup volume against the tenant quota
type StorageUsage struct {
	TenantID    string           `json:"tenant_id"`
	UsedBytes   int64            `json:"used_bytes"`
	QuotaBytes  int64            `json:"quota_bytes"`
	UsedPercent float64          `json:"used_percent"`
	PerJob      map[string]int64 `json:"per_job"`
}

// AdmissionReport describes one scheduling pass
type AdmissionReport struct {
	Started []string          `json:"started"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Coordinator owns one tenant's jobs. It gates concurrent backups, derives
// statistics and health across jobs, runs cleanup and emergency backups.
type Coordinator struct {
	tenant *Tenant
	opts   Options
	logger *zap.Logger

	mu         sync.RWMutex
	config     Config
	units      map[string]*backup.Unit
	order      []string
	lastHealth *health.Status

	admitMu sync.Mutex

	loopMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewCoordinator creates a coordinator for tenantID
func NewCoordinator(tenantID string, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		tenant: New(tenantID),
		opts:   opts,
		logger: opts.Logger.Named("tenant").With(zap.String("tenant_id", tenantID)),
		config: opts.Config,
		units:  make(map[string]*backup.Unit),
	}
}

// TenantID returns the owning tenant
func (c *Coordinator) TenantID() string {
	return c.tenant.ID
}

// Config returns the coordinator's settings
func (c *Coordinator) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// UpdateConfig replaces the tenant settings
func (c *Coordinator) UpdateConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return &backup.ValidationError{Field: "config", Reason: err.Error()}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.config
	c.config = cfg.withDefaults()
	if err := c.saveLocked(ctx); err != nil {
		c.config = prev
		return err
	}
	return nil
}

func (c *Coordinator) newUnit(id string) *backup.Unit {
	return backup.NewUnit(id, backup.UnitOptions{
		Executor:         c.opts.Executor,
		Store:            c.opts.Store,
		Monitor:          c.opts.Monitor,
		Alerts:           c.opts.Alerts,
		Calculator:       c.opts.Calculator,
		Logger:           c.opts.Logger,
		Clock:            c.opts.Clock,
		ProgressInterval: c.opts.ProgressInterval,
		CancelGrace:      c.opts.CancelGrace,
		OnDue:            c.onDue,
	})
}

// Restore reloads the tenant's job list and every job's unit
func (c *Coordinator) Restore(ctx context.Context) (bool, error) {
	var st coordinatorState
	if err := c.opts.Store.Load(ctx, database.KindTenant, c.tenant.ID, &st); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load tenant state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.config = st.Config.withDefaults()
	c.lastHealth = st.LastHealth
	for _, id := range st.JobIDs {
		unit := c.newUnit(id)
		ok, err := unit.Restore(ctx)
		if err != nil {
			c.logger.Error("failed to restore job", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if !ok {
			c.logger.Warn("job listed but has no state", zap.String("job_id", id))
			continue
		}
		c.units[id] = unit
		c.order = append(c.order, id)
	}
	c.logger.Info("tenant restored", zap.Int("jobs", len(c.order)))
	return true, nil
}

// CreateJob validates and probes the destinations, then registers a new job
func (c *Coordinator) CreateJob(ctx context.Context, req *backup.Job) (*backup.Job, error) {
	if req == nil {
		return nil, &backup.ValidationError{Field: "job", Reason: "required"}
	}
	job := req.Clone()
	job.TenantID = c.tenant.ID
	if err := job.Validate(c.opts.Calculator.Cron); err != nil {
		return nil, err
	}
	if err := c.probeDestinations(ctx, job.Destinations); err != nil {
		return nil, err
	}
	return c.register(ctx, job)
}

func (c *Coordinator) register(ctx context.Context, job *backup.Job) (*backup.Job, error) {
	id := uuid.New().String()
	unit := c.newUnit(id)
	if err := unit.Initialize(ctx, job); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.units[id] = unit
	c.order = append(c.order, id)
	err := c.saveLocked(ctx)
	if err != nil {
		delete(c.units, id)
		c.order = c.order[:len(c.order)-1]
	}
	c.mu.Unlock()

	if err != nil {
		if derr := unit.Delete(ctx); derr != nil {
			c.logger.Warn("failed to remove orphaned job", zap.String("job_id", id), zap.Error(derr))
		}
		return nil, fmt.Errorf("failed to persist tenant: %w", err)
	}

	created, _ := unit.Job()
	c.logger.Info("backup job created", zap.String("job_id", id), zap.String("name", created.Name))
	return created, nil
}

func (c *Coordinator) probeDestinations(ctx context.Context, dests []backup.Destination) error {
	if c.opts.Prober == nil {
		return nil
	}
	for _, d := range dests {
		if !c.opts.Prober.TestConnection(ctx, d) {
			c.logger.Warn("destination unreachable", zap.String("destination", d.Name))
			return &backup.ValidationError{Field: "destinations", Reason: fmt.Sprintf("destination %s is unreachable", d.Name)}
		}
	}
	return nil
}

// UpdateJob replaces a job's definition
func (c *Coordinator) UpdateJob(ctx context.Context, id string, req *backup.Job) (*backup.Job, error) {
	unit, err := c.unit(id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, &backup.ValidationError{Field: "job", Reason: "required"}
	}
	job := req.Clone()
	job.TenantID = c.tenant.ID
	if err := job.Validate(c.opts.Calculator.Cron); err != nil {
		return nil, err
	}
	if err := c.probeDestinations(ctx, job.Destinations); err != nil {
		return nil, err
	}
	if err := unit.UpdateConfiguration(ctx, job); err != nil {
		return nil, err
	}
	updated, _ := unit.Job()
	return updated, nil
}

// DeleteJob unschedules the job, then removes its state
func (c *Coordinator) DeleteJob(ctx context.Context, id string) error {
	unit, err := c.unit(id)
	if err != nil {
		return err
	}
	if err := unit.Delete(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.units, id)
	for i, jid := range c.order {
		if jid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if err := c.saveLocked(ctx); err != nil {
		return fmt.Errorf("failed to persist tenant: %w", err)
	}
	c.logger.Info("backup job deleted", zap.String("job_id", id))
	return nil
}

// GetJob returns one job
func (c *Coordinator) GetJob(id string) (*backup.Job, error) {
	unit, err := c.unit(id)
	if err != nil {
		return nil, err
	}
	job, ok := unit.Job()
	if !ok {
		return nil, backup.ErrJobNotFound(id)
	}
	return job, nil
}

// ListJobs returns every job in creation order
func (c *Coordinator) ListJobs() []*backup.Job {
	jobs := make([]*backup.Job, 0)
	for _, u := range c.snapshot() {
		if job, ok := u.Job(); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// ExecuteJob starts a manual run. It ignores the concurrency ceiling but not
// the one-run-per-job rule.
func (c *Coordinator) ExecuteJob(ctx context.Context, id string) (*backup.Execution, error) {
	unit, err := c.unit(id)
	if err != nil {
		return nil, err
	}
	return unit.Start(ctx, backup.TriggerManual)
}

// RunJob starts a run and waits for it to finish
func (c *Coordinator) RunJob(ctx context.Context, id string, trigger backup.Trigger) (*backup.Execution, error) {
	unit, err := c.unit(id)
	if err != nil {
		return nil, err
	}
	return unit.Execute(ctx, trigger)
}

// CancelJob cancels the job's in-flight run
func (c *Coordinator) CancelJob(ctx context.Context, id string) (bool, error) {
	unit, err := c.unit(id)
	if err != nil {
		return false, err
	}
	return unit.Cancel(ctx), nil
}

// History returns the job's executions, newest first
func (c *Coordinator) History(id string, limit int) ([]*backup.Execution, error) {
	unit, err := c.unit(id)
	if err != nil {
		return nil, err
	}
	return unit.History(limit), nil
}

// Execution returns one execution of a job
func (c *Coordinator) Execution(jobID, execID string) (*backup.Execution, error) {
	unit, err := c.unit(jobID)
	if err != nil {
		return nil, err
	}
	return unit.Execution(execID)
}

// LastSuccessfulBackup returns the job's newest completed execution
func (c *Coordinator) LastSuccessfulBackup(id string) (*backup.Execution, error) {
	unit, err := c.unit(id)
	if err != nil {
		return nil, err
	}
	exec, ok := unit.LastSuccessfulExecution()
	if !ok {
		return nil, backup.ErrNoSuccessfulBackup
	}
	return exec, nil
}

// ExecuteScheduledBackups starts every due job without waiting, in priority
// order, until the concurrency ceiling is reached. Jobs over the ceiling are
// skipped this pass and stay due.
func (c *Coordinator) ExecuteScheduledBackups(ctx context.Context) AdmissionReport {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	report := AdmissionReport{Started: []string{}, Skipped: []string{}}
	now := c.opts.Clock()
	units := c.snapshot()

	running := 0
	var due []*backup.Unit
	for _, u := range units {
		if u.IsRunning() {
			running++
			continue
		}
		if u.IsDue(now) {
			due = append(due, u)
		}
	}
	if len(due) == 0 {
		return report
	}
	backup.SortByPriority(due)

	capacity := c.Config().MaxConcurrentBackups - running
	for _, u := range due {
		if capacity <= 0 {
			report.Skipped = append(report.Skipped, u.ID())
			continue
		}
		if _, err := u.Start(ctx, backup.TriggerScheduled); err != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[u.ID()] = err.Error()
			continue
		}
		report.Started = append(report.Started, u.ID())
		capacity--
	}

	if len(report.Skipped) > 0 {
		c.logger.Warn("concurrency ceiling reached, due jobs skipped",
			zap.Int("started", len(report.Started)),
			zap.Strings("skipped", report.Skipped))
	} else {
		c.logger.Info("scheduled backups started", zap.Strings("jobs", report.Started))
	}
	return report
}

func (c *Coordinator) onDue(string) {
	c.ExecuteScheduledBackups(context.Background())
}

// GetStatistics recomputes tenant statistics from the job-level statistics
func (c *Coordinator) GetStatistics() Statistics {
	stats := Statistics{TenantID: c.tenant.ID, ComputedAt: c.opts.Clock()}
	var weighted time.Duration

	for _, u := range c.snapshot() {
		job, ok := u.Job()
		if !ok {
			continue
		}
		stats.TotalJobs++
		if job.Schedule.Enabled {
			stats.ActiveJobs++
		}
		if u.IsRunning() {
			stats.RunningJobs++
		}

		js := job.Statistics
		stats.TotalExecutions += js.TotalExecutions
		stats.SuccessfulExecutions += js.SuccessfulExecutions
		stats.FailedExecutions += js.FailedExecutions
		stats.CancelledExecutions += js.CancelledExecutions
		stats.TotalSizeBytes += js.TotalSizeBytes
		weighted += js.AverageDuration * time.Duration(js.SuccessfulExecutions)
		stats.LastBackupAt = latest(stats.LastBackupAt, js.LastExecutionAt)
		stats.LastSuccessAt = latest(stats.LastSuccessAt, js.LastSuccessAt)
	}

	stats.SuccessRate = backup.SuccessRateOf(stats.SuccessfulExecutions, stats.TotalExecutions)
	if stats.SuccessfulExecutions > 0 {
		stats.AverageDuration = weighted / time.Duration(stats.SuccessfulExecutions)
	}
	return stats
}

func latest(a, b *time.Time) *time.Time {
	if b == nil {
		return a
	}
	if a == nil || b.After(*a) {
		t := *b
		return &t
	}
	return a
}

// GetStorageUsage sums the retained backup volume per job
func (c *Coordinator) GetStorageUsage() StorageUsage {
	quota := c.Config().StorageQuotaBytes
	usage := StorageUsage{TenantID: c.tenant.ID, QuotaBytes: quota, PerJob: make(map[string]int64)}
	for _, u := range c.snapshot() {
		size := u.Statistics().TotalSizeBytes
		usage.PerJob[u.ID()] = size
		usage.UsedBytes += size
	}
	if quota > 0 {
		usage.UsedPercent = float64(usage.UsedBytes) / float64(quota) * 100
	}
	return usage
}

// GetHealthStatus folds active-jobs, backup-success and storage-usage into
// one status and caches it.
func (c *Coordinator) GetHealthStatus(ctx context.Context) health.Status {
	now := c.opts.Clock()
	units := c.snapshot()
	cfg := c.Config()

	components := []health.Component{
		c.activeJobsComponent(units),
		c.successComponent(units, now, cfg.RecentWindow),
		c.storageComponent(),
	}
	status := health.Fold(components)
	status.CheckedAt = now

	c.mu.Lock()
	c.lastHealth = &status
	if err := c.saveLocked(ctx); err != nil {
		c.logger.Warn("failed to persist health snapshot", zap.Error(err))
	}
	c.mu.Unlock()

	if c.opts.HealthObserver != nil {
		c.opts.HealthObserver(c.tenant.ID, status)
	}
	return status
}

// LastHealth returns the most recently computed status
func (c *Coordinator) LastHealth() (health.Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastHealth == nil {
		return health.Status{}, false
	}
	return *c.lastHealth, true
}

func (c *Coordinator) activeJobsComponent(units []*backup.Unit) health.Component {
	active := 0
	for _, u := range units {
		if job, ok := u.Job(); ok && job.Schedule.Enabled {
			active++
		}
	}
	comp := health.Component{
		Name:    ComponentActiveJobs,
		Level:   health.Healthy,
		Message: fmt.Sprintf("%d active jobs", active),
		Details: map[string]any{"active_jobs": active, "total_jobs": len(units)},
	}
	if active == 0 {
		comp.Level = health.Degraded
		comp.Message = "no active backup jobs"
	}
	return comp
}

func (c *Coordinator) successComponent(units []*backup.Unit, now time.Time, window time.Duration) health.Component {
	var ok, total, lifeOK, lifeTotal int64
	since := now.Add(-window)
	for _, u := range units {
		s := u.Statistics()
		lifeOK += s.SuccessfulExecutions
		lifeTotal += s.TotalExecutions
		for _, e := range u.History(0) {
			if e.FinishedAt().Before(since) {
				break
			}
			switch e.Status {
			case backup.StatusCompleted:
				ok++
				total++
			case backup.StatusFailed:
				total++
			}
		}
	}

	source := "recent"
	if total == 0 {
		ok, total, source = lifeOK, lifeTotal, "lifetime"
	}
	if total == 0 {
		return health.Component{Name: ComponentBackupSuccess, Level: health.Healthy, Message: "no executions yet"}
	}
	rate := backup.SuccessRateOf(ok, total)
	return health.Component{
		Name:    ComponentBackupSuccess,
		Level:   health.FromSuccessRate(rate),
		Message: fmt.Sprintf("%.1f%% success rate (%s)", rate, source),
		Details: map[string]any{"success_rate": rate, "executions": total, "window": source},
	}
}

func (c *Coordinator) storageComponent() health.Component {
	usage := c.GetStorageUsage()
	if usage.QuotaBytes == 0 {
		return health.Component{Name: ComponentStorageUsage, Level: health.Healthy, Message: "no storage quota"}
	}
	return health.Component{
		Name:    ComponentStorageUsage,
		Level:   health.FromUsagePercent(usage.UsedPercent),
		Message: fmt.Sprintf("%.1f%% of quota used", usage.UsedPercent),
		Details: map[string]any{"used_bytes": usage.UsedBytes, "quota_bytes": usage.QuotaBytes},
	}
}

// checkHealth alerts when the tenant is unhealthy or critical
func (c *Coordinator) checkHealth(ctx context.Context) {
	status := c.GetHealthStatus(ctx)
	if !status.NeedsAttention() {
		return
	}
	severity := alerting.SeverityWarning
	if status.Level == health.Critical {
		severity = alerting.SeverityCritical
	}
	c.sendAlert(ctx, alerting.Alert{
		Severity: severity,
		Type:     alerting.TypeHealthDegraded,
		Title:    fmt.Sprintf("Backup health %s", status.Level),
		Message:  fmt.Sprintf("score %.1f: %v", status.Score, status.Issues()),
		TenantID: c.tenant.ID,
	})
}

// TriggerEmergencyBackup creates a critical-priority full backup and starts it
// immediately, bypassing the schedule and the concurrency ceiling.
func (c *Coordinator) TriggerEmergencyBackup(ctx context.Context, reason, initiatedBy string) (*backup.Execution, error) {
	cfg := c.Config()
	if !cfg.EnableEmergencyBackups {
		return nil, ErrEmergencyDisabled
	}

	dests := cfg.DefaultDestinations
	if len(dests) == 0 {
		dests = c.jobDestinations()
	}
	if len(dests) == 0 {
		return nil, &backup.ValidationError{Field: "destinations", Reason: "no destination available for emergency backup"}
	}

	now := c.opts.Clock()
	job := &backup.Job{
		TenantID:     c.tenant.ID,
		Name:         fmt.Sprintf("emergency-%s", now.UTC().Format("20060102T150405Z")),
		Description:  reason,
		Type:         backup.TypeFull,
		Scope:        backup.Scope{Full: true},
		Schedule:     schedule.Schedule{Frequency: schedule.Daily},
		Retention:    backup.Retention{DailyDays: 30},
		Destinations: dests,
		Priority:     backup.PriorityCritical,
		Tags:         map[string]string{"emergency": "true", "reason": reason},
		CreatedBy:    initiatedBy,
	}
	created, err := c.register(ctx, job)
	if err != nil {
		return nil, err
	}
	unit, err := c.unit(created.ID)
	if err != nil {
		return nil, err
	}

	exec, err := unit.Start(ctx, backup.TriggerEmergency)
	if err != nil {
		c.emergencyAlert(ctx, created, nil, err)
		return nil, err
	}
	c.logger.Warn("emergency backup started",
		zap.String("job_id", created.ID),
		zap.String("reason", reason),
		zap.String("initiated_by", initiatedBy))

	go func() {
		bg := context.WithoutCancel(ctx)
		final, werr := unit.Wait(bg, exec.ID)
		c.emergencyAlert(bg, created, final, werr)
	}()
	return exec, nil
}

func (c *Coordinator) emergencyAlert(ctx context.Context, job *backup.Job, exec *backup.Execution, err error) {
	outcome := "failed"
	msg := ""
	alertCtx := map[string]string{"job_id": job.ID, "reason": job.Description}
	switch {
	case err != nil:
		msg = err.Error()
	case exec != nil:
		outcome = string(exec.Status)
		msg = exec.Error
		alertCtx["execution_id"] = exec.ID
	}
	if msg == "" {
		msg = "emergency backup " + outcome
	}
	c.sendAlert(ctx, alerting.Alert{
		Severity: alerting.SeverityCritical,
		Type:     alerting.TypeEmergencyBackup,
		Title:    fmt.Sprintf("Emergency backup %s", outcome),
		Message:  msg,
		TenantID: c.tenant.ID,
		Context:  alertCtx,
	})
}

// jobDestinations returns the union of all job destinations by name
func (c *Coordinator) jobDestinations() []backup.Destination {
	seen := make(map[string]bool)
	var out []backup.Destination
	for _, job := range c.ListJobs() {
		for _, d := range job.Destinations {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			out = append(out, d)
		}
	}
	return out
}

// CleanupExpiredBackups purges executions past each job's retention window.
// It returns the number of expired executions.
func (c *Coordinator) CleanupExpiredBackups(ctx context.Context) (int, error) {
	if !c.Config().AutoCleanup {
		return 0, nil
	}
	total := 0
	var errs []error
	for _, u := range c.snapshot() {
		n, err := u.PurgeExpired(ctx, c.opts.Purger)
		total += n
		if err != nil && !errors.Is(err, backup.ErrNotInitialized) {
			errs = append(errs, fmt.Errorf("job %s: %w", u.ID(), err))
		}
	}
	if total > 0 {
		c.logger.Info("expired backups cleaned up", zap.Int("count", total))
	}
	return total, errors.Join(errs...)
}

// RestoreJob restores one of the job's completed executions. The execution is
// chosen by id, by point in time, or defaults to the newest.
func (c *Coordinator) RestoreJob(ctx context.Context, req *backup.RestoreRequest) (*backup.RestoreResult, error) {
	if req == nil {
		return nil, &backup.ValidationError{Field: "restore", Reason: "required"}
	}
	if c.opts.Restorer == nil {
		return nil, ErrRestoreUnavailable
	}
	unit, err := c.unit(req.JobID)
	if err != nil {
		return nil, err
	}
	job, ok := unit.Job()
	if !ok {
		return nil, backup.ErrJobNotFound(req.JobID)
	}

	if req.Type == "" {
		req.Type = backup.RestoreFull
	}
	var exec *backup.Execution
	switch req.Type {
	case backup.RestoreFull, backup.RestorePartial:
		if req.Type == backup.RestorePartial && len(req.Paths) == 0 {
			return nil, &backup.ValidationError{Field: "paths", Reason: "partial restore requires paths"}
		}
		if req.ExecutionID != "" {
			exec, err = unit.Execution(req.ExecutionID)
			if err != nil {
				return nil, err
			}
		} else if exec, ok = unit.LastSuccessfulExecution(); !ok {
			return nil, backup.ErrNoSuccessfulBackup
		}
	case backup.RestorePointInTime:
		if req.PointInTime.IsZero() {
			return nil, &backup.ValidationError{Field: "point_in_time", Reason: "required"}
		}
		if exec, ok = unit.ExecutionAt(req.PointInTime); !ok {
			return nil, backup.ErrNoSuccessfulBackup
		}
	default:
		return nil, &backup.ValidationError{Field: "type", Reason: "must be full, partial or point_in_time"}
	}
	if exec.Status != backup.StatusCompleted {
		return nil, &backup.ValidationError{Field: "execution_id", Reason: "execution did not complete"}
	}

	r := *req
	r.TenantID = c.tenant.ID
	r.Execution = exec
	r.Destinations = job.Destinations

	c.logger.Info("restore started",
		zap.String("job_id", job.ID),
		zap.String("execution_id", exec.ID),
		zap.String("type", string(r.Type)))
	result, err := c.opts.Restorer.ExecuteRestore(ctx, &r)
	if err != nil {
		c.logger.Warn("restore failed", zap.String("job_id", job.ID), zap.Error(err))
		return &backup.RestoreResult{Success: false, ExecutionID: exec.ID, Error: err.Error()}, nil
	}
	return result, nil
}

// Start launches the schedule, health and cleanup loops
func (c *Coordinator) Start(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	cfg := c.Config()

	c.wg.Add(3)
	go c.loop(ctx, stop, cfg.ScheduleInterval, func(ctx context.Context) { c.ExecuteScheduledBackups(ctx) })
	go c.loop(ctx, stop, cfg.HealthCheckInterval, c.checkHealth)
	go c.loop(ctx, stop, cfg.CleanupInterval, func(ctx context.Context) {
		if _, err := c.CleanupExpiredBackups(ctx); err != nil {
			c.logger.Warn("cleanup failed", zap.Error(err))
		}
	})
}

// Stop halts the loops and the job timers. Running executions continue.
func (c *Coordinator) Stop() {
	c.loopMu.Lock()
	if c.running {
		close(c.stopCh)
		c.running = false
	}
	c.loopMu.Unlock()
	c.wg.Wait()

	for _, u := range c.snapshot() {
		u.Close()
	}
}

func (c *Coordinator) loop(ctx context.Context, stop <-chan struct{}, interval time.Duration, fn func(context.Context)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (c *Coordinator) unit(id string) (*backup.Unit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.units[id]
	if !ok {
		return nil, backup.ErrJobNotFound(id)
	}
	return u, nil
}

func (c *Coordinator) snapshot() []*backup.Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*backup.Unit, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.units[id])
	}
	return out
}

func (c *Coordinator) saveLocked(ctx context.Context) error {
	return c.opts.Store.Save(ctx, database.KindTenant, c.tenant.ID, coordinatorState{
		TenantID:   c.tenant.ID,
		JobIDs:     append([]string(nil), c.order...),
		Config:     c.config,
		LastHealth: c.lastHealth,
	})
}

func (c *Coordinator) sendAlert(ctx context.Context, alert alerting.Alert) {
	if err := c.opts.Alerts.SendAlert(ctx, alert); err != nil {
		c.logger.Warn("failed to send alert", zap.String("type", string(alert.Type)), zap.Error(err))
	}
}
