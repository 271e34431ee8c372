package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/database"
	"github.com/FairForge/vaultaire-recovery/internal/health"
	"github.com/FairForge/vaultaire-recovery/internal/schedule"
)

func TestTenantNamespace(t *testing.T) {
	tenant1 := New("customer-1")
	tenant2 := &Tenant{ID: "customer-2"}

	assert.Equal(t, "tenant/customer-1/jobs/a.tar", tenant1.NamespaceKey("jobs/a.tar"))
	assert.Equal(t, "tenant/customer-2/jobs/a.tar", tenant2.NamespaceKey("jobs/a.tar"))

	ctx := WithTenant(context.Background(), tenant1)
	got, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "customer-1", got.ID)

	_, err = FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoTenant)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// gatedExecutor blocks every run until released
type gatedExecutor struct {
	release chan struct{}
	size    int64
	fail    bool
}

func (g *gatedExecutor) ExecuteBackup(ctx context.Context, job *backup.Job, progress backup.ProgressFunc) (*backup.Result, error) {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.fail {
		return &backup.Result{Success: false, Error: "disk full"}, nil
	}
	return &backup.Result{Success: true, SizeBytes: g.size}, nil
}

type staticProber map[string]bool

func (p staticProber) TestConnection(_ context.Context, d backup.Destination) bool {
	return p[d.Name]
}

type fakeRestorer struct {
	mu   sync.Mutex
	reqs []*backup.RestoreRequest
	err  error
}

func (f *fakeRestorer) ExecuteRestore(_ context.Context, req *backup.RestoreRequest) (*backup.RestoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &backup.RestoreResult{Success: true, ExecutionID: req.Execution.ID, RestoredFiles: 3}, nil
}

type countingPurger struct {
	mu sync.Mutex
	n  int
}

func (p *countingPurger) PurgeExecution(context.Context, *backup.Job, *backup.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return nil
}

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func dailyJob(name string, priority backup.Priority) *backup.Job {
	return &backup.Job{
		Name:     name,
		Type:     backup.TypeFull,
		Scope:    backup.Scope{Full: true},
		Schedule: schedule.Schedule{Enabled: true, Frequency: schedule.Daily, TimeOfDay: schedule.At(2, 0)},
		Retention: backup.Retention{
			DailyDays: 7,
		},
		Destinations: []backup.Destination{{Name: "primary", Type: backup.DestinationLocal, Path: "/srv/backup"}},
		Priority:     priority,
	}
}

type fixture struct {
	coord    *Coordinator
	clock    *fakeClock
	store    *database.MemoryStore
	alerts   *alerting.Manager
	executor *gatedExecutor
	restorer *fakeRestorer
	purger   *countingPurger
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &fakeClock{now: t0},
		store:    database.NewMemoryStore(),
		alerts:   alerting.NewManager(alerting.ManagerConfig{}, nil),
		executor: &gatedExecutor{size: 100},
		restorer: &fakeRestorer{},
		purger:   &countingPurger{},
	}
	f.coord = NewCoordinator("tenant-1", f.options(cfg))
	t.Cleanup(func() {
		if f.executor.release != nil {
			select {
			case <-f.executor.release:
			default:
				close(f.executor.release)
			}
		}
		f.coord.Stop()
	})
	return f
}

func (f *fixture) options(cfg Config) Options {
	return Options{
		Config:      cfg,
		Store:       f.store,
		Executor:    f.executor,
		Restorer:    f.restorer,
		Purger:      f.purger,
		Prober:      staticProber{"primary": true, "offsite": true},
		Alerts:      f.alerts,
		Clock:       f.clock.Now,
		CancelGrace: 50 * time.Millisecond,
	}
}

func (f *fixture) hasAlert(typ alerting.Type) bool {
	for _, a := range f.alerts.Recent(0) {
		if a.Type == typ {
			return true
		}
	}
	return false
}

func TestCoordinator_CreateJob(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "tenant-1", job.TenantID)

	got, err := f.coord.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Len(t, f.coord.ListJobs(), 1)

	keys, err := f.store.Keys(ctx, database.KindTenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-1"}, keys)
}

func TestCoordinator_CreateJobUnreachableDestination(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	req := dailyJob("nightly", backup.PriorityNormal)
	req.Destinations = append(req.Destinations, backup.Destination{Name: "tape", Type: backup.DestinationLocal, Path: "/mnt/tape"})

	_, err := f.coord.CreateJob(ctx, req)
	assert.ErrorIs(t, err, backup.ErrValidation)
	assert.Contains(t, err.Error(), "tape")
	assert.Empty(t, f.coord.ListJobs())

	keys, err := f.store.Keys(ctx, database.KindBackupJob)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCoordinator_CreateJobValidation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	req := dailyJob("", backup.PriorityNormal)
	_, err := f.coord.CreateJob(context.Background(), req)
	assert.ErrorIs(t, err, backup.ErrValidation)
}

func TestCoordinator_ExecuteScheduledBackupsRespectsCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentBackups = 1
	f := newFixture(t, cfg)
	f.executor.release = make(chan struct{})
	ctx := context.Background()

	low, err := f.coord.CreateJob(ctx, dailyJob("low", backup.PriorityLow))
	require.NoError(t, err)
	high, err := f.coord.CreateJob(ctx, dailyJob("high", backup.PriorityHigh))
	require.NoError(t, err)

	lowUnit, err := f.coord.unit(low.ID)
	require.NoError(t, err)
	dueAt, ok := lowUnit.NextRunAt()
	require.True(t, ok)

	f.clock.Set(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC))
	report := f.coord.ExecuteScheduledBackups(ctx)

	assert.Equal(t, []string{high.ID}, report.Started)
	assert.Equal(t, []string{low.ID}, report.Skipped)
	assert.Equal(t, 1, f.coord.GetStatistics().RunningJobs)

	assert.False(t, lowUnit.IsRunning())
	assert.True(t, lowUnit.IsDue(f.clock.Now()), "skipped job stays due")
	next, ok := lowUnit.NextRunAt()
	require.True(t, ok)
	assert.Equal(t, dueAt, next)

	again := f.coord.ExecuteScheduledBackups(ctx)
	assert.Empty(t, again.Started)
	assert.Equal(t, []string{low.ID}, again.Skipped)
}

func TestCoordinator_ExecuteScheduledBackupsNothingDue(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	_, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)

	report := f.coord.ExecuteScheduledBackups(ctx)
	assert.Empty(t, report.Started)
	assert.Empty(t, report.Skipped)
}

func TestCoordinator_ExecuteJobAndHistory(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)

	exec, err := f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, backup.StatusCompleted, exec.Status)

	history, err := f.coord.History(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	got, err := f.coord.Execution(job.ID, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)

	_, err = f.coord.ExecuteJob(ctx, "missing")
	assert.ErrorIs(t, err, backup.ErrNotFound)

	cancelled, err := f.coord.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCoordinator_UpdateAndDeleteJob(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)

	job.Description = "updated"
	updated, err := f.coord.UpdateJob(ctx, job.ID, job)
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Description)

	require.NoError(t, f.coord.DeleteJob(ctx, job.ID))
	_, err = f.coord.GetJob(job.ID)
	assert.ErrorIs(t, err, backup.ErrNotFound)
	assert.ErrorIs(t, f.coord.DeleteJob(ctx, job.ID), backup.ErrNotFound)
}

func TestCoordinator_GetStatistics(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	a, err := f.coord.CreateJob(ctx, dailyJob("a", backup.PriorityNormal))
	require.NoError(t, err)
	b, err := f.coord.CreateJob(ctx, dailyJob("b", backup.PriorityNormal))
	require.NoError(t, err)

	_, err = f.coord.RunJob(ctx, a.ID, backup.TriggerManual)
	require.NoError(t, err)
	_, err = f.coord.RunJob(ctx, b.ID, backup.TriggerManual)
	require.NoError(t, err)
	f.executor.fail = true
	_, err = f.coord.RunJob(ctx, b.ID, backup.TriggerManual)
	require.NoError(t, err)

	stats := f.coord.GetStatistics()
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 2, stats.ActiveJobs)
	assert.Equal(t, int64(3), stats.TotalExecutions)
	assert.Equal(t, int64(2), stats.SuccessfulExecutions)
	assert.InDelta(t, 66.67, stats.SuccessRate, 0.01)
	assert.Equal(t, int64(200), stats.TotalSizeBytes)
	assert.NotNil(t, stats.LastSuccessAt)
}

func TestCoordinator_GetHealthStatus(t *testing.T) {
	t.Run("no jobs", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		status := f.coord.GetHealthStatus(context.Background())
		assert.Equal(t, health.Degraded, status.Level)
		comp, ok := status.Component(ComponentActiveJobs)
		require.True(t, ok)
		assert.Equal(t, health.Degraded, comp.Level)
		assert.True(t, status.Ready()[ComponentActiveJobs])
	})

	t.Run("storage pressure", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.StorageQuotaBytes = 110
		f := newFixture(t, cfg)
		ctx := context.Background()
		job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
		require.NoError(t, err)
		_, err = f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
		require.NoError(t, err)

		status := f.coord.GetHealthStatus(ctx)
		assert.Equal(t, health.Unhealthy, status.Level)
		assert.InDelta(t, 80.0, status.Score, 0.01)

		usage := f.coord.GetStorageUsage()
		assert.Equal(t, int64(100), usage.UsedBytes)
		assert.InDelta(t, 90.9, usage.UsedPercent, 0.1)

		last, ok := f.coord.LastHealth()
		require.True(t, ok)
		assert.Equal(t, status.Level, last.Level)

		f.coord.checkHealth(ctx)
		assert.True(t, f.hasAlert(alerting.TypeHealthDegraded))
	})

	t.Run("recent failures", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.executor.fail = true
		ctx := context.Background()
		job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
		require.NoError(t, err)
		_, err = f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
		require.NoError(t, err)

		status := f.coord.GetHealthStatus(ctx)
		comp, ok := status.Component(ComponentBackupSuccess)
		require.True(t, ok)
		assert.Equal(t, health.Critical, comp.Level)
		assert.Equal(t, health.Critical, status.Level)
		assert.False(t, status.Ready()[ComponentBackupSuccess])
	})
}

func TestCoordinator_TriggerEmergencyBackupDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableEmergencyBackups = false
	f := newFixture(t, cfg)
	ctx := context.Background()

	exec, err := f.coord.TriggerEmergencyBackup(ctx, "ransomware detected", "ops")
	assert.ErrorIs(t, err, ErrEmergencyDisabled)
	assert.Nil(t, exec)
	assert.Empty(t, f.coord.ListJobs())
	assert.Zero(t, f.coord.GetStatistics().RunningJobs)
}

func TestCoordinator_TriggerEmergencyBackup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentBackups = 1
	f := newFixture(t, cfg)
	f.executor.release = make(chan struct{})
	ctx := context.Background()

	job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)
	_, err = f.coord.ExecuteJob(ctx, job.ID)
	require.NoError(t, err)

	exec, err := f.coord.TriggerEmergencyBackup(ctx, "ransomware detected", "ops")
	require.NoError(t, err, "emergency backups ignore the ceiling")
	assert.Equal(t, backup.TriggerEmergency, exec.Trigger)
	assert.Equal(t, 2, f.coord.GetStatistics().RunningJobs)

	emergency, err := f.coord.GetJob(exec.JobID)
	require.NoError(t, err)
	assert.Equal(t, backup.PriorityCritical, emergency.Priority)
	assert.True(t, emergency.Scope.Full)
	assert.False(t, emergency.Schedule.Enabled)
	assert.Equal(t, "primary", emergency.Destinations[0].Name)

	close(f.executor.release)
	require.Eventually(t, func() bool { return f.hasAlert(alerting.TypeEmergencyBackup) }, time.Second, time.Millisecond)
	for _, a := range f.alerts.Recent(0) {
		if a.Type == alerting.TypeEmergencyBackup {
			assert.Equal(t, alerting.SeverityCritical, a.Severity)
		}
	}
}

func TestCoordinator_TriggerEmergencyBackupWithoutDestinations(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.coord.TriggerEmergencyBackup(context.Background(), "test", "ops")
	assert.ErrorIs(t, err, backup.ErrValidation)
	assert.Empty(t, f.coord.ListJobs())
}

func TestCoordinator_CleanupExpiredBackups(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AutoCleanup = false
		f := newFixture(t, cfg)
		job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
		require.NoError(t, err)
		_, err = f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
		require.NoError(t, err)
		f.clock.Set(t0.AddDate(0, 0, 30))

		n, err := f.coord.CleanupExpiredBackups(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("purges past retention", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
		require.NoError(t, err)
		_, err = f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
		require.NoError(t, err)
		_, err = f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
		require.NoError(t, err)
		f.clock.Set(t0.AddDate(0, 0, 8))
		_, err = f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
		require.NoError(t, err)

		n, err := f.coord.CleanupExpiredBackups(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 2, f.purger.n)

		history, err := f.coord.History(job.ID, 0)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestCoordinator_RestoreJob(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)

	_, err = f.coord.RestoreJob(ctx, &backup.RestoreRequest{JobID: job.ID, TargetPath: "/restore"})
	assert.ErrorIs(t, err, backup.ErrNoSuccessfulBackup)

	first, err := f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
	require.NoError(t, err)
	f.clock.Set(t0.Add(2 * time.Hour))
	second, err := f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
	require.NoError(t, err)

	result, err := f.coord.RestoreJob(ctx, &backup.RestoreRequest{JobID: job.ID, TargetPath: "/restore"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, second.ID, result.ExecutionID)

	result, err = f.coord.RestoreJob(ctx, &backup.RestoreRequest{
		JobID:       job.ID,
		Type:        backup.RestorePointInTime,
		PointInTime: t0.Add(time.Hour),
		TargetPath:  "/restore",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, result.ExecutionID)

	_, err = f.coord.RestoreJob(ctx, &backup.RestoreRequest{JobID: job.ID, Type: backup.RestorePartial})
	assert.ErrorIs(t, err, backup.ErrValidation)

	f.restorer.err = errors.New("bucket gone")
	result, err = f.coord.RestoreJob(ctx, &backup.RestoreRequest{JobID: job.ID, TargetPath: "/restore"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "bucket gone", result.Error)

	f.restorer.mu.Lock()
	defer f.restorer.mu.Unlock()
	assert.Equal(t, "tenant-1", f.restorer.reqs[0].TenantID)
	assert.Equal(t, "primary", f.restorer.reqs[0].Destinations[0].Name)
}

func TestCoordinator_Restore(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)
	_, err = f.coord.RunJob(ctx, job.ID, backup.TriggerManual)
	require.NoError(t, err)

	restored := NewCoordinator("tenant-1", f.options(DefaultConfig()))
	t.Cleanup(restored.Stop)
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	jobs := restored.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, int64(1), restored.GetStatistics().SuccessfulExecutions)
}

func TestCoordinator_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScheduleInterval = 5 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()
	job, err := f.coord.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC))
	f.coord.Start(ctx)
	f.coord.Start(ctx)

	require.Eventually(t, func() bool {
		history, _ := f.coord.History(job.ID, 0)
		return len(history) == 1
	}, time.Second, 5*time.Millisecond)
	f.coord.Stop()

	history, err := f.coord.History(job.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, backup.TriggerScheduled, history[0].Trigger)
}

func TestRegistry(t *testing.T) {
	store := database.NewMemoryStore()
	executor := &gatedExecutor{size: 10}
	reg := NewRegistry(Options{Store: store, Executor: executor, Restorer: &fakeRestorer{}})
	ctx := context.Background()

	_, err := reg.Get(ctx, "")
	assert.ErrorIs(t, err, backup.ErrValidation)

	c1, err := reg.Get(ctx, "acme")
	require.NoError(t, err)
	again, err := reg.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, c1, again)

	job, err := c1.CreateJob(ctx, dailyJob("nightly", backup.PriorityNormal))
	require.NoError(t, err)

	exec, err := reg.RunBackup(ctx, "acme", job.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.TriggerDR, exec.Trigger)

	last, err := reg.LastSuccessfulBackup(ctx, "acme", job.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, last.ID)

	result, err := reg.RunRestore(ctx, "acme", job.ID, "/restore")
	require.NoError(t, err)
	assert.True(t, result.Success)

	status, err := reg.BackupHealth(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, health.Healthy, status.Level)

	executor.fail = true
	_, err = reg.RunBackup(ctx, "acme", job.ID)
	assert.Error(t, err)

	assert.Equal(t, []string{"acme"}, reg.Tenants())
	reg.Stop()

	fresh := NewRegistry(Options{Store: store, Executor: executor})
	require.NoError(t, fresh.Start(ctx))
	defer fresh.Stop()
	assert.Equal(t, []string{"acme"}, fresh.Tenants())
	c, err := fresh.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, c.ListJobs(), 1)
}
