// internal/ha/executor_test.go
package ha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/database"
	"github.com/FairForge/vaultaire-recovery/internal/health"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeBackups struct {
	mu    sync.Mutex
	calls []string
	size  int64
	err   error
}

func (f *fakeBackups) RunBackup(ctx context.Context, tenantID, jobID string) (*backup.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, jobID)
	if f.err != nil {
		return nil, f.err
	}
	return &backup.Execution{
		ID:        fmt.Sprintf("exec-%s-%d", jobID, len(f.calls)),
		JobID:     jobID,
		TenantID:  tenantID,
		Status:    backup.StatusCompleted,
		SizeBytes: f.size,
	}, nil
}

func (f *fakeBackups) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRestorer struct {
	target string
	err    error
}

func (f *fakeRestorer) RunRestore(ctx context.Context, tenantID, jobID, target string) (*backup.RestoreResult, error) {
	f.target = target
	if f.err != nil {
		return nil, f.err
	}
	return &backup.RestoreResult{Success: true, ExecutionID: "exec-" + jobID, RestoredFiles: 3, RestoredBytes: 300}, nil
}

type fakeInspector struct {
	mu    sync.Mutex
	execs map[string]*backup.Execution
}

func (f *fakeInspector) Set(jobID string, completedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execs == nil {
		f.execs = make(map[string]*backup.Execution)
	}
	f.execs[jobID] = &backup.Execution{
		ID:          "last-" + jobID,
		JobID:       jobID,
		Status:      backup.StatusCompleted,
		CompletedAt: &completedAt,
	}
}

func (f *fakeInspector) LastSuccessfulBackup(ctx context.Context, tenantID, jobID string) (*backup.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.execs[jobID]; ok {
		return e, nil
	}
	return nil, backup.ErrNoSuccessfulBackup
}

type fakeHealth struct {
	level health.Level
	err   error
}

func (f *fakeHealth) BackupHealth(ctx context.Context, tenantID string) (health.Status, error) {
	if f.err != nil {
		return health.Status{}, f.err
	}
	return health.Fold([]health.Component{{Name: "backup-success", Level: f.level, Message: "fake"}}), nil
}

type fixture struct {
	exec      *Executor
	store     *database.MemoryStore
	alerts    *alerting.Manager
	clock     *testClock
	backups   *fakeBackups
	restorer  *fakeRestorer
	inspector *fakeInspector
	health    *fakeHealth
	sites     *SiteManager
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	sites, err := NewSiteManager([]Site{
		{Name: "nyc", Tier: TierPrimary},
		{Name: "la", Tier: TierSecondary},
	}, nil)
	require.NoError(t, err)

	f := &fixture{
		store:     database.NewMemoryStore(),
		alerts:    alerting.NewManager(alerting.ManagerConfig{}, nil),
		clock:     &testClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		backups:   &fakeBackups{size: 100},
		restorer:  &fakeRestorer{},
		inspector: &fakeInspector{},
		health:    &fakeHealth{level: health.Healthy},
		sites:     sites,
	}
	opts := Options{
		Store:     f.store,
		Backups:   f.backups,
		Restores:  f.restorer,
		Inspector: f.inspector,
		Health:    f.health,
		Sites:     f.sites,
		Alerts:    f.alerts,
		Clock:     f.clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.exec = NewExecutor(opts)
	t.Cleanup(f.exec.Wait)
	return f
}

func testPlan(steps ...Step) *Plan {
	return &Plan{
		TenantID: "tenant-1",
		Name:     "primary-outage",
		RTO:      time.Hour,
		RPO:      4 * time.Hour,
		Active:   true,
		Steps:    steps,
	}
}

func withHandler(t StepType, h StepHandlerFunc) func(*Options) {
	return func(o *Options) {
		if o.Handlers == nil {
			o.Handlers = make(map[StepType]StepHandler)
		}
		o.Handlers[t] = h
	}
}

func alertsOfType(m *alerting.Manager, typ alerting.Type) []alerting.Alert {
	var out []alerting.Alert
	for _, a := range m.Recent(0) {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name  string
		plan  *Plan
		field string
	}{
		{"missing name", &Plan{TenantID: "t", RTO: time.Hour, RPO: time.Hour}, "name"},
		{"missing tenant", &Plan{Name: "p", RTO: time.Hour, RPO: time.Hour}, "tenant_id"},
		{"zero rto", &Plan{Name: "p", TenantID: "t", RPO: time.Hour}, "rto"},
		{"zero rpo", &Plan{Name: "p", TenantID: "t", RTO: time.Hour}, "rpo"},
		{"duplicate order", testPlan(
			Step{Order: 1, Type: StepNotification},
			Step{Order: 1, Type: StepNotification},
		), "steps"},
		{"backup without job", testPlan(Step{Order: 1, Type: StepBackup}), "steps"},
		{"unknown type", testPlan(Step{Order: 1, Type: "reboot"}), "steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, backup.ErrValidation)
			var verr *backup.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.NoError(t, testPlan(Step{Order: 1, Type: StepBackup, Parameters: map[string]string{ParamJobID: "job-1"}}).Validate())
}

func TestCreateUpdateDeletePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, testPlan(Step{Order: 1, Name: "page", Type: StepNotification}))
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, f.clock.Now(), plan.CreatedAt)

	var st planState
	require.NoError(t, f.store.Load(ctx, database.KindDRPlan, plan.ID, &st))
	assert.Equal(t, plan.Name, st.Plan.Name)

	_, err = f.exec.CreatePlan(ctx, &Plan{ID: plan.ID, TenantID: "tenant-1", Name: "dup", RTO: time.Hour, RPO: time.Hour})
	assert.ErrorIs(t, err, ErrPlanExists)

	update := testPlan(Step{Order: 1, Name: "page", Type: StepNotification})
	update.Name = "renamed"
	update.TenantID = "other-tenant"
	update.RTO = 0
	_, err = f.exec.UpdatePlan(ctx, plan.ID, update)
	assert.ErrorIs(t, err, backup.ErrValidation)

	update.RTO = 2 * time.Hour
	updated, err := f.exec.UpdatePlan(ctx, plan.ID, update)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "tenant-1", updated.TenantID)
	assert.Equal(t, plan.CreatedAt, updated.CreatedAt)

	assert.Len(t, f.exec.ListPlans("tenant-1"), 1)
	assert.Empty(t, f.exec.ListPlans("tenant-2"))

	require.NoError(t, f.exec.DeletePlan(ctx, plan.ID))
	_, err = f.exec.GetPlan(plan.ID)
	assert.ErrorIs(t, err, backup.ErrNotFound)
	assert.ErrorIs(t, f.store.Load(ctx, database.KindDRPlan, plan.ID, &st), database.ErrNotFound)
}

func TestActivate_RequiredFailureStopsRun(t *testing.T) {
	stepErr := errors.New("site nyc unreachable")
	f := newFixture(t, withHandler(StepFailover, func(ctx context.Context, p *Plan, s Step) (map[string]string, error) {
		return nil, stepErr
	}))
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, testPlan(
		Step{Order: 1, Name: "A", Type: StepFailover, Required: true},
		Step{Order: 2, Name: "B", Type: StepNotification},
	))
	require.NoError(t, err)

	act, err := f.exec.Activate(ctx, plan.ID, ActivationRequest{Reason: "outage", InitiatedBy: "oncall"})
	require.NoError(t, err)

	assert.Equal(t, ActivationFailed, act.Status)
	assert.Equal(t, stepErr.Error(), act.Error)
	require.Len(t, act.Steps, 2)
	assert.Equal(t, StepFailed, act.Steps[0].Status)
	assert.Equal(t, stepErr.Error(), act.Steps[0].Error)
	assert.Equal(t, StepSkipped, act.Steps[1].Status)
	assert.Nil(t, act.Steps[1].StartedAt)
	assert.False(t, act.RTOMet)

	assert.Len(t, alertsOfType(f.alerts, alerting.TypeDRNotification), 0, "skipped step must not run")
	failed := alertsOfType(f.alerts, alerting.TypeDRActivationFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, alerting.SeverityCritical, failed[0].Severity)
}

func TestActivate_OptionalFailureContinues(t *testing.T) {
	f := newFixture(t, withHandler(StepVerification, func(ctx context.Context, p *Plan, s Step) (map[string]string, error) {
		return nil, errors.New("stale backup")
	}))
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, testPlan(
		Step{Order: 1, Name: "verify", Type: StepVerification},
		Step{Order: 2, Name: "backup", Type: StepBackup, Required: true, Parameters: map[string]string{ParamJobID: "job-1"}},
	))
	require.NoError(t, err)

	act, err := f.exec.Activate(ctx, plan.ID, ActivationRequest{})
	require.NoError(t, err)

	assert.Equal(t, ActivationCompleted, act.Status)
	assert.Empty(t, act.Error)
	assert.Equal(t, StepFailed, act.Steps[0].Status)
	assert.Equal(t, StepCompleted, act.Steps[1].Status)
	assert.Equal(t, "exec-job-1-1", act.Steps[1].Output["execution_id"])
	assert.Equal(t, []string{"job-1"}, f.backups.Calls())
	assert.True(t, act.RTOMet)
}

func TestActivate_StepsRunInAscendingOrder(t *testing.T) {
	var mu sync.Mutex
	var events []string
	handler := func(ctx context.Context, p *Plan, s Step) (map[string]string, error) {
		mu.Lock()
		events = append(events, "start:"+s.Name)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		events = append(events, "end:"+s.Name)
		mu.Unlock()
		return nil, nil
	}
	f := newFixture(t, withHandler(StepNotification, handler))
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, testPlan(
		Step{Order: 30, Name: "third", Type: StepNotification},
		Step{Order: 10, Name: "first", Type: StepNotification},
		Step{Order: 20, Name: "second", Type: StepNotification},
	))
	require.NoError(t, err)

	act, err := f.exec.StartActivation(ctx, plan.ID, ActivationRequest{})
	require.NoError(t, err)
	assert.Equal(t, ActivationInProgress, act.Status)
	f.exec.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"start:first", "end:first",
		"start:second", "end:second",
		"start:third", "end:third",
	}, events)

	done, err := f.exec.GetActivation(act.ID)
	require.NoError(t, err)
	assert.Equal(t, ActivationCompleted, done.Status)
	for i, s := range done.Steps {
		assert.Equal(t, StepCompleted, s.Status)
		if i > 0 {
			assert.Less(t, done.Steps[i-1].Order, s.Order)
		}
	}
}

func TestActivate_Guards(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, withHandler(StepNotification, func(ctx context.Context, p *Plan, s Step) (map[string]string, error) {
		<-release
		return nil, nil
	}))
	ctx := context.Background()

	t.Run("missing plan", func(t *testing.T) {
		_, err := f.exec.Activate(ctx, "nope", ActivationRequest{})
		assert.ErrorIs(t, err, backup.ErrNotFound)
	})

	t.Run("inactive plan", func(t *testing.T) {
		p := testPlan()
		p.Active = false
		plan, err := f.exec.CreatePlan(ctx, p)
		require.NoError(t, err)
		_, err = f.exec.Activate(ctx, plan.ID, ActivationRequest{})
		assert.ErrorIs(t, err, ErrPlanInactive)
	})

	t.Run("second activation while in progress", func(t *testing.T) {
		plan, err := f.exec.CreatePlan(ctx, testPlan(Step{Order: 1, Name: "wait", Type: StepNotification}))
		require.NoError(t, err)

		first, err := f.exec.StartActivation(ctx, plan.ID, ActivationRequest{})
		require.NoError(t, err)

		_, err = f.exec.Activate(ctx, plan.ID, ActivationRequest{})
		assert.ErrorIs(t, err, ErrActivationInProgress)
		assert.ErrorIs(t, f.exec.DeletePlan(ctx, plan.ID), ErrActivationInProgress)

		close(release)
		f.exec.Wait()

		done, err := f.exec.GetActivation(first.ID)
		require.NoError(t, err)
		assert.Equal(t, ActivationCompleted, done.Status)

		_, err = f.exec.Activate(ctx, plan.ID, ActivationRequest{})
		assert.NoError(t, err)
	})
}

func TestActivate_AlertsAndRTO(t *testing.T) {
	var f *fixture
	f = newFixture(t, withHandler(StepNotification, func(ctx context.Context, p *Plan, s Step) (map[string]string, error) {
		f.clock.Advance(2 * time.Hour)
		return nil, nil
	}))
	ctx := context.Background()

	var observed []Activation
	f.exec.opts.OnActivation = func(a Activation) { observed = append(observed, a) }

	plan, err := f.exec.CreatePlan(ctx, testPlan(Step{Order: 1, Name: "slow", Type: StepNotification}))
	require.NoError(t, err)

	act, err := f.exec.Activate(ctx, plan.ID, ActivationRequest{Reason: "flood", InitiatedBy: "ops"})
	require.NoError(t, err)

	assert.Equal(t, ActivationCompleted, act.Status)
	assert.Equal(t, 2*time.Hour, act.Duration)
	assert.False(t, act.RTOMet)

	started := alertsOfType(f.alerts, alerting.TypeDRActivation)
	require.Len(t, started, 1)
	assert.Equal(t, alerting.SeverityCritical, started[0].Severity)
	assert.Equal(t, "flood", started[0].Message)

	breach := alertsOfType(f.alerts, alerting.TypeRTOBreach)
	require.Len(t, breach, 1)
	assert.Equal(t, alerting.SeverityWarning, breach[0].Severity)

	require.Len(t, observed, 1)
	assert.Equal(t, act.ID, observed[0].ID)

	got, err := f.exec.GetPlan(plan.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastActivatedAt)

	metrics := f.exec.Tracker().Metrics("tenant-1")
	assert.Equal(t, 1, metrics.TotalRecoveries)
	assert.Equal(t, 0, metrics.RTOCompliant)
}

func TestActivate_StepTimeoutAndPanic(t *testing.T) {
	f := newFixture(t,
		withHandler(StepFailover, func(ctx context.Context, p *Plan, s Step) (map[string]string, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		}),
		withHandler(StepVerification, func(ctx context.Context, p *Plan, s Step) (map[string]string, error) {
			panic("boom")
		}),
	)
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, testPlan(
		Step{Order: 1, Name: "hang", Type: StepFailover, Timeout: 20 * time.Millisecond},
		Step{Order: 2, Name: "explode", Type: StepVerification, Parameters: map[string]string{ParamTimeout: "1s"}},
		Step{Order: 3, Name: "last", Type: StepNotification},
	))
	require.NoError(t, err)

	act, err := f.exec.Activate(ctx, plan.ID, ActivationRequest{})
	require.NoError(t, err)

	assert.Equal(t, ActivationCompleted, act.Status)
	assert.Equal(t, StepFailed, act.Steps[0].Status)
	assert.Contains(t, act.Steps[0].Error, "did not finish")
	assert.Equal(t, StepFailed, act.Steps[1].Status)
	assert.Contains(t, act.Steps[1].Error, "panicked")
	assert.Equal(t, StepCompleted, act.Steps[2].Status)
}

func TestActivate_RestoreAndDefaultHandlers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.inspector.Set("job-1", f.clock.Now().Add(-time.Hour))

	plan, err := f.exec.CreatePlan(ctx, testPlan(
		Step{Order: 1, Name: "restore", Type: StepRestore, Required: true,
			Parameters: map[string]string{ParamJobID: "job-1", ParamTargetPath: "/srv/restore"}},
		Step{Order: 2, Name: "verify", Type: StepVerification, Required: true},
		Step{Order: 3, Name: "switch", Type: StepFailover, Required: true},
		Step{Order: 4, Name: "page", Type: StepNotification, Parameters: map[string]string{ParamMessage: "moved to la"}},
	))
	require.NoError(t, err)

	act, err := f.exec.Activate(ctx, plan.ID, ActivationRequest{})
	require.NoError(t, err)

	require.Equal(t, ActivationCompleted, act.Status, act.Error)
	assert.Equal(t, "/srv/restore", f.restorer.target)
	assert.Equal(t, "3", act.Steps[0].Output["restored_files"])
	assert.Equal(t, "last-job-1", act.Steps[1].Output["job-1"])
	assert.Equal(t, "la", act.Steps[2].Output["active_site"])
	assert.Equal(t, "la", f.sites.ActiveSite("tenant-1"))

	notes := alertsOfType(f.alerts, alerting.TypeDRNotification)
	require.Len(t, notes, 1)
	assert.Equal(t, "moved to la", notes[0].Message)
}

func TestActivate_VerificationRejectsStaleBackup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.inspector.Set("job-1", f.clock.Now().Add(-5*time.Hour))

	plan, err := f.exec.CreatePlan(ctx, testPlan(
		Step{Order: 1, Name: "verify", Type: StepVerification, Required: true, Parameters: map[string]string{ParamJobID: "job-1"}},
	))
	require.NoError(t, err)

	act, err := f.exec.Activate(ctx, plan.ID, ActivationRequest{})
	require.NoError(t, err)
	assert.Equal(t, ActivationFailed, act.Status)
	assert.Contains(t, act.Error, "newest backup is 5h0m0s old")
}

func TestListActivations_NewestFirstAndCapped(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ActivationHistory = 3 })
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, testPlan())
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		act, err := f.exec.Activate(ctx, plan.ID, ActivationRequest{})
		require.NoError(t, err)
		ids = append(ids, act.ID)
		f.clock.Advance(time.Minute)
	}

	acts, err := f.exec.ListActivations(plan.ID, 0)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.Equal(t, ids[4], acts[0].ID)
	assert.Equal(t, ids[2], acts[2].ID)

	_, err = f.exec.GetActivation(ids[0])
	assert.ErrorIs(t, err, backup.ErrNotFound)
	var stored Activation
	assert.ErrorIs(t, f.store.Load(ctx, database.KindDRActivation, ids[0], &stored), database.ErrNotFound)
}

func TestRestore_MarksInterruptedActivationFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, testPlan(
		Step{Order: 1, Name: "a", Type: StepNotification},
		Step{Order: 2, Name: "b", Type: StepNotification},
	))
	require.NoError(t, err)

	started := f.clock.Now()
	require.NoError(t, f.store.Save(ctx, database.KindDRActivation, "act-1", &Activation{
		ID:        "act-1",
		PlanID:    plan.ID,
		TenantID:  plan.TenantID,
		Status:    ActivationInProgress,
		StartedAt: started,
		Steps: []StepExecution{
			{Order: 1, Name: "a", Status: StepRunning, StartedAt: &started},
			{Order: 2, Name: "b", Status: StepPending},
		},
	}))
	require.NoError(t, f.store.Save(ctx, database.KindDRPlan, plan.ID, planState{Plan: plan, ActivationIDs: []string{"act-1"}}))

	restarted := NewExecutor(Options{Store: f.store, Clock: f.clock.Now})
	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	act, err := restarted.GetActivation("act-1")
	require.NoError(t, err)
	assert.Equal(t, ActivationFailed, act.Status)
	assert.Equal(t, "interrupted by restart", act.Error)
	assert.Equal(t, StepFailed, act.Steps[0].Status)
	assert.Equal(t, StepSkipped, act.Steps[1].Status)

	_, err = restarted.Activate(ctx, plan.ID, ActivationRequest{})
	assert.NoError(t, err)
}
