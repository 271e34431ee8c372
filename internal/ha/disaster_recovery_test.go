package ha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
)

func failoverPlan() *Plan {
	return testPlan(
		Step{Order: 1, Name: "backup-db", Type: StepBackup, Parameters: map[string]string{ParamJobID: "db"}},
		Step{Order: 2, Name: "backup-files", Type: StepBackup, Parameters: map[string]string{ParamJobID: "files"}},
		Step{Order: 3, Name: "switch", Type: StepFailover, Required: true},
	)
}

func TestFailover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.inspector.Set("db", f.clock.Now().Add(-90*time.Minute))
	f.inspector.Set("files", f.clock.Now().Add(-30*time.Minute))

	plan, err := f.exec.CreatePlan(ctx, failoverPlan())
	require.NoError(t, err)

	result, err := f.exec.Failover(ctx, plan.ID, FailoverOptions{InitiatedBy: "ops"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "nyc", result.FromSite)
	assert.Equal(t, "la", result.ToSite)
	assert.Equal(t, 30*time.Minute, result.DataLossWindow)
	assert.Equal(t, time.Duration(0), result.Downtime)
	assert.True(t, result.RTOMet)
	assert.True(t, result.RPOMet)
	assert.Equal(t, []string{"db", "files"}, f.backups.Calls())
	assert.Len(t, result.Backups, 2)
	assert.Equal(t, "la", f.sites.ActiveSite("tenant-1"))

	alerts := alertsOfType(f.alerts, alerting.TypeFailover)
	require.Len(t, alerts, 1)
	assert.Equal(t, alerting.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "la", alerts[0].Context["to_site"])

	metrics := f.exec.Tracker().Metrics("tenant-1")
	assert.Equal(t, 1, metrics.TotalRecoveries)
	assert.Equal(t, 30*time.Minute, metrics.WorstRPO)
}

func TestFailover_SkipBackupAndNoRecoveryPoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, failoverPlan())
	require.NoError(t, err)

	result, err := f.exec.Failover(ctx, plan.ID, FailoverOptions{SkipBackup: true, TargetSite: "la"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, f.backups.Calls())
	assert.False(t, result.RPOMet)
	assert.Contains(t, result.Warnings, "no successful backup bounds the data loss window")
}

func TestFailover_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("no healthy secondary", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.sites.SetSiteHealth("la", false))
		plan, err := f.exec.CreatePlan(ctx, failoverPlan())
		require.NoError(t, err)

		result, err := f.exec.Failover(ctx, plan.ID, FailoverOptions{SkipBackup: true})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "no healthy secondary")
		assert.Equal(t, "nyc", f.sites.ActiveSite("tenant-1"))
	})

	t.Run("backup failure is a warning", func(t *testing.T) {
		f := newFixture(t)
		f.backups.err = errors.New("disk full")
		plan, err := f.exec.CreatePlan(ctx, failoverPlan())
		require.NoError(t, err)

		result, err := f.exec.Failover(ctx, plan.ID, FailoverOptions{})
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Len(t, result.Warnings, 3)
	})

	t.Run("inactive plan", func(t *testing.T) {
		f := newFixture(t)
		p := failoverPlan()
		p.Active = false
		plan, err := f.exec.CreatePlan(ctx, p)
		require.NoError(t, err)

		_, err = f.exec.Failover(ctx, plan.ID, FailoverOptions{})
		assert.ErrorIs(t, err, ErrPlanInactive)
	})

	t.Run("no site switcher", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.Sites = nil })
		plan, err := f.exec.CreatePlan(ctx, failoverPlan())
		require.NoError(t, err)

		_, err = f.exec.Failover(ctx, plan.ID, FailoverOptions{})
		assert.ErrorIs(t, err, ErrNoSiteSwitcher)
	})
}

func TestFailback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backups.size = 250

	plan, err := f.exec.CreatePlan(ctx, failoverPlan())
	require.NoError(t, err)

	_, err = f.exec.Failover(ctx, plan.ID, FailoverOptions{SkipBackup: true})
	require.NoError(t, err)
	require.Equal(t, "la", f.sites.ActiveSite("tenant-1"))

	result, err := f.exec.Failback(ctx, plan.ID, FailbackOptions{SyncData: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "la", result.FromSite)
	assert.Equal(t, "nyc", result.ToSite)
	assert.Equal(t, int64(500), result.DataSyncedBytes)
	assert.Equal(t, "nyc", f.sites.ActiveSite("tenant-1"))
	assert.Len(t, alertsOfType(f.alerts, alerting.TypeFailback), 1)
}

func TestFailback_PrimaryUnhealthy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, failoverPlan())
	require.NoError(t, err)
	_, err = f.exec.Failover(ctx, plan.ID, FailoverOptions{SkipBackup: true})
	require.NoError(t, err)
	require.NoError(t, f.sites.SetSiteHealth("nyc", false))

	result, err := f.exec.Failback(ctx, plan.ID, FailbackOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "la", f.sites.ActiveSite("tenant-1"))

	failed := alertsOfType(f.alerts, alerting.TypeFailback)
	require.Len(t, failed, 1)
	assert.Equal(t, alerting.SeverityCritical, failed[0].Severity)
}

func TestStartFailoverAndFailback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan, err := f.exec.CreatePlan(ctx, failoverPlan())
	require.NoError(t, err)

	select {
	case out := <-f.exec.StartFailover(ctx, plan.ID, FailoverOptions{SkipBackup: true}):
		require.NoError(t, out.Err)
		assert.True(t, out.Result.Success)
	case <-time.After(time.Second):
		t.Fatal("failover did not finish")
	}

	select {
	case out := <-f.exec.StartFailback(ctx, plan.ID, FailbackOptions{}):
		require.NoError(t, out.Err)
		assert.True(t, out.Result.Success)
	case <-time.After(time.Second):
		t.Fatal("failback did not finish")
	}

	out := <-f.exec.StartFailover(ctx, "missing", FailoverOptions{})
	assert.Error(t, out.Err)
	assert.Nil(t, out.Result)
}
