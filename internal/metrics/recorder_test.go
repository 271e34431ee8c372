package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/ha"
	"github.com/FairForge/vaultaire-recovery/internal/health"
)

func execution(status backup.Status) *backup.Execution {
	return &backup.Execution{
		ID:        "exec-1",
		JobID:     "job-1",
		TenantID:  "tenant-1",
		Type:      backup.TypeFull,
		Status:    status,
		Duration:  90 * time.Second,
		SizeBytes: 4 << 20,
	}
}

func TestRecorder_ExecutionLifecycle(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	r.TrackExecution(ctx, execution(backup.StatusRunning))
	r.TrackExecution(ctx, execution(backup.StatusRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.running.WithLabelValues("tenant-1")), "duplicate start counted once")

	r.UpdateProgress(ctx, execution(backup.StatusRunning), 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(r.progress.WithLabelValues("tenant-1", "job-1")))

	r.TrackExecution(ctx, execution(backup.StatusCompleted))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.running.WithLabelValues("tenant-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("tenant-1", "full", "completed")))
	assert.Equal(t, 0, testutil.CollectAndCount(r.progress), "progress series removed")
	assert.Equal(t, 1, testutil.CollectAndCount(r.bytes))
}

func TestRecorder_FailedAndCancelled(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	r.TrackExecution(ctx, execution(backup.StatusFailed))
	r.TrackExecution(ctx, execution(backup.StatusCancelled))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("tenant-1", "full", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("tenant-1", "full", "cancelled")))
	assert.Equal(t, 0, testutil.CollectAndCount(r.bytes), "only completed runs record size")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.running.WithLabelValues("tenant-1")))
}

func TestRecorder_HealthAndDR(t *testing.T) {
	r := NewRecorder()

	r.ObserveBackupHealth("tenant-1", health.Fold([]health.Component{
		{Name: "a", Level: health.Healthy},
		{Name: "b", Level: health.Degraded},
	}))
	assert.Equal(t, 85.0, testutil.ToFloat64(r.healthScore.WithLabelValues("tenant-1", ScopeBackup)))

	r.ObserveDRStatus(&ha.Status{TenantID: "tenant-1", Score: 55})
	assert.Equal(t, 55.0, testutil.ToFloat64(r.healthScore.WithLabelValues("tenant-1", ScopeDR)))

	r.ObserveActivation(ha.Activation{Status: ha.ActivationFailed, Duration: time.Minute})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.activations.WithLabelValues("failed")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ObserveRequest("tenant-1", "GET", "/v1/tenants/{tenant}/jobs", 200, 15*time.Millisecond)
	r.IncrementRateLimitHit("tenant-1")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "recovery_api_requests_total"))
	assert.True(t, strings.Contains(body, "recovery_api_rate_limit_hits_total"))
}
