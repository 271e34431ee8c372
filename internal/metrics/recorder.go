// internal/metrics/recorder.go
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/ha"
	"github.com/FairForge/vaultaire-recovery/internal/health"
)

// Health score scopes
const (
	ScopeBackup = "backup"
	ScopeDR     = "dr"
)

// Recorder exports engine metrics on a private Prometheus registry. It
// implements backup.Monitor.
type Recorder struct {
	executions     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	bytes          *prometheus.HistogramVec
	running        *prometheus.GaugeVec
	progress       *prometheus.GaugeVec
	healthScore    *prometheus.GaugeVec
	activations    *prometheus.CounterVec
	activationTime prometheus.Histogram
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
	registry       *prometheus.Registry

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_backup_executions_total",
				Help: "Finished backup executions by outcome",
			},
			[]string{"tenant", "type", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recovery_backup_execution_duration_seconds",
				Help:    "Backup execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"tenant"},
		),
		bytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recovery_backup_execution_bytes",
				Help:    "Size of completed backups in bytes",
				Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10),
			},
			[]string{"tenant"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "recovery_backup_running",
				Help: "Backup executions currently running",
			},
			[]string{"tenant"},
		),
		progress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "recovery_backup_progress_percent",
				Help: "Progress of running backups",
			},
			[]string{"tenant", "job"},
		),
		healthScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "recovery_health_score",
				Help: "Health score (0-100) per tenant and scope",
			},
			[]string{"tenant", "scope"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_dr_activations_total",
				Help: "Finished DR plan activations by outcome",
			},
			[]string{"status"},
		),
		activationTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "recovery_dr_activation_duration_seconds",
				Help:    "DR plan activation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_api_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"tenant", "method", "route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recovery_api_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tenant", "method", "route"},
		),
		rateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recovery_api_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"tenant"},
		),
		registry: registry,
		inFlight: make(map[string]bool),
	}

	registry.MustRegister(
		r.executions, r.duration, r.bytes, r.running, r.progress,
		r.healthScore, r.activations, r.activationTime,
		r.requests, r.latency, r.rateLimitHits,
	)
	return r
}

// Registry returns the private registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// TrackExecution records an execution starting or finishing
func (r *Recorder) TrackExecution(_ context.Context, exec *backup.Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !exec.Status.Terminal() {
		if !r.inFlight[exec.ID] {
			r.inFlight[exec.ID] = true
			r.running.WithLabelValues(exec.TenantID).Inc()
		}
		return
	}

	if r.inFlight[exec.ID] {
		delete(r.inFlight, exec.ID)
		r.running.WithLabelValues(exec.TenantID).Dec()
	}
	r.progress.DeleteLabelValues(exec.TenantID, exec.JobID)
	r.executions.WithLabelValues(exec.TenantID, string(exec.Type), string(exec.Status)).Inc()
	if exec.Status == backup.StatusCancelled {
		return
	}
	r.duration.WithLabelValues(exec.TenantID).Observe(exec.Duration.Seconds())
	if exec.Status == backup.StatusCompleted {
		r.bytes.WithLabelValues(exec.TenantID).Observe(float64(exec.SizeBytes))
	}
}

// UpdateProgress records a running execution's progress
func (r *Recorder) UpdateProgress(_ context.Context, exec *backup.Execution, percent float64) {
	r.progress.WithLabelValues(exec.TenantID, exec.JobID).Set(percent)
}

// ObserveBackupHealth records a tenant's backup health score
func (r *Recorder) ObserveBackupHealth(tenantID string, status health.Status) {
	r.healthScore.WithLabelValues(tenantID, ScopeBackup).Set(status.Score)
}

// ObserveDRStatus records a tenant's DR readiness score
func (r *Recorder) ObserveDRStatus(status *ha.Status) {
	r.healthScore.WithLabelValues(status.TenantID, ScopeDR).Set(status.Score)
}

// ObserveActivation records a finished DR activation
func (r *Recorder) ObserveActivation(act ha.Activation) {
	r.activations.WithLabelValues(string(act.Status)).Inc()
	r.activationTime.Observe(act.Duration.Seconds())
}

// ObserveRequest records one API request
func (r *Recorder) ObserveRequest(tenant, method, route string, status int, elapsed time.Duration) {
	r.requests.WithLabelValues(tenant, method, route, strconv.Itoa(status)).Inc()
	r.latency.WithLabelValues(tenant, method, route).Observe(elapsed.Seconds())
}

// IncrementRateLimitHit records a request rejected by the rate limiter
func (r *Recorder) IncrementRateLimitHit(tenant string) {
	r.rateLimitHits.WithLabelValues(tenant).Inc()
}
