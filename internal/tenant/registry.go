package tenant

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/database"
	"github.com/FairForge/vaultaire-recovery/internal/health"
)

// Registry activates one coordinator per tenant on first use and routes
// calls to it. Coordinators of different tenants run independently.
type Registry struct {
	opts   Options
	logger *zap.Logger

	mu           sync.Mutex
	coordinators map[string]*Coordinator
	started      bool
	ctx          context.Context
}

// NewRegistry creates a registry whose coordinators share opts
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		opts:         opts,
		logger:       opts.Logger.Named("registry"),
		coordinators: make(map[string]*Coordinator),
	}
}

// Get returns the tenant's coordinator, restoring it from the store or
// creating it on first use.
func (r *Registry) Get(ctx context.Context, tenantID string) (*Coordinator, error) {
	if tenantID == "" {
		return nil, &backup.ValidationError{Field: "tenant_id", Reason: "required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.coordinators[tenantID]; ok {
		return c, nil
	}
	c := NewCoordinator(tenantID, r.opts)
	if _, err := c.Restore(ctx); err != nil {
		return nil, err
	}
	r.coordinators[tenantID] = c
	if r.started {
		c.Start(r.ctx)
	}
	r.logger.Debug("tenant activated", zap.String("tenant_id", tenantID))
	return c, nil
}

// Tenants lists the active tenant ids
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.coordinators))
	for id := range r.coordinators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start activates every persisted tenant and starts their loops
func (r *Registry) Start(ctx context.Context) error {
	ids, err := r.opts.Store.Keys(ctx, database.KindTenant)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	r.mu.Lock()
	r.started = true
	r.ctx = ctx
	running := make([]*Coordinator, 0, len(r.coordinators))
	for _, c := range r.coordinators {
		running = append(running, c)
	}
	r.mu.Unlock()

	for _, c := range running {
		c.Start(ctx)
	}
	for _, id := range ids {
		if _, err := r.Get(ctx, id); err != nil {
			r.logger.Error("failed to activate tenant", zap.String("tenant_id", id), zap.Error(err))
		}
	}
	r.logger.Info("registry started", zap.Int("tenants", len(ids)))
	return nil
}

// Stop halts every coordinator's loops
func (r *Registry) Stop() {
	r.mu.Lock()
	r.started = false
	coords := make([]*Coordinator, 0, len(r.coordinators))
	for _, c := range r.coordinators {
		coords = append(coords, c)
	}
	r.mu.Unlock()

	for _, c := range coords {
		c.Stop()
	}
}

// RunBackup runs a job to completion and fails unless it completed
func (r *Registry) RunBackup(ctx context.Context, tenantID, jobID string) (*backup.Execution, error) {
	c, err := r.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	exec, err := c.RunJob(ctx, jobID, backup.TriggerDR)
	if err != nil {
		return nil, err
	}
	if exec.Status != backup.StatusCompleted {
		return exec, fmt.Errorf("backup %s %s: %s", jobID, exec.Status, exec.Error)
	}
	return exec, nil
}

// RunRestore restores the job's newest completed backup into target
func (r *Registry) RunRestore(ctx context.Context, tenantID, jobID, target string) (*backup.RestoreResult, error) {
	c, err := r.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	result, err := c.RestoreJob(ctx, &backup.RestoreRequest{
		TenantID:   tenantID,
		JobID:      jobID,
		Type:       backup.RestoreFull,
		TargetPath: target,
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, fmt.Errorf("restore %s failed: %s", jobID, result.Error)
	}
	return result, nil
}

// LastSuccessfulBackup returns the job's newest completed execution
func (r *Registry) LastSuccessfulBackup(ctx context.Context, tenantID, jobID string) (*backup.Execution, error) {
	c, err := r.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return c.LastSuccessfulBackup(jobID)
}

// BackupHealth returns the tenant's backup health
func (r *Registry) BackupHealth(ctx context.Context, tenantID string) (health.Status, error) {
	c, err := r.Get(ctx, tenantID)
	if err != nil {
		return health.Status{}, err
	}
	return c.GetHealthStatus(ctx), nil
}
