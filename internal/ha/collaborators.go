package ha

import (
	"context"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/health"
)

// BackupRunner runs one backup job to completion
type BackupRunner interface {
	RunBackup(ctx context.Context, tenantID, jobID string) (*backup.Execution, error)
}

// Restorer restores a job's newest backup into target
type Restorer interface {
	RunRestore(ctx context.Context, tenantID, jobID, target string) (*backup.RestoreResult, error)
}

// BackupInspector answers questions about completed backups
type BackupInspector interface {
	LastSuccessfulBackup(ctx context.Context, tenantID, jobID string) (*backup.Execution, error)
}

// HealthSource reports a tenant's backup health
type HealthSource interface {
	BackupHealth(ctx context.Context, tenantID string) (health.Status, error)
}

// StepHandler runs failover, notification and verification steps. A handler
// may take arbitrarily long and must honor ctx.
type StepHandler interface {
	RunStep(ctx context.Context, plan *Plan, step Step) (map[string]string, error)
}

// StepProber checks that a step could run without side effects
type StepProber interface {
	ProbeStep(ctx context.Context, plan *Plan, step Step) error
}

// StepHandlerFunc adapts a function to StepHandler
type StepHandlerFunc func(ctx context.Context, plan *Plan, step Step) (map[string]string, error)

// RunStep calls f
func (f StepHandlerFunc) RunStep(ctx context.Context, plan *Plan, step Step) (map[string]string, error) {
	return f(ctx, plan, step)
}
