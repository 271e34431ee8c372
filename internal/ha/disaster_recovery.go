package ha

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
)

// FailoverOptions controls a failover
type FailoverOptions struct {
	TargetSite  string `json:"target_site,omitempty"`
	SkipBackup  bool   `json:"skip_backup"`
	Reason      string `json:"reason,omitempty"`
	InitiatedBy string `json:"initiated_by,omitempty"`
}

// FailoverResult reports timing and data loss of a failover
type FailoverResult struct {
	PlanID         string        `json:"plan_id"`
	TenantID       string        `json:"tenant_id"`
	FromSite       string        `json:"from_site"`
	ToSite         string        `json:"to_site,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	Success        bool          `json:"success"`
	Downtime       time.Duration `json:"downtime"`
	DataLossWindow time.Duration `json:"data_loss_window"`
	RTOMet         bool          `json:"rto_met"`
	RPOMet         bool          `json:"rpo_met"`
	Backups        []string      `json:"backups,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// FailbackOptions controls a failback
type FailbackOptions struct {
	SyncData    bool   `json:"sync_data"`
	InitiatedBy string `json:"initiated_by,omitempty"`
}

// FailbackResult reports timing and synced volume of a failback
type FailbackResult struct {
	PlanID          string        `json:"plan_id"`
	TenantID        string        `json:"tenant_id"`
	FromSite        string        `json:"from_site"`
	ToSite          string        `json:"to_site,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	Success         bool          `json:"success"`
	Duration        time.Duration `json:"duration"`
	DataSyncedBytes int64         `json:"data_synced_bytes"`
	Warnings        []string      `json:"warnings,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// FailoverOutcome is delivered by StartFailover
type FailoverOutcome struct {
	Result *FailoverResult
	Err    error
}

// FailbackOutcome is delivered by StartFailback
type FailbackOutcome struct {
	Result *FailbackResult
	Err    error
}

// beginSwitch reserves the plan for one site switch at a time
func (e *Executor) beginSwitch(planID string) (*planEntry, *Plan, error) {
	if e.opts.Sites == nil {
		return nil, nil, ErrNoSiteSwitcher
	}
	entry, err := e.entry(planID)
	if err != nil {
		return nil, nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted {
		return nil, nil, errPlanNotFound(planID)
	}
	if !entry.plan.Active {
		return nil, nil, ErrPlanInactive
	}
	if entry.switching {
		return nil, nil, ErrSwitchInProgress
	}
	entry.switching = true
	return entry, entry.plan.Clone(), nil
}

func (e *Executor) endSwitch(entry *planEntry) {
	entry.mu.Lock()
	entry.switching = false
	entry.mu.Unlock()
}

// Failover moves the plan's tenant to a secondary site. Operational
// failures are reported in the result.
func (e *Executor) Failover(ctx context.Context, planID string, opts FailoverOptions) (*FailoverResult, error) {
	entry, plan, err := e.beginSwitch(planID)
	if err != nil {
		return nil, err
	}
	defer e.endSwitch(entry)
	return e.failover(ctx, plan, opts), nil
}

// StartFailover runs Failover in the background
func (e *Executor) StartFailover(ctx context.Context, planID string, opts FailoverOptions) <-chan FailoverOutcome {
	out := make(chan FailoverOutcome, 1)
	entry, plan, err := e.beginSwitch(planID)
	if err != nil {
		out <- FailoverOutcome{Err: err}
		close(out)
		return out
	}

	e.runs.Add(1)
	go func() {
		defer e.runs.Done()
		defer close(out)
		defer e.endSwitch(entry)
		out <- FailoverOutcome{Result: e.failover(context.WithoutCancel(ctx), plan, opts)}
	}()
	return out
}

func (e *Executor) failover(ctx context.Context, plan *Plan, opts FailoverOptions) *FailoverResult {
	logger := e.logger.With(zap.String("tenant_id", plan.TenantID), zap.String("plan_id", plan.ID))
	result := &FailoverResult{
		PlanID:    plan.ID,
		TenantID:  plan.TenantID,
		FromSite:  e.opts.Sites.ActiveSite(plan.TenantID),
		StartedAt: e.opts.Clock(),
	}
	logger.Warn("failover started",
		zap.String("from", result.FromSite),
		zap.String("target", opts.TargetSite),
		zap.String("initiated_by", opts.InitiatedBy))

	if !opts.SkipBackup {
		for _, jobID := range backupJobs(plan) {
			if e.opts.Backups == nil {
				result.Warnings = append(result.Warnings, "no backup runner configured")
				break
			}
			exec, err := e.opts.Backups.RunBackup(ctx, plan.TenantID, jobID)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("pre-failover backup of %s failed: %v", jobID, err))
				continue
			}
			result.Backups = append(result.Backups, exec.ID)
		}
	}

	loss, bounded := e.dataLoss(ctx, plan, result.StartedAt)
	result.DataLossWindow = loss
	if !bounded {
		result.Warnings = append(result.Warnings, "no successful backup bounds the data loss window")
	}

	site, err := e.opts.Sites.Failover(ctx, plan.TenantID, opts.TargetSite)
	result.CompletedAt = e.opts.Clock()
	result.Downtime = result.CompletedAt.Sub(result.StartedAt)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
		result.ToSite = site
	}

	recovery := e.opts.Tracker.Record(RecoveryEvent{
		ID:              fmt.Sprintf("failover-%s-%d", plan.ID, result.StartedAt.UnixNano()),
		PlanID:          plan.ID,
		TenantID:        plan.TenantID,
		Kind:            RecoveryFailover,
		StartedAt:       result.StartedAt,
		RecoveredAt:     result.CompletedAt,
		DataLoss:        loss,
		NoRecoveryPoint: !bounded,
		RTO:             plan.RTO,
		RPO:             plan.RPO,
		Successful:      result.Success,
	})
	result.RTOMet = recovery.RTOMet
	result.RPOMet = recovery.RPOMet

	alert := alerting.Alert{
		Severity: alerting.SeverityCritical,
		Type:     alerting.TypeFailover,
		TenantID: plan.TenantID,
		Context: map[string]string{
			"plan_id":          plan.ID,
			"from_site":        result.FromSite,
			"downtime":         result.Downtime.String(),
			"data_loss_window": result.DataLossWindow.String(),
		},
	}
	if result.Success {
		logger.Warn("failover completed",
			zap.String("to", site),
			zap.Duration("downtime", result.Downtime),
			zap.Duration("data_loss_window", loss))
		alert.Title = fmt.Sprintf("Tenant failed over to %s", site)
		alert.Message = fmt.Sprintf("DR plan %s moved service from %s to %s", plan.Name, result.FromSite, site)
		alert.Context["to_site"] = site
	} else {
		logger.Error("failover failed", zap.String("error", result.Error))
		alert.Title = "Failover failed"
		alert.Message = result.Error
	}
	e.sendAlert(ctx, alert)
	return result
}

// Failback returns the plan's tenant to the primary site, optionally
// re-running its backup jobs first to sync data.
func (e *Executor) Failback(ctx context.Context, planID string, opts FailbackOptions) (*FailbackResult, error) {
	entry, plan, err := e.beginSwitch(planID)
	if err != nil {
		return nil, err
	}
	defer e.endSwitch(entry)
	return e.failback(ctx, plan, opts), nil
}

// StartFailback runs Failback in the background
func (e *Executor) StartFailback(ctx context.Context, planID string, opts FailbackOptions) <-chan FailbackOutcome {
	out := make(chan FailbackOutcome, 1)
	entry, plan, err := e.beginSwitch(planID)
	if err != nil {
		out <- FailbackOutcome{Err: err}
		close(out)
		return out
	}

	e.runs.Add(1)
	go func() {
		defer e.runs.Done()
		defer close(out)
		defer e.endSwitch(entry)
		out <- FailbackOutcome{Result: e.failback(context.WithoutCancel(ctx), plan, opts)}
	}()
	return out
}

func (e *Executor) failback(ctx context.Context, plan *Plan, opts FailbackOptions) *FailbackResult {
	logger := e.logger.With(zap.String("tenant_id", plan.TenantID), zap.String("plan_id", plan.ID))
	result := &FailbackResult{
		PlanID:    plan.ID,
		TenantID:  plan.TenantID,
		FromSite:  e.opts.Sites.ActiveSite(plan.TenantID),
		StartedAt: e.opts.Clock(),
	}
	logger.Info("failback started", zap.String("from", result.FromSite), zap.Bool("sync_data", opts.SyncData))

	if opts.SyncData {
		for _, jobID := range backupJobs(plan) {
			if e.opts.Backups == nil {
				result.Warnings = append(result.Warnings, "no backup runner configured")
				break
			}
			exec, err := e.opts.Backups.RunBackup(ctx, plan.TenantID, jobID)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("sync of %s failed: %v", jobID, err))
				continue
			}
			result.DataSyncedBytes += exec.SizeBytes
		}
	}

	site, err := e.opts.Sites.Failback(ctx, plan.TenantID)
	result.CompletedAt = e.opts.Clock()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
		result.ToSite = site
	}

	alert := alerting.Alert{
		Type:     alerting.TypeFailback,
		TenantID: plan.TenantID,
		Context: map[string]string{
			"plan_id":           plan.ID,
			"from_site":         result.FromSite,
			"data_synced_bytes": fmt.Sprintf("%d", result.DataSyncedBytes),
		},
	}
	if result.Success {
		logger.Info("failback completed", zap.String("to", site), zap.Int64("synced_bytes", result.DataSyncedBytes))
		alert.Severity = alerting.SeverityInfo
		alert.Title = fmt.Sprintf("Tenant failed back to %s", site)
		alert.Message = fmt.Sprintf("DR plan %s returned service to %s", plan.Name, site)
	} else {
		logger.Error("failback failed", zap.String("error", result.Error))
		alert.Severity = alerting.SeverityCritical
		alert.Title = "Failback failed"
		alert.Message = result.Error
	}
	e.sendAlert(ctx, alert)
	return result
}

// backupJobs returns the distinct job ids of the plan's backup steps
func backupJobs(plan *Plan) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range plan.OrderedSteps() {
		if s.Type != StepBackup {
			continue
		}
		id := s.Parameters[ParamJobID]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
