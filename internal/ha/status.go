package ha

import (
	"context"
	"fmt"
	"time"

	"github.com/FairForge/vaultaire-recovery/internal/health"
)

// Readiness components
const (
	ComponentPlans          = "plans"
	ComponentPlanTesting    = "plan-testing"
	ComponentLastActivation = "last-activation"
	ComponentBackup         = "backup"
)

// Status is a tenant's DR readiness snapshot
type Status struct {
	TenantID    string             `json:"tenant_id"`
	Level       health.Level       `json:"level"`
	Score       float64            `json:"score"`
	Ready       bool               `json:"ready"`
	Components  []health.Component `json:"components"`
	Readiness   map[string]bool    `json:"readiness"`
	Issues      []string           `json:"issues"`
	Plans       int                `json:"plans"`
	ActivePlans int                `json:"active_plans"`
	ActiveSite  string             `json:"active_site,omitempty"`
	Recovery    RecoveryMetrics    `json:"recovery"`
	CheckedAt   time.Time          `json:"checked_at"`
}

// Status folds the tenant's plan coverage, test recency, last activation
// outcome and backup health into one readiness level.
func (e *Executor) Status(ctx context.Context, tenantID string) *Status {
	plans := e.ListPlans(tenantID)
	now := e.opts.Clock()

	active := make([]*Plan, 0, len(plans))
	for _, p := range plans {
		if p.Active {
			active = append(active, p)
		}
	}

	components := []health.Component{
		planCoverage(plans, active),
		e.testRecency(active, now),
		e.lastActivation(plans),
		e.backupComponent(ctx, tenantID),
	}
	folded := health.Fold(components)

	status := &Status{
		TenantID:    tenantID,
		Level:       folded.Level,
		Score:       folded.Score,
		Ready:       folded.Level.Ready(),
		Components:  folded.Components,
		Readiness:   folded.Ready(),
		Issues:      folded.Issues(),
		Plans:       len(plans),
		ActivePlans: len(active),
		Recovery:    e.opts.Tracker.Metrics(tenantID),
		CheckedAt:   now,
	}
	if e.opts.Sites != nil {
		status.ActiveSite = e.opts.Sites.ActiveSite(tenantID)
	}
	if e.opts.OnStatus != nil {
		e.opts.OnStatus(status)
	}
	return status
}

func planCoverage(plans, active []*Plan) health.Component {
	c := health.Component{
		Name:    ComponentPlans,
		Level:   health.Healthy,
		Details: map[string]any{"plans": len(plans), "active": len(active)},
	}
	switch {
	case len(plans) == 0:
		c.Level = health.Critical
		c.Message = "no DR plans defined"
	case len(active) == 0:
		c.Level = health.Unhealthy
		c.Message = "no active DR plans"
	}
	return c
}

func (e *Executor) testRecency(active []*Plan, now time.Time) health.Component {
	c := health.Component{Name: ComponentPlanTesting, Level: health.Healthy}
	var untested, stale, failed int
	for _, p := range active {
		if p.LastTestedAt == nil {
			untested++
			continue
		}
		if now.Sub(*p.LastTestedAt) > e.opts.TestStaleAfter {
			stale++
		}
		if last, ok := e.LastTest(p.ID); ok && !last.Success {
			failed++
		}
	}
	c.Details = map[string]any{"untested": untested, "stale": stale, "failed": failed}
	switch {
	case failed > 0:
		c.Level = health.Unhealthy
		c.Message = fmt.Sprintf("%d plan(s) failed their last test", failed)
	case untested > 0:
		c.Level = health.Degraded
		c.Message = fmt.Sprintf("%d plan(s) never tested", untested)
	case stale > 0:
		c.Level = health.Degraded
		c.Message = fmt.Sprintf("%d plan(s) not tested in %s", stale, e.opts.TestStaleAfter)
	}
	return c
}

func (e *Executor) lastActivation(plans []*Plan) health.Component {
	c := health.Component{Name: ComponentLastActivation, Level: health.Healthy}
	var latest *Activation
	for _, p := range plans {
		acts, err := e.ListActivations(p.ID, 1)
		if err != nil || len(acts) == 0 {
			continue
		}
		if latest == nil || acts[0].StartedAt.After(latest.StartedAt) {
			latest = acts[0]
		}
	}
	if latest == nil {
		return c
	}

	c.Details = map[string]any{"activation_id": latest.ID, "plan_id": latest.PlanID, "status": string(latest.Status)}
	switch latest.Status {
	case ActivationInProgress:
		c.Level = health.Degraded
		c.Message = "activation in progress"
	case ActivationFailed:
		c.Level = health.Unhealthy
		c.Message = fmt.Sprintf("last activation failed: %s", latest.Error)
	}
	return c
}

func (e *Executor) backupComponent(ctx context.Context, tenantID string) health.Component {
	c := health.Component{Name: ComponentBackup, Level: health.Healthy}
	if e.opts.Health == nil {
		c.Message = "backup health not tracked"
		return c
	}
	st, err := e.opts.Health.BackupHealth(ctx, tenantID)
	if err != nil {
		c.Level = health.Unhealthy
		c.Message = fmt.Sprintf("backup health unavailable: %v", err)
		return c
	}
	c.Level = st.Level
	c.Details = map[string]any{"score": st.Score}
	if issues := st.Issues(); len(issues) > 0 {
		c.Message = issues[0]
	}
	return c
}
