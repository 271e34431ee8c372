// internal/ha/failover_testing.go
package ha

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Check names a TestPlan check
type Check string

const (
	CheckFailover      Check = "failover"
	CheckNotification  Check = "notification"
	CheckDataIntegrity Check = "data_integrity"
)

// IssueSeverity grades a test finding
type IssueSeverity string

const (
	IssueWarning  IssueSeverity = "warning"
	IssueCritical IssueSeverity = "critical"
)

// TestOptions selects which checks TestPlan runs. With no flag set every
// check runs.
type TestOptions struct {
	Failover      bool `json:"failover"`
	Notification  bool `json:"notification"`
	DataIntegrity bool `json:"data_integrity"`
}

func (o TestOptions) normalize() TestOptions {
	if !o.Failover && !o.Notification && !o.DataIntegrity {
		return TestOptions{Failover: true, Notification: true, DataIntegrity: true}
	}
	return o
}

// Issue is one finding of a plan test
type Issue struct {
	Check     Check         `json:"check"`
	Severity  IssueSeverity `json:"severity"`
	Message   string        `json:"message"`
	StepOrder int           `json:"step_order,omitempty"`
}

// TestResult is the outcome of a plan test. It succeeds only with zero issues.
type TestResult struct {
	PlanID      string        `json:"plan_id"`
	TenantID    string        `json:"tenant_id"`
	Checks      []Check       `json:"checks"`
	Issues      []Issue       `json:"issues"`
	Success     bool          `json:"success"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// TestPlan runs the selected checks without changing any site or data
func (e *Executor) TestPlan(ctx context.Context, planID string, opts TestOptions) (*TestResult, error) {
	plan, err := e.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	opts = opts.normalize()

	result := &TestResult{
		PlanID:    plan.ID,
		TenantID:  plan.TenantID,
		Issues:    make([]Issue, 0),
		StartedAt: e.opts.Clock(),
	}
	if opts.Failover {
		result.Checks = append(result.Checks, CheckFailover)
		result.Issues = append(result.Issues, e.probeSteps(ctx, plan, StepFailover, CheckFailover)...)
	}
	if opts.Notification {
		result.Checks = append(result.Checks, CheckNotification)
		result.Issues = append(result.Issues, e.probeSteps(ctx, plan, StepNotification, CheckNotification)...)
	}
	if opts.DataIntegrity {
		result.Checks = append(result.Checks, CheckDataIntegrity)
		result.Issues = append(result.Issues, e.checkDataIntegrity(ctx, plan)...)
	}
	result.CompletedAt = e.opts.Clock()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = len(result.Issues) == 0

	entry, err := e.entry(planID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	tested := result.CompletedAt
	entry.plan.LastTestedAt = &tested
	stored := *result
	entry.lastTest = &stored
	if err := e.saveLocked(ctx, entry); err != nil {
		e.persistFailed(ctx, plan.TenantID, err)
	}
	entry.mu.Unlock()

	e.logger.Info("plan tested",
		zap.String("tenant_id", plan.TenantID),
		zap.String("plan_id", plan.ID),
		zap.Bool("success", result.Success),
		zap.Int("issues", len(result.Issues)))
	return result, nil
}

// LastTest returns the plan's most recent test result
func (e *Executor) LastTest(planID string) (*TestResult, bool) {
	entry, err := e.entry(planID)
	if err != nil {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.lastTest == nil {
		return nil, false
	}
	r := *entry.lastTest
	return &r, true
}

func (e *Executor) probeSteps(ctx context.Context, plan *Plan, stepType StepType, check Check) []Issue {
	var issues []Issue
	prober, ok := e.opts.Probers[stepType]
	for _, step := range plan.OrderedSteps() {
		if step.Type != stepType {
			continue
		}
		if !ok {
			issues = append(issues, Issue{
				Check:     check,
				Severity:  IssueCritical,
				Message:   fmt.Sprintf("no probe available for %s steps", stepType),
				StepOrder: step.Order,
			})
			continue
		}
		if err := e.probe(ctx, prober, plan, step); err != nil {
			issues = append(issues, Issue{
				Check:     check,
				Severity:  severityFor(step),
				Message:   fmt.Sprintf("step %q: %v", step.Name, err),
				StepOrder: step.Order,
			})
		}
	}
	return issues
}

func (e *Executor) probe(ctx context.Context, prober StepProber, plan *Plan, step Step) (err error) {
	if timeout := step.EffectiveTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return prober.ProbeStep(ctx, plan, step)
}

func (e *Executor) checkDataIntegrity(ctx context.Context, plan *Plan) []Issue {
	var issues []Issue
	if e.opts.Inspector == nil {
		for _, step := range plan.OrderedSteps() {
			if step.Type == StepBackup || step.Type == StepRestore {
				return []Issue{{
					Check:    CheckDataIntegrity,
					Severity: IssueCritical,
					Message:  "no backup inspector configured",
				}}
			}
		}
		return nil
	}

	now := e.opts.Clock()
	checked := make(map[string]bool)
	for _, step := range plan.OrderedSteps() {
		if step.Type != StepBackup && step.Type != StepRestore {
			continue
		}
		jobID := step.Parameters[ParamJobID]
		if checked[jobID] {
			continue
		}
		checked[jobID] = true

		exec, err := e.opts.Inspector.LastSuccessfulBackup(ctx, plan.TenantID, jobID)
		if err != nil || exec == nil {
			issues = append(issues, Issue{
				Check:     CheckDataIntegrity,
				Severity:  IssueCritical,
				Message:   fmt.Sprintf("job %s has no successful backup", jobID),
				StepOrder: step.Order,
			})
			continue
		}
		if exec.Verification != nil && !exec.Verification.Verified {
			issues = append(issues, Issue{
				Check:     CheckDataIntegrity,
				Severity:  IssueCritical,
				Message:   fmt.Sprintf("job %s: backup %s failed verification", jobID, exec.ID),
				StepOrder: step.Order,
			})
		}
		if age := now.Sub(exec.FinishedAt()); age > plan.RPO {
			issues = append(issues, Issue{
				Check:     CheckDataIntegrity,
				Severity:  IssueWarning,
				Message:   fmt.Sprintf("job %s: newest backup is %s old, RPO is %s", jobID, age.Round(time.Second), plan.RPO),
				StepOrder: step.Order,
			})
		}
	}
	return issues
}

func severityFor(step Step) IssueSeverity {
	if step.Required {
		return IssueCritical
	}
	return IssueWarning
}
