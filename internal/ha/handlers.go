package ha

import (
	"context"
	"fmt"
	"time"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
)

// AlertNotifier runs notification steps through the alerting sink
type AlertNotifier struct {
	alerts alerting.Sender
}

// NewAlertNotifier creates a notifier
func NewAlertNotifier(alerts alerting.Sender) *AlertNotifier {
	if alerts == nil {
		alerts = alerting.Nop{}
	}
	return &AlertNotifier{alerts: alerts}
}

// RunStep sends the step's message
func (n *AlertNotifier) RunStep(ctx context.Context, plan *Plan, step Step) (map[string]string, error) {
	severity := alerting.Severity(step.Parameters[ParamSeverity])
	switch severity {
	case alerting.SeverityInfo, alerting.SeverityWarning, alerting.SeverityCritical:
	default:
		severity = alerting.SeverityWarning
	}
	message := step.Parameters[ParamMessage]
	if message == "" {
		message = fmt.Sprintf("DR plan %s: %s", plan.Name, step.Name)
	}

	err := n.alerts.SendAlert(ctx, alerting.Alert{
		Severity: severity,
		Type:     alerting.TypeDRNotification,
		Title:    fmt.Sprintf("DR plan %s", plan.Name),
		Message:  message,
		TenantID: plan.TenantID,
		Context:  map[string]string{"plan_id": plan.ID, "step": step.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("notification not delivered: %w", err)
	}
	return map[string]string{"severity": string(severity)}, nil
}

// ProbeStep sends an informational test notification
func (n *AlertNotifier) ProbeStep(ctx context.Context, plan *Plan, step Step) error {
	err := n.alerts.SendAlert(ctx, alerting.Alert{
		Severity: alerting.SeverityInfo,
		Type:     alerting.TypeDRNotification,
		Title:    fmt.Sprintf("DR plan %s notification test", plan.Name),
		Message:  "test notification, no action required",
		TenantID: plan.TenantID,
		Context:  map[string]string{"plan_id": plan.ID, "step": step.Name, "test": "true"},
	})
	if err != nil {
		return fmt.Errorf("notification not delivered: %w", err)
	}
	return nil
}

// BackupVerifier runs verification steps: the newest successful backup of
// each job must be younger than the plan's RPO and pass its checksum.
type BackupVerifier struct {
	inspector BackupInspector
	clock     func() time.Time
}

// NewBackupVerifier creates a verifier
func NewBackupVerifier(inspector BackupInspector, clock func() time.Time) *BackupVerifier {
	if clock == nil {
		clock = time.Now
	}
	return &BackupVerifier{inspector: inspector, clock: clock}
}

// RunStep verifies the step's job, or every job the plan references
func (v *BackupVerifier) RunStep(ctx context.Context, plan *Plan, step Step) (map[string]string, error) {
	maxAge := plan.RPO
	if raw := step.Parameters[ParamMaxAge]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", ParamMaxAge, raw, err)
		}
		maxAge = d
	}

	jobs := plan.JobIDs()
	if id := step.Parameters[ParamJobID]; id != "" {
		jobs = []string{id}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("plan %s references no backup jobs to verify", plan.Name)
	}

	output := make(map[string]string, len(jobs))
	now := v.clock()
	for _, jobID := range jobs {
		exec, err := v.inspector.LastSuccessfulBackup(ctx, plan.TenantID, jobID)
		if err != nil {
			return output, fmt.Errorf("job %s: %w", jobID, err)
		}
		age := now.Sub(exec.FinishedAt())
		if age > maxAge {
			return output, fmt.Errorf("job %s: newest backup is %s old, limit %s", jobID, age.Round(time.Second), maxAge)
		}
		if exec.Verification != nil && !exec.Verification.Verified {
			return output, fmt.Errorf("job %s: backup %s failed verification", jobID, exec.ID)
		}
		output[jobID] = exec.ID
	}
	return output, nil
}
