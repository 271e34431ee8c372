// internal/ha/recovery.go
package ha

import (
	"sync"
	"time"
)

// RecoveryKind is what produced a recovery measurement
type RecoveryKind string

const (
	RecoveryActivation RecoveryKind = "activation"
	RecoveryFailover   RecoveryKind = "failover"
)

// RecoveryEvent is one completed recovery with its targets
type RecoveryEvent struct {
	ID          string
	PlanID      string
	TenantID    string
	Kind        RecoveryKind
	StartedAt   time.Time
	RecoveredAt time.Time
	DataLoss    time.Duration
	RTO         time.Duration
	RPO         time.Duration
	Successful  bool

	// NoRecoveryPoint is set when no successful backup bounded the loss
	NoRecoveryPoint bool
}

// RecoveryResult records whether a recovery met its objectives
type RecoveryResult struct {
	ID        string        `json:"id"`
	PlanID    string        `json:"plan_id"`
	TenantID  string        `json:"tenant_id"`
	Kind      RecoveryKind  `json:"kind"`
	RTOMet    bool          `json:"rto_met"`
	RPOMet    bool          `json:"rpo_met"`
	ActualRTO time.Duration `json:"actual_rto"`
	ActualRPO time.Duration `json:"actual_rpo"`
	Timestamp time.Time     `json:"timestamp"`
}

// RecoveryMetrics aggregates recovery results
type RecoveryMetrics struct {
	TotalRecoveries   int           `json:"total_recoveries"`
	RTOCompliant      int           `json:"rto_compliant"`
	RPOCompliant      int           `json:"rpo_compliant"`
	RTOComplianceRate float64       `json:"rto_compliance_rate"`
	RPOComplianceRate float64       `json:"rpo_compliance_rate"`
	AverageRTO        time.Duration `json:"average_rto"`
	AverageRPO        time.Duration `json:"average_rpo"`
	WorstRTO          time.Duration `json:"worst_rto"`
	WorstRPO          time.Duration `json:"worst_rpo"`
}

const defaultRecoveryHistory = 500

// RecoveryTracker keeps RTO/RPO compliance history
type RecoveryTracker struct {
	limit   int
	history []RecoveryResult
	mu      sync.RWMutex
}

// NewRecoveryTracker creates a tracker holding at most limit results
func NewRecoveryTracker(limit int) *RecoveryTracker {
	if limit <= 0 {
		limit = defaultRecoveryHistory
	}
	return &RecoveryTracker{limit: limit, history: make([]RecoveryResult, 0)}
}

// Record measures an event against its targets and stores the result
func (t *RecoveryTracker) Record(event RecoveryEvent) RecoveryResult {
	actualRTO := event.RecoveredAt.Sub(event.StartedAt)
	result := RecoveryResult{
		ID:        event.ID,
		PlanID:    event.PlanID,
		TenantID:  event.TenantID,
		Kind:      event.Kind,
		RTOMet:    event.Successful && actualRTO <= event.RTO,
		RPOMet:    event.Successful && !event.NoRecoveryPoint && event.DataLoss <= event.RPO,
		ActualRTO: actualRTO,
		ActualRPO: event.DataLoss,
		Timestamp: event.RecoveredAt,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, result)
	if len(t.history) > t.limit {
		t.history = t.history[len(t.history)-t.limit:]
	}
	return result
}

// History returns results for the tenant, oldest first. An empty tenant
// returns everything.
func (t *RecoveryTracker) History(tenantID string) []RecoveryResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RecoveryResult, 0, len(t.history))
	for _, r := range t.history {
		if tenantID == "" || r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

// Metrics aggregates the tenant's results
func (t *RecoveryTracker) Metrics(tenantID string) RecoveryMetrics {
	history := t.History(tenantID)
	metrics := RecoveryMetrics{
		TotalRecoveries:   len(history),
		RTOComplianceRate: 100.0,
		RPOComplianceRate: 100.0,
	}
	if len(history) == 0 {
		return metrics
	}

	var totalRTO, totalRPO time.Duration
	for _, r := range history {
		if r.RTOMet {
			metrics.RTOCompliant++
		}
		if r.RPOMet {
			metrics.RPOCompliant++
		}
		totalRTO += r.ActualRTO
		totalRPO += r.ActualRPO
		if r.ActualRTO > metrics.WorstRTO {
			metrics.WorstRTO = r.ActualRTO
		}
		if r.ActualRPO > metrics.WorstRPO {
			metrics.WorstRPO = r.ActualRPO
		}
	}

	n := float64(metrics.TotalRecoveries)
	metrics.RTOComplianceRate = float64(metrics.RTOCompliant) / n * 100
	metrics.RPOComplianceRate = float64(metrics.RPOCompliant) / n * 100
	metrics.AverageRTO = totalRTO / time.Duration(metrics.TotalRecoveries)
	metrics.AverageRPO = totalRPO / time.Duration(metrics.TotalRecoveries)
	return metrics
}
