// internal/alerting/manager.go
package alerting

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Type categorizes alerts
type Type string

const (
	TypeBackupFailed       Type = "backup_failed"
	TypeBackupCritical     Type = "backup_critical"
	TypeEmergencyBackup    Type = "emergency_backup"
	TypeHealthDegraded     Type = "health_degraded"
	TypePersistenceFailure Type = "persistence_failure"
	TypeDRActivation       Type = "dr_activation"
	TypeDRActivationFailed Type = "dr_activation_failed"
	TypeRTOBreach          Type = "rto_breach"
	TypeFailover           Type = "failover"
	TypeFailback           Type = "failback"
	TypeDRNotification     Type = "dr_notification"
)

// Alert is a single notification raised by the engine
type Alert struct {
	ID       string            `json:"id"`
	Severity Severity          `json:"severity"`
	Type     Type              `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	TenantID string            `json:"tenant_id,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
	FiredAt  time.Time         `json:"fired_at"`
	Silenced bool              `json:"silenced"`
}

// Sender delivers alerts. Implementations must not block for long.
type Sender interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// ManagerConfig configures the alert manager
type ManagerConfig struct {
	MaxAlerts int `json:"max_alerts" yaml:"max_alerts"`
}

// Manager keeps recent alerts, logs them and fans them out to handlers
type Manager struct {
	config   ManagerConfig
	logger   *zap.Logger
	alerts   []Alert
	counts   map[Severity]int64
	silences map[Type]time.Time
	handlers []func(Alert)
	now      func() time.Time
	mu       sync.RWMutex
}

// NewManager creates an alert manager
func NewManager(config ManagerConfig, logger *zap.Logger) *Manager {
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:   config,
		logger:   logger.Named("alerting"),
		alerts:   make([]Alert, 0),
		counts:   make(map[Severity]int64),
		silences: make(map[Type]time.Time),
		now:      time.Now,
	}
}

// SendAlert records and dispatches an alert
func (m *Manager) SendAlert(ctx context.Context, alert Alert) error {
	if alert.Title == "" && alert.Message == "" {
		return errors.New("alerting: alert needs a title or message")
	}
	if alert.Severity == "" {
		alert.Severity = SeverityInfo
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	m.mu.Lock()
	if alert.FiredAt.IsZero() {
		alert.FiredAt = m.now()
	}
	alert.Silenced = m.isSilencedLocked(alert.Type, alert.FiredAt)
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > m.config.MaxAlerts {
		m.alerts = m.alerts[len(m.alerts)-m.config.MaxAlerts:]
	}
	m.counts[alert.Severity]++
	handlers := slices.Clone(m.handlers)
	m.mu.Unlock()

	m.log(alert)

	if alert.Silenced {
		return nil
	}
	for _, h := range handlers {
		h(alert)
	}
	return nil
}

func (m *Manager) log(alert Alert) {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.String("title", alert.Title),
		zap.String("tenant_id", alert.TenantID),
		zap.Any("context", alert.Context),
		zap.Bool("silenced", alert.Silenced),
	}
	switch alert.Severity {
	case SeverityCritical:
		m.logger.Error(alert.Message, fields...)
	case SeverityWarning:
		m.logger.Warn(alert.Message, fields...)
	default:
		m.logger.Info(alert.Message, fields...)
	}
}

// OnAlert registers a handler invoked for every unsilenced alert
func (m *Manager) OnAlert(handler func(Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Silence suppresses handler fan-out for an alert type until the given time
func (m *Manager) Silence(t Type, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silences[t] = until
}

func (m *Manager) isSilencedLocked(t Type, at time.Time) bool {
	until, ok := m.silences[t]
	return ok && at.Before(until)
}

// Recent returns up to limit of the newest alerts, newest last
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	result := make([]Alert, limit)
	copy(result, m.alerts[len(m.alerts)-limit:])
	return result
}

// ForTenant returns the retained alerts of one tenant
func (m *Manager) ForTenant(tenantID string) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Alert
	for _, a := range m.alerts {
		if a.TenantID == tenantID {
			result = append(result, a)
		}
	}
	return result
}

// Count returns how many alerts of a severity were sent
func (m *Manager) Count(severity Severity) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[severity]
}

// Nop discards alerts
type Nop struct{}

// SendAlert implements Sender
func (Nop) SendAlert(context.Context, Alert) error { return nil }
