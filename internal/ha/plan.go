// internal/ha/plan.go
package ha

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
)

// Errors
var (
	ErrPlanInactive         = errors.New("disaster recovery plan is inactive")
	ErrActivationInProgress = errors.New("plan activation already in progress")
	ErrSwitchInProgress     = errors.New("site switch already in progress")
	ErrNoSiteSwitcher       = errors.New("no site switcher configured")
	ErrPlanExists           = errors.New("disaster recovery plan already exists")
)

func errPlanNotFound(id string) error {
	return &backup.NotFoundError{Kind: "dr plan", ID: id}
}

func errActivationNotFound(id string) error {
	return &backup.NotFoundError{Kind: "dr activation", ID: id}
}

// StepType selects how a DR step is executed
type StepType string

const (
	StepBackup       StepType = "backup"
	StepRestore      StepType = "restore"
	StepFailover     StepType = "failover"
	StepNotification StepType = "notification"
	StepVerification StepType = "verification"
)

// Well-known step parameters
const (
	ParamJobID      = "job_id"
	ParamTargetPath = "target_path"
	ParamTargetSite = "target_site"
	ParamMessage    = "message"
	ParamSeverity   = "severity"
	ParamMaxAge     = "max_age"
	ParamTimeout    = "timeout"
)

// Step is one ordered action of a DR plan
type Step struct {
	Order      int               `json:"order"`
	Name       string            `json:"name"`
	Type       StepType          `json:"type"`
	Required   bool              `json:"required"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
}

// EffectiveTimeout returns the step timeout, or zero for none
func (s Step) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	if v, ok := s.Parameters[ParamTimeout]; ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// Plan is an ordered set of recovery steps with RTO/RPO targets
type Plan struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	RTO             time.Duration `json:"rto"`
	RPO             time.Duration `json:"rpo"`
	Steps           []Step        `json:"steps"`
	Active          bool          `json:"active"`
	CreatedBy       string        `json:"created_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	LastActivatedAt *time.Time    `json:"last_activated_at,omitempty"`
	LastTestedAt    *time.Time    `json:"last_tested_at,omitempty"`
}

// Clone returns a deep copy
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		c.Steps[i] = s
		if s.Parameters != nil {
			c.Steps[i].Parameters = make(map[string]string, len(s.Parameters))
			for k, v := range s.Parameters {
				c.Steps[i].Parameters[k] = v
			}
		}
	}
	if p.LastActivatedAt != nil {
		t := *p.LastActivatedAt
		c.LastActivatedAt = &t
	}
	if p.LastTestedAt != nil {
		t := *p.LastTestedAt
		c.LastTestedAt = &t
	}
	return &c
}

// OrderedSteps returns the steps sorted by ascending order
func (p *Plan) OrderedSteps() []Step {
	steps := append([]Step(nil), p.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

// JobIDs returns the distinct job ids referenced by backup and restore steps
func (p *Plan) JobIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range p.OrderedSteps() {
		if s.Type != StepBackup && s.Type != StepRestore {
			continue
		}
		id := s.Parameters[ParamJobID]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Validate rejects malformed plans before any state changes
func (p *Plan) Validate() error {
	if p == nil {
		return &backup.ValidationError{Field: "plan", Reason: "required"}
	}
	if p.Name == "" {
		return &backup.ValidationError{Field: "name", Reason: "required"}
	}
	if p.TenantID == "" {
		return &backup.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if p.RTO <= 0 {
		return &backup.ValidationError{Field: "rto", Reason: "must be greater than zero"}
	}
	if p.RPO <= 0 {
		return &backup.ValidationError{Field: "rpo", Reason: "must be greater than zero"}
	}

	orders := make(map[int]bool, len(p.Steps))
	for _, s := range p.Steps {
		if orders[s.Order] {
			return &backup.ValidationError{Field: "steps", Reason: fmt.Sprintf("duplicate step order %d", s.Order)}
		}
		orders[s.Order] = true

		switch s.Type {
		case StepBackup, StepRestore:
			if s.Parameters[ParamJobID] == "" {
				return &backup.ValidationError{Field: "steps", Reason: fmt.Sprintf("step %d: %s step requires %s", s.Order, s.Type, ParamJobID)}
			}
		case StepFailover, StepNotification, StepVerification:
		default:
			return &backup.ValidationError{Field: "steps", Reason: fmt.Sprintf("step %d: unknown type %q", s.Order, s.Type)}
		}
		if s.Timeout < 0 {
			return &backup.ValidationError{Field: "steps", Reason: fmt.Sprintf("step %d: timeout must not be negative", s.Order)}
		}
	}
	return nil
}

// ActivationStatus is the state of one plan activation
type ActivationStatus string

const (
	ActivationInProgress ActivationStatus = "in_progress"
	ActivationCompleted  ActivationStatus = "completed"
	ActivationFailed     ActivationStatus = "failed"
)

// StepStatus is the state of one step within an activation
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step has finished or will never run
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// StepExecution records one step's run within an activation
type StepExecution struct {
	Order       int               `json:"order"`
	Name        string            `json:"name"`
	Type        StepType          `json:"type"`
	Required    bool              `json:"required"`
	Status      StepStatus        `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Duration    time.Duration     `json:"duration"`
	Output      map[string]string `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// ActivationRequest carries who activated a plan and why
type ActivationRequest struct {
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiated_by"`
}

// Activation is one run-through of a plan's steps
type Activation struct {
	ID          string           `json:"id"`
	PlanID      string           `json:"plan_id"`
	TenantID    string           `json:"tenant_id"`
	Status      ActivationStatus `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	InitiatedBy string           `json:"initiated_by,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Duration    time.Duration    `json:"duration"`
	Steps       []StepExecution  `json:"steps"`
	Error       string           `json:"error,omitempty"`
	RTO         time.Duration    `json:"rto"`
	RTOMet      bool             `json:"rto_met"`
}

// Clone returns a deep copy
func (a *Activation) Clone() *Activation {
	if a == nil {
		return nil
	}
	c := *a
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	c.Steps = make([]StepExecution, len(a.Steps))
	for i, s := range a.Steps {
		c.Steps[i] = s
		if s.StartedAt != nil {
			t := *s.StartedAt
			c.Steps[i].StartedAt = &t
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			c.Steps[i].CompletedAt = &t
		}
		if s.Output != nil {
			c.Steps[i].Output = make(map[string]string, len(s.Output))
			for k, v := range s.Output {
				c.Steps[i].Output[k] = v
			}
		}
	}
	return &c
}
