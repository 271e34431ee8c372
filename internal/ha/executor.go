// internal/ha/executor.go
package ha

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/alerting"
	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/database"
)

// Defaults
const (
	DefaultActivationHistory = 50
	DefaultTestStaleAfter    = 30 * 24 * time.Hour
	DefaultMonitorInterval   = time.Minute
)

// Options wires the executor to its collaborators
type Options struct {
	Store     database.Store
	Backups   BackupRunner
	Restores  Restorer
	Inspector BackupInspector
	Health    HealthSource
	Sites     SiteSwitcher
	Alerts    alerting.Sender
	Tracker   *RecoveryTracker
	Logger    *zap.Logger
	Clock     func() time.Time

	// Handlers and Probers override the defaults per step type
	Handlers map[StepType]StepHandler
	Probers  map[StepType]StepProber

	ActivationHistory int
	TestStaleAfter    time.Duration
	MonitorInterval   time.Duration

	OnActivation func(Activation)
	OnStatus     func(*Status)
}

func (o Options) withDefaults() Options {
	if o.Store == nil {
		o.Store = database.NewMemoryStore()
	}
	if o.Alerts == nil {
		o.Alerts = alerting.Nop{}
	}
	if o.Tracker == nil {
		o.Tracker = NewRecoveryTracker(0)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.ActivationHistory <= 0 {
		o.ActivationHistory = DefaultActivationHistory
	}
	if o.TestStaleAfter <= 0 {
		o.TestStaleAfter = DefaultTestStaleAfter
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = DefaultMonitorInterval
	}

	handlers := make(map[StepType]StepHandler, 3)
	probers := make(map[StepType]StepProber, 2)
	if h, ok := o.Sites.(StepHandler); ok {
		handlers[StepFailover] = h
	}
	if p, ok := o.Sites.(StepProber); ok {
		probers[StepFailover] = p
	}
	notifier := NewAlertNotifier(o.Alerts)
	handlers[StepNotification] = notifier
	probers[StepNotification] = notifier
	if o.Inspector != nil {
		handlers[StepVerification] = NewBackupVerifier(o.Inspector, o.Clock)
	}
	for t, h := range o.Handlers {
		handlers[t] = h
	}
	for t, p := range o.Probers {
		probers[t] = p
	}
	o.Handlers = handlers
	o.Probers = probers
	return o
}

// planState is the persisted form of one plan
type planState struct {
	Plan          *Plan       `json:"plan"`
	ActivationIDs []string    `json:"activation_ids"`
	LastTest      *TestResult `json:"last_test,omitempty"`
}

// planEntry owns one plan and its activations. Its lock is never held while
// a step runs.
type planEntry struct {
	mu          sync.Mutex
	plan        *Plan
	activations []*Activation
	current     *Activation
	switching   bool
	lastTest    *TestResult
	deleted     bool
}

// Executor owns DR plans and runs their activations, tests and site switches
type Executor struct {
	opts   Options
	logger *zap.Logger

	mu          sync.RWMutex
	plans       map[string]*planEntry
	activations map[string]string

	runs sync.WaitGroup

	loopMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewExecutor creates a DR plan executor
func NewExecutor(opts Options) *Executor {
	opts = opts.withDefaults()
	return &Executor{
		opts:        opts,
		logger:      opts.Logger.Named("dr"),
		plans:       make(map[string]*planEntry),
		activations: make(map[string]string),
	}
}

// Tracker returns the RTO/RPO tracker
func (e *Executor) Tracker() *RecoveryTracker {
	return e.opts.Tracker
}

// Restore loads every persisted plan. Activations interrupted by a restart
// are marked failed.
func (e *Executor) Restore(ctx context.Context) (int, error) {
	ids, err := e.opts.Store.Keys(ctx, database.KindDRPlan)
	if err != nil {
		return 0, fmt.Errorf("failed to list plans: %w", err)
	}

	restored := 0
	for _, id := range ids {
		var st planState
		if err := e.opts.Store.Load(ctx, database.KindDRPlan, id, &st); err != nil {
			e.logger.Error("failed to load plan", zap.String("plan_id", id), zap.Error(err))
			continue
		}
		if st.Plan == nil {
			continue
		}

		entry := &planEntry{plan: st.Plan, lastTest: st.LastTest}
		for _, actID := range st.ActivationIDs {
			var act Activation
			if err := e.opts.Store.Load(ctx, database.KindDRActivation, actID, &act); err != nil {
				e.logger.Warn("failed to load activation", zap.String("activation_id", actID), zap.Error(err))
				continue
			}
			if act.Status == ActivationInProgress {
				e.interrupt(&act)
				if err := e.opts.Store.Save(ctx, database.KindDRActivation, act.ID, &act); err != nil {
					e.logger.Error("failed to persist interrupted activation", zap.String("activation_id", act.ID), zap.Error(err))
				}
			}
			entry.activations = append(entry.activations, &act)
		}

		e.mu.Lock()
		e.plans[id] = entry
		for _, act := range entry.activations {
			e.activations[act.ID] = id
		}
		e.mu.Unlock()
		restored++
	}
	e.logger.Info("plans restored", zap.Int("plans", restored))
	return restored, nil
}

func (e *Executor) interrupt(act *Activation) {
	now := e.opts.Clock()
	act.Status = ActivationFailed
	act.Error = "interrupted by restart"
	act.CompletedAt = &now
	act.Duration = now.Sub(act.StartedAt)
	for i := range act.Steps {
		switch act.Steps[i].Status {
		case StepRunning:
			act.Steps[i].Status = StepFailed
			act.Steps[i].Error = act.Error
			act.Steps[i].CompletedAt = &now
		case StepPending:
			act.Steps[i].Status = StepSkipped
		}
	}
}

// CreatePlan validates and stores a new plan
func (e *Executor) CreatePlan(ctx context.Context, plan *Plan) (*Plan, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	p := plan.Clone()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := e.opts.Clock()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.LastActivatedAt = nil
	p.LastTestedAt = nil

	e.mu.Lock()
	if _, exists := e.plans[p.ID]; exists {
		e.mu.Unlock()
		return nil, ErrPlanExists
	}
	entry := &planEntry{plan: p}
	e.plans[p.ID] = entry
	e.mu.Unlock()

	entry.mu.Lock()
	err := e.saveLocked(ctx, entry)
	entry.mu.Unlock()
	if err != nil {
		e.mu.Lock()
		delete(e.plans, p.ID)
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to persist plan: %w", err)
	}

	e.logger.Info("plan created",
		zap.String("tenant_id", p.TenantID),
		zap.String("plan_id", p.ID),
		zap.Int("steps", len(p.Steps)))
	return p.Clone(), nil
}

// UpdatePlan replaces a plan's definition. Identity, tenant and history
// timestamps are kept.
func (e *Executor) UpdatePlan(ctx context.Context, id string, update *Plan) (*Plan, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.deleted {
		return nil, errPlanNotFound(id)
	}

	p := update.Clone()
	if p == nil {
		return nil, &backup.ValidationError{Field: "plan", Reason: "required"}
	}
	old := entry.plan
	p.ID = old.ID
	p.TenantID = old.TenantID
	p.CreatedAt = old.CreatedAt
	p.CreatedBy = old.CreatedBy
	p.LastActivatedAt = old.LastActivatedAt
	p.LastTestedAt = old.LastTestedAt
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = e.opts.Clock()

	entry.plan = p
	if err := e.saveLocked(ctx, entry); err != nil {
		entry.plan = old
		return nil, fmt.Errorf("failed to persist plan: %w", err)
	}
	e.logger.Info("plan updated", zap.String("tenant_id", p.TenantID), zap.String("plan_id", p.ID))
	return p.Clone(), nil
}

// DeletePlan removes a plan and its activation history. A plan with an
// activation in progress cannot be deleted.
func (e *Executor) DeletePlan(ctx context.Context, id string) error {
	entry, err := e.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if entry.deleted {
		entry.mu.Unlock()
		return errPlanNotFound(id)
	}
	if entry.current != nil {
		entry.mu.Unlock()
		return ErrActivationInProgress
	}
	if entry.switching {
		entry.mu.Unlock()
		return ErrSwitchInProgress
	}
	entry.deleted = true
	actIDs := make([]string, 0, len(entry.activations))
	for _, a := range entry.activations {
		actIDs = append(actIDs, a.ID)
	}
	tenantID := entry.plan.TenantID
	entry.mu.Unlock()

	e.mu.Lock()
	delete(e.plans, id)
	for _, actID := range actIDs {
		delete(e.activations, actID)
	}
	e.mu.Unlock()

	var errs []error
	for _, actID := range actIDs {
		if err := e.opts.Store.Delete(ctx, database.KindDRActivation, actID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.opts.Store.Delete(ctx, database.KindDRPlan, id); err != nil {
		errs = append(errs, err)
	}
	e.logger.Info("plan deleted", zap.String("tenant_id", tenantID), zap.String("plan_id", id))
	return errors.Join(errs...)
}

// GetPlan returns a copy of the plan
func (e *Executor) GetPlan(id string) (*Plan, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.plan.Clone(), nil
}

// ListPlans returns the tenant's plans, oldest first. An empty tenant lists
// every plan.
func (e *Executor) ListPlans(tenantID string) []*Plan {
	e.mu.RLock()
	entries := make([]*planEntry, 0, len(e.plans))
	for _, entry := range e.plans {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	plans := make([]*Plan, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if tenantID == "" || entry.plan.TenantID == tenantID {
			plans = append(plans, entry.plan.Clone())
		}
		entry.mu.Unlock()
	}
	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].CreatedAt.Before(plans[j].CreatedAt)
		}
		return plans[i].ID < plans[j].ID
	})
	return plans
}

// Activate runs every step of the plan and returns the finished activation
func (e *Executor) Activate(ctx context.Context, planID string, req ActivationRequest) (*Activation, error) {
	entry, act, plan, err := e.begin(ctx, planID, req)
	if err != nil {
		return nil, err
	}
	e.runs.Add(1)
	e.run(ctx, entry, act, plan)
	return e.GetActivation(act.ID)
}

// StartActivation begins an activation and returns it while the steps run
// in the background.
func (e *Executor) StartActivation(ctx context.Context, planID string, req ActivationRequest) (*Activation, error) {
	entry, act, plan, err := e.begin(ctx, planID, req)
	if err != nil {
		return nil, err
	}
	snapshot := act.Clone()
	e.runs.Add(1)
	go e.run(context.WithoutCancel(ctx), entry, act, plan)
	return snapshot, nil
}

// Wait blocks until every background activation and site switch finished
func (e *Executor) Wait() {
	e.runs.Wait()
}

// GetActivation returns a copy of the activation
func (e *Executor) GetActivation(id string) (*Activation, error) {
	e.mu.RLock()
	planID, ok := e.activations[id]
	entry := e.plans[planID]
	e.mu.RUnlock()
	if !ok || entry == nil {
		return nil, errActivationNotFound(id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, a := range entry.activations {
		if a.ID == id {
			return a.Clone(), nil
		}
	}
	return nil, errActivationNotFound(id)
}

// ListActivations returns the plan's activations, newest first
func (e *Executor) ListActivations(planID string, limit int) ([]*Activation, error) {
	entry, err := e.entry(planID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	n := len(entry.activations)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Activation, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entry.activations[i].Clone())
	}
	return out, nil
}

func (e *Executor) entry(id string) (*planEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.plans[id]
	if !ok {
		return nil, errPlanNotFound(id)
	}
	return entry, nil
}

// begin creates an InProgress activation. At most one activation per plan
// may be in progress.
func (e *Executor) begin(ctx context.Context, planID string, req ActivationRequest) (*planEntry, *Activation, *Plan, error) {
	entry, err := e.entry(planID)
	if err != nil {
		return nil, nil, nil, err
	}

	entry.mu.Lock()
	if entry.deleted {
		entry.mu.Unlock()
		return nil, nil, nil, errPlanNotFound(planID)
	}
	if !entry.plan.Active {
		entry.mu.Unlock()
		return nil, nil, nil, ErrPlanInactive
	}
	if entry.current != nil {
		entry.mu.Unlock()
		return nil, nil, nil, ErrActivationInProgress
	}

	plan := entry.plan.Clone()
	now := e.opts.Clock()
	act := &Activation{
		ID:          uuid.New().String(),
		PlanID:      plan.ID,
		TenantID:    plan.TenantID,
		Status:      ActivationInProgress,
		Reason:      req.Reason,
		InitiatedBy: req.InitiatedBy,
		StartedAt:   now,
		RTO:         plan.RTO,
	}
	for _, s := range plan.OrderedSteps() {
		act.Steps = append(act.Steps, StepExecution{
			Order:    s.Order,
			Name:     s.Name,
			Type:     s.Type,
			Required: s.Required,
			Status:   StepPending,
		})
	}

	entry.current = act
	entry.plan.LastActivatedAt = &now
	e.appendActivationLocked(ctx, entry, act)
	if err := e.saveLocked(ctx, entry); err != nil {
		e.persistFailed(ctx, plan.TenantID, err)
	}
	e.saveActivationLocked(ctx, act)
	entry.mu.Unlock()

	e.mu.Lock()
	e.activations[act.ID] = planID
	e.mu.Unlock()

	e.logger.Info("plan activation started",
		zap.String("tenant_id", plan.TenantID),
		zap.String("plan_id", plan.ID),
		zap.String("activation_id", act.ID),
		zap.String("initiated_by", req.InitiatedBy))
	e.sendAlert(ctx, alerting.Alert{
		Severity: alerting.SeverityCritical,
		Type:     alerting.TypeDRActivation,
		Title:    fmt.Sprintf("DR plan %s activated", plan.Name),
		Message:  activationMessage(req),
		TenantID: plan.TenantID,
		Context: map[string]string{
			"plan_id":       plan.ID,
			"activation_id": act.ID,
			"initiated_by":  req.InitiatedBy,
		},
	})
	return entry, act, plan, nil
}

func activationMessage(req ActivationRequest) string {
	if req.Reason == "" {
		return "disaster recovery plan activation started"
	}
	return req.Reason
}

// appendActivationLocked adds act to the plan's history and evicts the
// oldest finished activations beyond the limit.
func (e *Executor) appendActivationLocked(ctx context.Context, entry *planEntry, act *Activation) {
	entry.activations = append(entry.activations, act)
	for len(entry.activations) > e.opts.ActivationHistory {
		evicted := entry.activations[0]
		entry.activations = entry.activations[1:]
		e.mu.Lock()
		delete(e.activations, evicted.ID)
		e.mu.Unlock()
		if err := e.opts.Store.Delete(ctx, database.KindDRActivation, evicted.ID); err != nil {
			e.logger.Warn("failed to delete evicted activation", zap.String("activation_id", evicted.ID), zap.Error(err))
		}
	}
}

// run executes the steps in ascending order. Step N+1 starts only after
// step N's record is terminal.
func (e *Executor) run(ctx context.Context, entry *planEntry, act *Activation, plan *Plan) {
	defer e.runs.Done()

	var failure string
	steps := plan.OrderedSteps()
	for i, step := range steps {
		if failure != "" {
			break
		}

		entry.mu.Lock()
		started := e.opts.Clock()
		act.Steps[i].Status = StepRunning
		act.Steps[i].StartedAt = &started
		e.saveActivationLocked(ctx, act)
		entry.mu.Unlock()

		e.logger.Info("step started",
			zap.String("activation_id", act.ID),
			zap.Int("order", step.Order),
			zap.String("type", string(step.Type)))

		output, err := e.runStep(ctx, plan, step)

		entry.mu.Lock()
		completed := e.opts.Clock()
		se := &act.Steps[i]
		se.CompletedAt = &completed
		se.Duration = completed.Sub(started)
		se.Output = output
		if err != nil {
			se.Status = StepFailed
			se.Error = err.Error()
			if step.Required {
				failure = se.Error
			}
		} else {
			se.Status = StepCompleted
		}
		e.saveActivationLocked(ctx, act)
		entry.mu.Unlock()

		if err != nil {
			e.logger.Warn("step failed",
				zap.String("activation_id", act.ID),
				zap.Int("order", step.Order),
				zap.Bool("required", step.Required),
				zap.Error(err))
		}
	}

	e.finishActivation(ctx, entry, act, plan, failure)
}

func (e *Executor) finishActivation(ctx context.Context, entry *planEntry, act *Activation, plan *Plan, failure string) {
	loss, bounded := e.dataLoss(ctx, plan, act.StartedAt)

	entry.mu.Lock()
	now := e.opts.Clock()
	for i := range act.Steps {
		if act.Steps[i].Status == StepPending {
			act.Steps[i].Status = StepSkipped
		}
	}
	act.CompletedAt = &now
	act.Duration = now.Sub(act.StartedAt)
	if failure != "" {
		act.Status = ActivationFailed
		act.Error = failure
	} else {
		act.Status = ActivationCompleted
	}
	act.RTOMet = act.Status == ActivationCompleted && act.Duration <= act.RTO
	if entry.current == act {
		entry.current = nil
	}
	e.saveActivationLocked(ctx, act)
	snapshot := act.Clone()
	entry.mu.Unlock()

	e.opts.Tracker.Record(RecoveryEvent{
		ID:              act.ID,
		PlanID:          plan.ID,
		TenantID:        plan.TenantID,
		Kind:            RecoveryActivation,
		StartedAt:       act.StartedAt,
		RecoveredAt:     now,
		DataLoss:        loss,
		NoRecoveryPoint: !bounded,
		RTO:             plan.RTO,
		RPO:             plan.RPO,
		Successful:      snapshot.Status == ActivationCompleted,
	})

	fields := []zap.Field{
		zap.String("tenant_id", plan.TenantID),
		zap.String("plan_id", plan.ID),
		zap.String("activation_id", act.ID),
		zap.Duration("duration", snapshot.Duration),
		zap.Bool("rto_met", snapshot.RTOMet),
	}
	alertCtx := map[string]string{
		"plan_id":       plan.ID,
		"activation_id": act.ID,
		"duration":      snapshot.Duration.String(),
	}

	if snapshot.Status == ActivationFailed {
		e.logger.Error("plan activation failed", append(fields, zap.String("error", failure))...)
		e.sendAlert(ctx, alerting.Alert{
			Severity: alerting.SeverityCritical,
			Type:     alerting.TypeDRActivationFailed,
			Title:    fmt.Sprintf("DR plan %s activation failed", plan.Name),
			Message:  failure,
			TenantID: plan.TenantID,
			Context:  alertCtx,
		})
	} else {
		e.logger.Info("plan activation completed", fields...)
	}

	if snapshot.Duration > plan.RTO {
		alertCtx["rto"] = plan.RTO.String()
		e.sendAlert(ctx, alerting.Alert{
			Severity: alerting.SeverityWarning,
			Type:     alerting.TypeRTOBreach,
			Title:    fmt.Sprintf("DR plan %s exceeded its RTO", plan.Name),
			Message:  fmt.Sprintf("activation took %s, RTO is %s", snapshot.Duration, plan.RTO),
			TenantID: plan.TenantID,
			Context:  alertCtx,
		})
	}

	if e.opts.OnActivation != nil {
		e.opts.OnActivation(*snapshot)
	}
}

// runStep dispatches one step with its timeout. A handler that ignores
// cancellation is abandoned when the timeout expires.
func (e *Executor) runStep(ctx context.Context, plan *Plan, step Step) (map[string]string, error) {
	if timeout := step.EffectiveTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		output map[string]string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("step panicked",
					zap.String("plan_id", plan.ID),
					zap.Int("order", step.Order),
					zap.Any("panic", r))
				done <- outcome{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		out, err := e.dispatch(ctx, plan, step)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("step %q did not finish: %w", step.Name, ctx.Err())
	}
}

func (e *Executor) dispatch(ctx context.Context, plan *Plan, step Step) (map[string]string, error) {
	switch step.Type {
	case StepBackup:
		if e.opts.Backups == nil {
			return nil, errors.New("no backup runner configured")
		}
		exec, err := e.opts.Backups.RunBackup(ctx, plan.TenantID, step.Parameters[ParamJobID])
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"execution_id": exec.ID,
			"size_bytes":   strconv.FormatInt(exec.SizeBytes, 10),
		}, nil

	case StepRestore:
		if e.opts.Restores == nil {
			return nil, errors.New("no restorer configured")
		}
		result, err := e.opts.Restores.RunRestore(ctx, plan.TenantID, step.Parameters[ParamJobID], step.Parameters[ParamTargetPath])
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"execution_id":   result.ExecutionID,
			"restored_files": strconv.FormatInt(result.RestoredFiles, 10),
			"restored_bytes": strconv.FormatInt(result.RestoredBytes, 10),
		}, nil
	}

	handler, ok := e.opts.Handlers[step.Type]
	if !ok {
		return nil, fmt.Errorf("no handler registered for %s steps", step.Type)
	}
	return handler.RunStep(ctx, plan, step)
}

// dataLoss returns how much data an incident at t would lose: the age of
// the newest successful backup of the plan's jobs.
func (e *Executor) dataLoss(ctx context.Context, plan *Plan, t time.Time) (time.Duration, bool) {
	if e.opts.Inspector == nil {
		return 0, false
	}
	var newest time.Time
	for _, jobID := range plan.JobIDs() {
		exec, err := e.opts.Inspector.LastSuccessfulBackup(ctx, plan.TenantID, jobID)
		if err != nil || exec == nil {
			continue
		}
		if at := exec.FinishedAt(); at.After(newest) {
			newest = at
		}
	}
	if newest.IsZero() {
		return 0, false
	}
	if newest.After(t) {
		return 0, true
	}
	return t.Sub(newest), true
}

func (e *Executor) saveLocked(ctx context.Context, entry *planEntry) error {
	ids := make([]string, 0, len(entry.activations))
	for _, a := range entry.activations {
		ids = append(ids, a.ID)
	}
	return e.opts.Store.Save(ctx, database.KindDRPlan, entry.plan.ID, planState{
		Plan:          entry.plan,
		ActivationIDs: ids,
		LastTest:      entry.lastTest,
	})
}

func (e *Executor) saveActivationLocked(ctx context.Context, act *Activation) {
	if err := e.opts.Store.Save(ctx, database.KindDRActivation, act.ID, act); err != nil {
		e.persistFailed(ctx, act.TenantID, err)
	}
}

func (e *Executor) persistFailed(ctx context.Context, tenantID string, err error) {
	e.logger.Error("failed to persist DR state", zap.String("tenant_id", tenantID), zap.Error(err))
	go e.sendAlert(context.WithoutCancel(ctx), alerting.Alert{
		Severity: alerting.SeverityCritical,
		Type:     alerting.TypePersistenceFailure,
		Title:    "DR state not persisted",
		Message:  err.Error(),
		TenantID: tenantID,
	})
}

func (e *Executor) sendAlert(ctx context.Context, alert alerting.Alert) {
	if err := e.opts.Alerts.SendAlert(ctx, alert); err != nil {
		e.logger.Warn("failed to send alert", zap.String("type", string(alert.Type)), zap.Error(err))
	}
}

// Start runs the readiness monitor until Stop
func (e *Executor) Start(ctx context.Context) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.wg.Add(1)
	go e.monitorLoop(ctx, e.stopCh)
}

// Stop halts the monitor and waits for background runs
func (e *Executor) Stop() {
	e.loopMu.Lock()
	if !e.running {
		e.loopMu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.loopMu.Unlock()

	e.wg.Wait()
	e.runs.Wait()
}

func (e *Executor) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			for _, tenantID := range e.tenants() {
				e.Status(ctx, tenantID)
			}
		}
	}
}

func (e *Executor) tenants() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range e.ListPlans("") {
		if !seen[p.TenantID] {
			seen[p.TenantID] = true
			ids = append(ids, p.TenantID)
		}
	}
	return ids
}
