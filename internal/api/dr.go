package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/ha"
)

type stepRequest struct {
	Order      int               `json:"order"`
	Name       string            `json:"name"`
	Type       ha.StepType       `json:"type"`
	Required   bool              `json:"required"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Timeout    Duration          `json:"timeout,omitempty"`
}

// planRequest is the wire form of a DR plan. Durations accept "4h" or
// seconds.
type planRequest struct {
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	RTO         Duration      `json:"rto"`
	RPO         Duration      `json:"rpo"`
	Active      *bool         `json:"active,omitempty"`
	CreatedBy   string        `json:"created_by,omitempty"`
	Steps       []stepRequest `json:"steps"`
}

func (p *planRequest) toPlan(tenantID string) *ha.Plan {
	plan := &ha.Plan{
		ID:          p.ID,
		TenantID:    tenantID,
		Name:        p.Name,
		Description: p.Description,
		RTO:         time.Duration(p.RTO),
		RPO:         time.Duration(p.RPO),
		Active:      p.Active == nil || *p.Active,
		CreatedBy:   p.CreatedBy,
	}
	for _, st := range p.Steps {
		plan.Steps = append(plan.Steps, ha.Step{
			Order:      st.Order,
			Name:       st.Name,
			Type:       st.Type,
			Required:   st.Required,
			Parameters: st.Parameters,
			Timeout:    time.Duration(st.Timeout),
		})
	}
	return plan
}

func planNotFound(id string) error {
	return &backup.NotFoundError{Kind: "dr plan", ID: id}
}

// ownedPlan loads a plan and hides plans of other tenants
func (s *Server) ownedPlan(w http.ResponseWriter, r *http.Request) (*ha.Plan, bool) {
	id := mux.Vars(r)["id"]
	plan, err := s.dr.GetPlan(id)
	if err == nil && plan.TenantID != tenantFrom(r) {
		err = planNotFound(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return plan, true
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := s.validator.decode(r, "plan", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.dr.CreatePlan(r.Context(), req.toPlan(tenantFrom(r)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("dr plan created", zap.String("tenant_id", plan.TenantID), zap.String("plan_id", plan.ID))
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dr.ListPlans(tenantFrom(r)))
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.ownedPlan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.ownedPlan(w, r)
	if !ok {
		return
	}
	var req planRequest
	if err := s.validator.decode(r, "plan", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.dr.UpdatePlan(r.Context(), existing.ID, req.toPlan(existing.TenantID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.ownedPlan(w, r)
	if !ok {
		return
	}
	if err := s.dr.DeletePlan(r.Context(), plan.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleActivate runs the plan. With ?async=true it returns the in-progress
// activation immediately.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.ownedPlan(w, r)
	if !ok {
		return
	}
	var req ha.ActivationRequest
	if err := s.validator.decode(r, "", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		act, err := s.dr.StartActivation(r.Context(), plan.ID, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, act)
		return
	}
	act, err := s.dr.Activate(r.Context(), plan.ID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (s *Server) handleListActivations(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.ownedPlan(w, r)
	if !ok {
		return
	}
	acts, err := s.dr.ListActivations(plan.ID, queryInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (s *Server) handleGetActivation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	act, err := s.dr.GetActivation(id)
	if err == nil && act.TenantID != tenantFrom(r) {
		err = &backup.NotFoundError{Kind: "dr activation", ID: id}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (s *Server) handleTestPlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.ownedPlan(w, r)
	if !ok {
		return
	}
	var opts ha.TestOptions
	if err := s.validator.decode(r, "", &opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.dr.TestPlan(r.Context(), plan.ID, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFailover(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.ownedPlan(w, r)
	if !ok {
		return
	}
	var opts ha.FailoverOptions
	if err := s.validator.decode(r, "", &opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.dr.Failover(r.Context(), plan.ID, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) handleFailback(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.ownedPlan(w, r)
	if !ok {
		return
	}
	var opts ha.FailbackOptions
	if err := s.validator.decode(r, "", &opts); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.dr.Failback(r.Context(), plan.ID, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) handleDRStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dr.Status(r.Context(), tenantFrom(r)))
}

func (s *Server) handleRecoveryMetrics(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r)
	tracker := s.dr.Tracker()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": tracker.Metrics(tenantID),
		"history": tracker.History(tenantID),
	})
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	if s.sites == nil {
		writeJSON(w, http.StatusOK, []ha.SiteStatus{})
		return
	}
	// other tenants' placements stay private
	tenantID := tenantFrom(r)
	statuses := s.sites.Status()
	for i := range statuses {
		var own []string
		for _, t := range statuses[i].Tenants {
			if t == tenantID {
				own = append(own, t)
			}
		}
		statuses[i].Tenants = own
	}
	writeJSON(w, http.StatusOK, statuses)
}
