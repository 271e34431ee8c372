package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/tenant"
)

func (s *Server) coordinator(w http.ResponseWriter, r *http.Request) (*tenant.Coordinator, bool) {
	c, err := s.tenants.Get(r.Context(), tenantFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return c, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	var req backup.Job
	if err := s.validator.decode(r, "job", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := c.CreateJob(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("job created", zap.String("tenant_id", c.TenantID()), zap.String("job_id", job.ID))
	writeJSON(w, http.StatusCreated, job.Redacted())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	jobs := c.ListJobs()
	out := make([]*backup.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	job, err := c.GetJob(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Redacted())
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	var req backup.Job
	if err := s.validator.decode(r, "job", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := c.UpdateJob(r.Context(), mux.Vars(r)["id"], &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Redacted())
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	if err := c.DeleteJob(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunJob starts a manual run. With ?wait=true it blocks until the
// run is terminal.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		exec, err := c.RunJob(r.Context(), id, backup.TriggerManual)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, exec)
		return
	}
	exec, err := c.ExecuteJob(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	cancelled, err := c.CancelJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	history, err := c.History(mux.Vars(r)["id"], queryInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	exec, err := c.Execution(vars["id"], vars["execID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	var req backup.RestoreRequest
	if err := s.validator.decode(r, "restore", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.JobID = mux.Vars(r)["id"]
	result, err := c.RestoreJob(r.Context(), &req)
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

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Config())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	cfg := c.Config()
	if err := s.validator.decode(r, "", &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := c.UpdateConfig(r.Context(), cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Config())
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.GetStatistics())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.GetHealthStatus(r.Context()))
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.GetStorageUsage())
}

type emergencyRequest struct {
	Reason      string `json:"reason"`
	InitiatedBy string `json:"initiated_by"`
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	var req emergencyRequest
	if err := s.validator.decode(r, "emergency", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	exec, err := c.TriggerEmergencyBackup(r.Context(), req.Reason, req.InitiatedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinator(w, r)
	if !ok {
		return
	}
	removed, err := c.CleanupExpiredBackups(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
