package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/ha"
	"github.com/FairForge/vaultaire-recovery/internal/tenant"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

// statusFor maps engine errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, backup.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, backup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenant.ErrEmergencyDisabled):
		return http.StatusForbidden
	case errors.Is(err, backup.ErrAlreadyRunning),
		errors.Is(err, backup.ErrJobExists),
		errors.Is(err, backup.ErrNoSuccessfulBackup),
		errors.Is(err, ha.ErrPlanExists),
		errors.Is(err, ha.ErrPlanInactive),
		errors.Is(err, ha.ErrActivationInProgress),
		errors.Is(err, ha.ErrSwitchInProgress):
		return http.StatusConflict
	case errors.Is(err, tenant.ErrRestoreUnavailable),
		errors.Is(err, ha.ErrNoSiteSwitcher):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("tenant_id", tenantFrom(r)),
			zap.Error(err))
	}
	writeMessage(w, status, err.Error())
}
