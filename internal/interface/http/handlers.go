package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tincanhub/tincan-launch/internal/application/command"
	"github.com/tincanhub/tincan-launch/internal/application/query"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Tin Can Launch API",
		"version":     "v1",
		"description": "REST API for launching xAPI experiences and syncing results from an LRS",
		"endpoints": map[string]string{
			"health":        "/health",
			"launch":        "/api/v1/activities/{id}/launch",
			"completion":    "/api/v1/activities/{id}/completion",
			"grade":         "/api/v1/activities/{id}/grade",
			"registrations": "/api/v1/activities/{id}/registrations",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY INSTANCE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateActivity handles POST /api/v1/activities
func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.ManageActivityHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Activity management not configured")
		return
	}

	var cmd command.CreateActivityCommand
	if !s.decodeBody(w, r, &cmd) {
		return
	}

	act, err := s.deps.ManageActivityHandler.HandleCreate(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, "failed to create activity", err)
		return
	}

	writeJSON(w, http.StatusCreated, act)
}

// handleUpdateActivity handles PUT /api/v1/activities/{id}
func (s *Server) handleUpdateActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.ManageActivityHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Activity management not configured")
		return
	}

	activityID := getPathInt64(r, "id")
	if activityID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Activity ID is required")
		return
	}

	var cmd command.UpdateActivityCommand
	if !s.decodeBody(w, r, &cmd) {
		return
	}
	cmd.ActivityID = activityID

	act, err := s.deps.ManageActivityHandler.HandleUpdate(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, "failed to update activity", err)
		return
	}

	writeJSON(w, http.StatusOK, act)
}

// handleDeleteActivity handles DELETE /api/v1/activities/{id}
func (s *Server) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.ManageActivityHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Activity management not configured")
		return
	}

	activityID := getPathInt64(r, "id")
	if activityID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Activity ID is required")
		return
	}

	err := s.deps.ManageActivityHandler.HandleDelete(r.Context(), command.DeleteActivityCommand{ActivityID: activityID})
	if err != nil {
		s.writeDomainError(w, r, "failed to delete activity", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LAUNCH HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// launchRequest is the POST /launch request body.
type launchRequest struct {
	UserID int64 `json:"user_id"`

	// RegistrationID resumes an existing attempt; empty starts a new one.
	RegistrationID string `json:"registration_id,omitempty"`
}

// handleLaunch handles POST /api/v1/activities/{id}/launch
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordLaunchHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Launch handler not configured")
		return
	}

	activityID := getPathInt64(r, "id")
	if activityID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Activity ID is required")
		return
	}

	var req launchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RecordLaunchHandler.Handle(r.Context(), command.RecordLaunchCommand{
		ActivityID:     activityID,
		UserID:         req.UserID,
		RegistrationID: req.RegistrationID,
	})
	if err != nil {
		s.writeDomainError(w, r, "launch failed", err)
		return
	}

	s.logger.Info("launch recorded",
		logger.ActivityID(activityID),
		logger.UserID(req.UserID),
		logger.Registration(result.RegistrationID),
		logger.String("request_id", getRequestID(r.Context())),
	)

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION & GRADE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetCompletion handles GET /api/v1/activities/{id}/completion
func (s *Server) handleGetCompletion(w http.ResponseWriter, r *http.Request) {
	if s.deps.CheckCompletionHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Completion handler not configured")
		return
	}

	activityID := getPathInt64(r, "id")
	userID := getQueryParamInt64(r, "user_id", 0)
	if activityID <= 0 || userID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Activity ID and user_id are required")
		return
	}

	result, err := s.deps.CheckCompletionHandler.Handle(r.Context(), query.CheckCompletionQuery{
		ActivityID: activityID,
		UserID:     userID,
	})
	if err != nil {
		s.writeDomainError(w, r, "completion check failed", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetGrade handles GET /api/v1/activities/{id}/grade
func (s *Server) handleGetGrade(w http.ResponseWriter, r *http.Request) {
	if s.deps.ComputeGradeHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Grade handler not configured")
		return
	}

	activityID := getPathInt64(r, "id")
	userID := getQueryParamInt64(r, "user_id", 0)
	if activityID <= 0 || userID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Activity ID and user_id are required")
		return
	}

	result, err := s.deps.ComputeGradeHandler.Handle(r.Context(), query.ComputeGradeQuery{
		ActivityID: activityID,
		UserID:     userID,
	})
	if err != nil {
		s.writeDomainError(w, r, "grade computation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListRegistrations handles GET /api/v1/activities/{id}/registrations
func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListRegistrationsHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Registrations handler not configured")
		return
	}

	activityID := getPathInt64(r, "id")
	userID := getQueryParamInt64(r, "user_id", 0)
	if activityID <= 0 || userID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Activity ID and user_id are required")
		return
	}

	result, err := s.deps.ListRegistrationsHandler.Handle(r.Context(), query.ListRegistrationsQuery{
		ActivityID: activityID,
		UserID:     userID,
	})
	if err != nil {
		s.writeDomainError(w, r, "registration listing failed", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody reads and decodes a JSON request body; on failure it writes
// the error response and returns false.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return false
	}
	defer r.Body.Close()

	if len(body) == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return false
	}
	return true
}

// writeDomainError translates application-layer failures into HTTP
// responses. LRS transport failures surface as 502: the record lives on
// the LRS and the service has nothing cached to fall back on.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		logger.Err(err),
		logger.String("path", r.URL.Path),
		logger.String("request_id", getRequestID(r.Context())),
	)

	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsNotApplicable(err):
		writeJSONError(w, http.StatusUnprocessableEntity, "not_applicable", err.Error())
	case shared.IsConcurrentModification(err):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case shared.IsLRSTransport(err):
		writeJSONError(w, http.StatusBadGateway, "lrs_unavailable", err.Error())
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrEmptyValue),
		errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidScoreRange):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, shared.ErrAlreadyExists):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
