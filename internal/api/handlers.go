package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/commitment-engine/internal/allocation"
	"github.com/terra-clan/commitment-engine/internal/health"
	"github.com/terra-clan/commitment-engine/internal/models"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondServiceError maps allocation errors onto HTTP statuses
func respondServiceError(w http.ResponseWriter, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, allocation.ErrCommitmentNotFound):
		respondError(w, http.StatusNotFound, "not_found", "commitment not found")
	case errors.Is(err, allocation.ErrImageNotFound):
		respondError(w, http.StatusNotFound, "not_found", "image not found")
	case errors.Is(err, allocation.ErrAlreadyComplete):
		respondError(w, http.StatusConflict, "already_complete", "commitment is already complete")
	case errors.Is(err, allocation.ErrAlreadyCompletedToday):
		respondError(w, http.StatusConflict, "already_completed_today", "progress was already recorded today")
	case errors.Is(err, allocation.ErrInvalidCommitment):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		slog.Error("failed to "+action, append([]any{"error", err}, attrs...)...)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.checks.HealthCheckAll(r.Context())

	checks := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !health.Healthy(results) {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// Commitment handlers

// createCommitmentBody accepts both {"commitment": {...}} and the flat object
type createCommitmentBody struct {
	Commitment *models.CreateCommitmentRequest `json:"commitment"`
	models.CreateCommitmentRequest
}

func (s *Server) handleCreateCommitment(w http.ResponseWriter, r *http.Request) {
	var body createCommitmentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	req := &body.CreateCommitmentRequest
	if body.Commitment != nil {
		req = body.Commitment
	}

	c, err := s.manager.CreateCommitment(r.Context(), req)
	if err != nil {
		if errors.Is(err, allocation.ErrImageNotFound) {
			respondError(w, http.StatusBadRequest, "validation_error", "image_id does not match a catalog image")
			return
		}
		respondServiceError(w, err, "create commitment")
		return
	}

	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCommitment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.manager.GetCommitment(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "get commitment", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleListCommitments(w http.ResponseWriter, r *http.Request) {
	filters := models.CommitmentFilters{
		Status: models.CommitmentStatus(r.URL.Query().Get("status")),
		Limit:  50, // default
		Offset: 0,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filters.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filters.Offset = offset
		}
	}

	commitments, err := s.manager.ListCommitments(r.Context(), filters)
	if err != nil {
		respondServiceError(w, err, "list commitments")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"commitments": commitments,
		"total":       len(commitments),
	})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	summary, err := s.manager.Progress(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "get progress", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// Progress entry handlers

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := s.manager.Entries(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "list progress entries", "id", id)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *Server) handleCompleteToday(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The body carries nothing the server needs
	io.Copy(io.Discard, io.LimitReader(r.Body, 1<<16))

	completion, err := s.manager.CompleteToday(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "complete today", "id", id)
		return
	}

	// Nothing was recorded on a zero quota day
	if len(completion.Entries) == 0 {
		respondJSON(w, http.StatusOK, completion)
		return
	}

	s.feed.Publish(completion)
	respondJSON(w, http.StatusCreated, completion)
}
