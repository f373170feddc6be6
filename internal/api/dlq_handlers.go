package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/outbox"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/internal/service"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
)

// DeadLetterList is the dead letter listing response
type DeadLetterList struct {
	Items  []*models.DeadLetterMessage `json:"items"`
	Count  int                         `json:"count"`
	Limit  int                         `json:"limit"`
	Status string                      `json:"status,omitempty"`
}

// cleanupHandler runs the pending-order sweep. Dry run unless the body says otherwise.
func (s *Server) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	req := struct {
		OlderThanHours *float64 `json:"older_than_hours"`
		DryRun         *bool    `json:"dry_run"`
		SampleSize     int      `json:"sample_size"`
	}{}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	opts := service.SweepOptions{DryRun: true, SampleSize: req.SampleSize, OlderThan: s.config.Cleanup.OlderThan}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}
	if req.OlderThanHours != nil {
		opts.OlderThan = time.Duration(*req.OlderThanHours * float64(time.Hour))
	}

	report, err := s.deps.Sweeper.Sweep(r.Context(), opts)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report})
}

// getDeadLettersHandler lists dead letters, pending ones unless ?status= says otherwise
func (s *Server) getDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}

	status := models.DeadLetterStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.DeadLetterStatusPending
	} else if status == "all" {
		status = ""
	}

	messages, err := s.deps.DeadLetters.List(r.Context(), status, limit)
	if err != nil {
		s.logger.Error("Failed to fetch dead letter messages", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, apperrors.CodeInternal, "Failed to fetch dead letter messages")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: DeadLetterList{
		Items:  messages,
		Count:  len(messages),
		Limit:  limit,
		Status: string(status),
	}})
}

func (s *Server) deadLetterID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, apperrors.CodeValidation, "Invalid message ID")
		return 0, false
	}
	return id, true
}

// retryDeadLetterHandler redelivers a pending dead letter right away
func (s *Server) retryDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deadLetterID(w, r)
	if !ok {
		return
	}

	message, err := s.deps.DeadLetterJob.Redeliver(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.respondWithError(w, http.StatusNotFound, apperrors.CodeNotFound, "Dead letter message not found")
		return
	case errors.Is(err, outbox.ErrNotPending):
		s.respondWithError(w, http.StatusConflict, apperrors.CodeInvalidState, "Only pending messages can be retried")
		return
	case err != nil && message == nil:
		s.logger.Error("Failed to redeliver dead letter message", "error", err, "messageID", id)
		s.respondWithError(w, http.StatusInternalServerError, apperrors.CodeInternal, "Failed to retry message")
		return
	case err != nil:
		// delivery failed and the message was discarded; report its final state
		s.logger.Warn("Dead letter redelivery failed", "error", err, "messageID", id)
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: message})
}

// discardDeadLetterHandler discards a dead letter message
func (s *Server) discardDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deadLetterID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "No reason provided"
	}

	if _, err := s.deps.DeadLetters.GetMessage(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, apperrors.CodeNotFound, "Dead letter message not found")
			return
		}
		s.respondWithError(w, http.StatusInternalServerError, apperrors.CodeInternal, "Failed to fetch dead letter message")
		return
	}

	if err := s.deps.DeadLetters.MarkAsDiscarded(r.Context(), id, req.Reason); err != nil {
		if errors.Is(err, repository.ErrStale) {
			s.respondWithError(w, http.StatusConflict, apperrors.CodeInvalidState, "Message is already resolved or discarded")
			return
		}
		s.logger.Error("Failed to discard message", "error", err, "messageID", id)
		s.respondWithError(w, http.StatusInternalServerError, apperrors.CodeInternal, "Failed to discard message")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Dead letter message discarded",
			"id":      strconv.FormatInt(id, 10),
		},
	})
}
