package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
)

type createSessionRequest struct {
	EventName string `json:"event_name"`
	Points    int    `json:"points"`
	ValidFor  string `json:"valid_for"` // Go duration string, e.g. "2h"
}

type createSessionResponse struct {
	Session *domain.AttendanceSession `json:"session"`
	QR      domain.QRPayload          `json:"qr"`
}

// CreateSession opens a new check-in session. Fails with
// ACTIVE_SESSION_EXISTS while another session is effective-active; the
// organizer closes that one explicitly first.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", CodeInvalidInput)
		return
	}

	validFor, err := time.ParseDuration(req.ValidFor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "valid_for must be a duration like \"2h\" or \"90m\"", CodeInvalidInput)
		return
	}

	claims := getClaims(r)
	input := &domain.CreateSessionInput{
		EventName: req.EventName,
		Points:    req.Points,
		ValidFor:  validFor,
		CreatedBy: claims.Sub,
	}

	session, err := h.lifecycle.CreateSession(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		Session: session,
		QR:      session.QRPayload(),
	})
}

func (h *Handlers) PauseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.lifecycle.PauseSession(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.SessionPaused)})
}

func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.lifecycle.ResumeSession(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.SessionActive)})
}

func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.lifecycle.CloseSession(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.SessionFinished)})
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, err := h.lifecycle.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	sessions, err := h.lifecycle.ListSessions(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []domain.AttendanceSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

// ListRedemptions returns the attendance roster for a session.
func (h *Handlers) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, offset := parsePagination(r)

	redemptions, err := h.lifecycle.ListRedemptions(r.Context(), id, limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if redemptions == nil {
		redemptions = []domain.Redemption{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"redemptions": redemptions,
		"limit":       limit,
		"offset":      offset,
	})
}

type clearHistoryRequest struct {
	Confirm bool `json:"confirm"`
}

// ClearHistory deletes all sessions and redemptions. The confirmation gate
// lives here at the call boundary, not in the service.
func (h *Handlers) ClearHistory(w http.ResponseWriter, r *http.Request) {
	var req clearHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		writeError(w, http.StatusBadRequest, "Clearing history is irreversible; send {\"confirm\": true} to proceed", CodeConfirmRequired)
		return
	}

	deleted, err := h.lifecycle.ClearHistory(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions_deleted": deleted})
}

// Reconcile runs the pending-credit sweep on demand.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	applied, failed, err := h.redemption.ReconcilePendingCredits(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"applied": applied,
		"failed":  failed,
	})
}
