package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
)

const timeFormat = time.RFC3339

type redeemRequest struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id"`
}

// Redeem is the scanner submission path. A repeated check-in by the same
// attendee is answered with a friendly 200 and already_redeemed=true rather
// than an error; from the attendee's perspective their check-in stands.
func (h *Handlers) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", CodeInvalidInput)
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "code and session_id are required", CodeInvalidInput)
		return
	}

	claims := getClaims(r)
	result, err := h.redemption.Redeem(r.Context(), claims.Sub, req.Code, req.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRedeemed) {
			writeJSON(w, http.StatusOK, domain.RedemptionResult{
				SessionID:       req.SessionID,
				AlreadyRedeemed: true,
			})
			return
		}
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// activeSessionView omits the code: attendees get it from the displayed QR,
// not from the API.
type activeSessionView struct {
	ID        string `json:"id"`
	EventName string `json:"event_name"`
	Points    int    `json:"points"`
	ExpiresAt string `json:"expires_at"`
}

// ActiveSession answers "is there a session to check into right now" for the
// dashboard banner and the scanner entry screen.
func (h *Handlers) ActiveSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.status.GetEffectiveActiveSession(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": true,
		"session": activeSessionView{
			ID:        session.ID,
			EventName: session.EventName,
			Points:    session.Points,
			ExpiresAt: session.ExpiresAt.Format(timeFormat),
		},
	})
}
