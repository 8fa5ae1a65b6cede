package domain

import "time"

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionPaused   SessionStatus = "paused"
	SessionFinished SessionStatus = "finished"
)

func ParseSessionStatus(s string) (SessionStatus, bool) {
	switch SessionStatus(s) {
	case SessionActive, SessionPaused, SessionFinished:
		return SessionStatus(s), true
	default:
		return "", false
	}
}

// AttendanceSession is a time-bounded check-in window. Expiry is never stored
// as a status: a session with Status==active past ExpiresAt is expired, and
// every reader must evaluate that against current server time.
type AttendanceSession struct {
	ID        string        `json:"id"`
	EventName string        `json:"event_name"`
	Code      string        `json:"code"`
	Points    int           `json:"points"`
	Status    SessionStatus `json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
	CreatedAt time.Time     `json:"created_at"`
	CreatedBy string        `json:"created_by"`
}

// IsExpired reports whether the session's deadline has passed at now.
func (s *AttendanceSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsEffectiveActive reports whether the session is accepting redemptions at now.
func (s *AttendanceSession) IsEffectiveActive(now time.Time) bool {
	return s.Status == SessionActive && !s.IsExpired(now)
}

// Redemption records that an attendee checked into a session. The
// (SessionID, AttendeeID) pair is unique in storage; Credited tracks whether
// the point ledger has accepted the credit for this row yet.
type Redemption struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	AttendeeID string     `json:"attendee_id"`
	Points     int        `json:"points"`
	Credited   bool       `json:"credited"`
	CreditedAt *time.Time `json:"credited_at,omitempty"`
	RedeemedAt time.Time  `json:"redeemed_at"`
}

type CreateSessionInput struct {
	EventName string
	Points    int
	ValidFor  time.Duration
	CreatedBy string
}

// RedemptionResult is what the scanner gets back on a successful (or
// repeated) check-in.
type RedemptionResult struct {
	RedemptionID    string    `json:"redemption_id"`
	SessionID       string    `json:"session_id"`
	EventName       string    `json:"event_name"`
	Points          int       `json:"points"`
	AlreadyRedeemed bool      `json:"already_redeemed"`
	CreditPending   bool      `json:"credit_pending,omitempty"`
	RedeemedAt      time.Time `json:"redeemed_at"`
}

// QRPayload is what organizer UIs encode into the displayed QR code. The
// redemption engine validates code and session id independently and never
// trusts the payload's internal consistency.
type QRPayload struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id"`
	Points    int    `json:"points"`
}

func (s *AttendanceSession) QRPayload() QRPayload {
	return QRPayload{
		Code:      s.Code,
		SessionID: s.ID,
		Points:    s.Points,
	}
}
