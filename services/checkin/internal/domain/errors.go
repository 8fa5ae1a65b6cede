package domain

import "errors"

// Caller-actionable errors. Handlers map each to a distinct HTTP status and
// error code so scanner and organizer UIs can tell them apart.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrActiveSessionExists = errors.New("an active session already exists")
	ErrInvalidTransition   = errors.New("invalid session state transition")
	ErrSessionNotFound     = errors.New("session not found")
	ErrCodeMismatch        = errors.New("code does not match session")
	ErrSessionNotActive    = errors.New("session is not accepting check-ins")
	ErrSessionExpired      = errors.New("session has expired")
	ErrAlreadyRedeemed     = errors.New("attendee already checked in")
)
