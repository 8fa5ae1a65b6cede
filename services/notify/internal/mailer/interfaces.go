package mailer

import "time"

// Service sends organizer-facing notifications for the check-in subsystem.
type Service interface {
	SendSessionSummary(toEmail, eventName string, attendees, pointsIssued, pendingCredits int, closedAt time.Time) error
	SendPendingCreditAlert(toEmail, attendeeID string, points int, redemptionID string) error
}
