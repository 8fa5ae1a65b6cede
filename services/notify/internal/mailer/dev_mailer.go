package mailer

import (
	"fmt"
	"time"

	"github.com/gatherpoint/community-backend/pkg/logger"
)

type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendSessionSummary(toEmail, eventName string, attendees, pointsIssued, pendingCredits int, closedAt time.Time) error {
	logger.Info("📧 [DEV MAIL] Session Summary",
		"to", toEmail,
		"event_name", eventName,
		"attendees", attendees,
		"points_issued", pointsIssued,
		"pending_credits", pendingCredits,
	)

	fmt.Printf("\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"📧 SESSION SUMMARY (DEV MODE)\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"To: %s\n"+
		"Subject: Check-in session closed: %s\n"+
		"\n"+
		"Attendees: %d\n"+
		"Points issued: %d\n"+
		"Pending credits: %d\n"+
		"Closed at: %s\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n",
		toEmail, eventName, attendees, pointsIssued, pendingCredits, closedAt.Format(time.RFC3339))

	return nil
}

func (d *DevMailer) SendPendingCreditAlert(toEmail, attendeeID string, points int, redemptionID string) error {
	logger.Info("📧 [DEV MAIL] Pending Credit Alert",
		"to", toEmail,
		"attendee_id", attendeeID,
		"points", points,
		"redemption_id", redemptionID,
	)

	fmt.Printf("\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"📧 PENDING CREDIT ALERT (DEV MODE)\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n"+
		"To: %s\n"+
		"Subject: Point credit pending reconciliation\n"+
		"\n"+
		"Attendee: %s\n"+
		"Points: %d\n"+
		"Redemption: %s\n"+
		"━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n",
		toEmail, attendeeID, points, redemptionID)

	return nil
}
