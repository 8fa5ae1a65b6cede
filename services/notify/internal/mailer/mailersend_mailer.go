package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendSessionSummary(toEmail, eventName string, attendees, pointsIssued, pendingCredits int, closedAt time.Time) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := fmt.Sprintf("Check-in session closed: %s", eventName)
	html := fmt.Sprintf(`
		<h2>Check-in session closed</h2>
		<p><strong>%s</strong> closed at %s.</p>
		<ul>
			<li>Attendees: <strong>%d</strong></li>
			<li>Points issued: <strong>%d</strong></li>
			<li>Pending credits: <strong>%d</strong></li>
		</ul>
	`, eventName, closedAt.Format(time.RFC1123), attendees, pointsIssued, pendingCredits)

	text := fmt.Sprintf("Session %q closed at %s.\n\nAttendees: %d\nPoints issued: %d\nPending credits: %d",
		eventName, closedAt.Format(time.RFC1123), attendees, pointsIssued, pendingCredits)

	return m.sendEmail(toEmail, "", subject, text, html)
}

func (m *MailerSendClient) SendPendingCreditAlert(toEmail, attendeeID string, points int, redemptionID string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := "Point credit pending reconciliation"
	html := fmt.Sprintf(`
		<h2>Point credit pending</h2>
		<p>A point credit could not be applied and is queued for retry.</p>
		<ul>
			<li>Attendee: <strong>%s</strong></li>
			<li>Points: <strong>%d</strong></li>
			<li>Redemption: <strong>%s</strong></li>
		</ul>
	`, attendeeID, points, redemptionID)

	text := fmt.Sprintf("A point credit could not be applied and is queued for retry.\n\nAttendee: %s\nPoints: %d\nRedemption: %s",
		attendeeID, points, redemptionID)

	return m.sendEmail(toEmail, "", subject, text, html)
}

func (m *MailerSendClient) sendEmail(toEmail, toName, subject, text, html string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)

	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
