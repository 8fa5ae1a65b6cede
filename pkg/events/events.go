package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gatherpoint/community-backend/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	// Session lifecycle events
	SessionCreated = "checkin.session.created"
	SessionPaused  = "checkin.session.paused"
	SessionResumed = "checkin.session.resumed"
	SessionClosed  = "checkin.session.closed"
	HistoryCleared = "checkin.history.cleared"

	// Redemption events
	Redeemed      = "checkin.redeemed"
	CreditPending = "checkin.credit.pending"
	CreditApplied = "checkin.credit.applied"

	// Realtime feed invalidation for dashboard/scanner clients
	ActiveSessionChanged = "checkin.active.changed"

	// Notification events
	NotifySend = "notify.send"
)

// Event payloads
type SessionCreatedEvent struct {
	SessionID string    `json:"session_id"`
	EventName string    `json:"event_name"`
	Points    int       `json:"points"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionStateEvent struct {
	SessionID string    `json:"session_id"`
	EventName string    `json:"event_name"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

type SessionClosedEvent struct {
	SessionID      string    `json:"session_id"`
	EventName      string    `json:"event_name"`
	Points         int       `json:"points"`
	Attendees      int       `json:"attendees"`
	PointsIssued   int       `json:"points_issued"`
	PendingCredits int       `json:"pending_credits"`
	CreatedBy      string    `json:"created_by"`
	ClosedAt       time.Time `json:"closed_at"`
}

type RedeemedEvent struct {
	RedemptionID string    `json:"redemption_id"`
	SessionID    string    `json:"session_id"`
	AttendeeID   string    `json:"attendee_id"`
	Points       int       `json:"points"`
	RedeemedAt   time.Time `json:"redeemed_at"`
}

type CreditPendingEvent struct {
	RedemptionID string `json:"redemption_id"`
	SessionID    string `json:"session_id"`
	AttendeeID   string `json:"attendee_id"`
	Points       int    `json:"points"`
	Reason       string `json:"reason"`
}

type ActiveSessionChangedEvent struct {
	SessionID string    `json:"session_id,omitempty"`
	Active    bool      `json:"active"`
	ChangedAt time.Time `json:"changed_at"`
}

type NotificationEvent struct {
	Type      string                 `json:"type"`
	Recipient string                 `json:"recipient"`
	Subject   string                 `json:"subject"`
	Template  string                 `json:"template"`
	Data      map[string]interface{} `json:"data"`
}
