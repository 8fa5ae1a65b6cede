package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gatherpoint/community-backend/pkg/logger"
)

// Ledger is the external point ledger service of record. CreditPoints must be
// safe to retry with the same idempotency key, which callers derive from the
// redemption row id.
type Ledger interface {
	CreditPoints(ctx context.Context, attendeeID string, amount int, reason, idempotencyKey string) error
}

type creditRequest struct {
	AttendeeID string `json:"attendee_id"`
	Amount     int    `json:"amount"`
	Reason     string `json:"reason"`
}

// HTTPLedger posts credits to the ledger service.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLedger(baseURL string, timeout time.Duration) *HTTPLedger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPLedger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (l *HTTPLedger) CreditPoints(ctx context.Context, attendeeID string, amount int, reason, idempotencyKey string) error {
	payload, err := json.Marshal(creditRequest{
		AttendeeID: attendeeID,
		Amount:     amount,
		Reason:     reason,
	})
	if err != nil {
		return fmt.Errorf("marshal credit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/credits", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build credit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("credit points: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the ledger already applied this idempotency key, which is
	// success from our side.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("credit points: ledger returned status %d", resp.StatusCode)
}

// DevLedger logs credits instead of calling the ledger service.
type DevLedger struct{}

func NewDevLedger() *DevLedger {
	return &DevLedger{}
}

func (l *DevLedger) CreditPoints(ctx context.Context, attendeeID string, amount int, reason, idempotencyKey string) error {
	logger.InfoContext(ctx, "[DEV LEDGER] credit points",
		"attendee_id", attendeeID,
		"amount", amount,
		"reason", reason,
		"idempotency_key", idempotencyKey,
	)
	return nil
}
