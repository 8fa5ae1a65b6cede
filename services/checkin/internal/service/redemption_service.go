package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gatherpoint/community-backend/pkg/events"
	"github.com/gatherpoint/community-backend/pkg/logger"
	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
	"github.com/gatherpoint/community-backend/services/checkin/internal/ledger"
	"github.com/gatherpoint/community-backend/services/checkin/internal/repository"
)

// RedemptionService is the safety-critical accept/reject path: it awards
// points at most once per (session, attendee) pair.
type RedemptionService interface {
	Redeem(ctx context.Context, attendeeID, code, sessionID string) (*domain.RedemptionResult, error)
	ReconcilePendingCredits(ctx context.Context) (applied, failed int, err error)
}

type redemptionService struct {
	sessionRepo    repository.SessionRepository
	redemptionRepo repository.RedemptionRepository
	ledger         ledger.Ledger
	eventBus       events.Publisher
	now            func() time.Time
}

func NewRedemptionService(
	sessionRepo repository.SessionRepository,
	redemptionRepo repository.RedemptionRepository,
	pointLedger ledger.Ledger,
	eventBus events.Publisher,
) RedemptionService {
	return &redemptionService{
		sessionRepo:    sessionRepo,
		redemptionRepo: redemptionRepo,
		ledger:         pointLedger,
		eventBus:       eventBus,
		now:            time.Now,
	}
}

// Redeem validates the presented (code, sessionID) pair against current state
// at server time and records the check-in. Session state is re-read from
// storage on every call; nothing here trusts a previously fetched copy.
func (s *redemptionService) Redeem(ctx context.Context, attendeeID, code, sessionID string) (*domain.RedemptionResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}

	// Guards against a forged or stale QR payload pointing at a valid
	// session id with the wrong code.
	code = strings.ToUpper(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(code), []byte(session.Code)) != 1 {
		return nil, domain.ErrCodeMismatch
	}

	now := s.now()
	if session.Status != domain.SessionActive {
		return nil, domain.ErrSessionNotActive
	}
	if session.IsExpired(now) {
		// The engine is the final arbiter: a session shown as active a
		// second ago can legitimately expire before submission.
		if _, err := s.sessionRepo.FinalizeExpired(ctx, now); err != nil {
			logger.ErrorContext(ctx, "Failed to finalize expired session", "error", err, "session_id", sessionID)
		}
		return nil, domain.ErrSessionExpired
	}

	// The blind insert is the exactly-once contract: under concurrent
	// duplicate submissions the unique index lets exactly one row through.
	redemption, err := s.redemptionRepo.Create(ctx, sessionID, attendeeID, session.Points)
	if err != nil {
		return nil, err
	}

	result := &domain.RedemptionResult{
		RedemptionID: redemption.ID,
		SessionID:    session.ID,
		EventName:    session.EventName,
		Points:       session.Points,
		RedeemedAt:   redemption.RedeemedAt,
	}

	// The redemption row is durable at this point. A credit failure leaves a
	// recoverable pending state for the reconciliation sweep; it is never a
	// hard failure to the attendee and never rolls the redemption back.
	if err := s.credit(ctx, redemption, session.EventName); err != nil {
		logger.ErrorContext(ctx, "Point credit failed, queued for reconciliation",
			"error", err,
			"redemption_id", redemption.ID,
			"attendee_id", attendeeID,
		)
		result.CreditPending = true

		pending := events.CreditPendingEvent{
			RedemptionID: redemption.ID,
			SessionID:    session.ID,
			AttendeeID:   attendeeID,
			Points:       session.Points,
			Reason:       err.Error(),
		}
		if pubErr := s.eventBus.Publish(ctx, events.CreditPending, pending); pubErr != nil {
			logger.ErrorContext(ctx, "Failed to publish credit pending event", "error", pubErr, "redemption_id", redemption.ID)
		}
	}

	event := events.RedeemedEvent{
		RedemptionID: redemption.ID,
		SessionID:    session.ID,
		AttendeeID:   attendeeID,
		Points:       session.Points,
		RedeemedAt:   redemption.RedeemedAt,
	}
	if err := s.eventBus.Publish(ctx, events.Redeemed, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish redeemed event", "error", err, "redemption_id", redemption.ID)
	}

	return result, nil
}

// credit pushes the points to the ledger and records acceptance. The
// idempotency key is the redemption row id, so retries from the sweep can
// never double-credit.
func (s *redemptionService) credit(ctx context.Context, redemption *domain.Redemption, eventName string) error {
	reason := "check-in: " + eventName
	if err := s.ledger.CreditPoints(ctx, redemption.AttendeeID, redemption.Points, reason, redemption.ID); err != nil {
		return err
	}
	if _, err := s.redemptionRepo.MarkCredited(ctx, redemption.ID); err != nil {
		// The ledger accepted the credit; the retry is idempotent, so leave
		// the row pending and let the sweep settle it.
		return fmt.Errorf("credit accepted but not recorded: %w", err)
	}
	return nil
}

const reconcileConcurrency = 4

// ReconcilePendingCredits retries ledger credits for redemptions recorded
// without a confirmed credit.
func (s *redemptionService) ReconcilePendingCredits(ctx context.Context) (int, int, error) {
	pending, err := s.redemptionRepo.ListPendingCredits(ctx, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list pending credits: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	var applied, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, redemption := range pending {
		red := redemption
		g.Go(func() error {
			if err := s.credit(gctx, &red, "check-in reconciliation"); err != nil {
				failed.Add(1)
				logger.ErrorContext(gctx, "Pending credit retry failed", "error", err, "redemption_id", red.ID)
				return nil
			}
			applied.Add(1)

			event := events.CreditPendingEvent{
				RedemptionID: red.ID,
				SessionID:    red.SessionID,
				AttendeeID:   red.AttendeeID,
				Points:       red.Points,
			}
			if err := s.eventBus.Publish(gctx, events.CreditApplied, event); err != nil {
				logger.ErrorContext(gctx, "Failed to publish credit applied event", "error", err, "redemption_id", red.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(applied.Load()), int(failed.Load()), err
	}

	logger.InfoContext(ctx, "Pending credit reconciliation finished",
		"pending", len(pending),
		"applied", applied.Load(),
		"failed", failed.Load(),
	)
	return int(applied.Load()), int(failed.Load()), nil
}
