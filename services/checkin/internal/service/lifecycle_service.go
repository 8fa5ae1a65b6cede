package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gatherpoint/community-backend/pkg/config"
	"github.com/gatherpoint/community-backend/pkg/events"
	"github.com/gatherpoint/community-backend/pkg/logger"
	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
	"github.com/gatherpoint/community-backend/services/checkin/internal/repository"
)

// LifecycleService mediates all organizer-initiated session state changes and
// enforces the single-active-session policy.
type LifecycleService interface {
	CreateSession(ctx context.Context, input *domain.CreateSessionInput) (*domain.AttendanceSession, error)
	PauseSession(ctx context.Context, id string) error
	ResumeSession(ctx context.Context, id string) error
	CloseSession(ctx context.Context, id string) error
	ClearHistory(ctx context.Context) (int64, error)
	GetSession(ctx context.Context, id string) (*domain.AttendanceSession, error)
	ListSessions(ctx context.Context, limit, offset int) ([]domain.AttendanceSession, error)
	ListRedemptions(ctx context.Context, sessionID string, limit, offset int) ([]domain.Redemption, error)
}

type lifecycleService struct {
	sessionRepo    repository.SessionRepository
	redemptionRepo repository.RedemptionRepository
	eventBus       events.Publisher
	cache          ActiveCache
	config         *config.Config
	now            func() time.Time
}

func NewLifecycleService(
	sessionRepo repository.SessionRepository,
	redemptionRepo repository.RedemptionRepository,
	eventBus events.Publisher,
	cache ActiveCache,
	cfg *config.Config,
) LifecycleService {
	return &lifecycleService{
		sessionRepo:    sessionRepo,
		redemptionRepo: redemptionRepo,
		eventBus:       eventBus,
		cache:          cache,
		config:         cfg,
		now:            time.Now,
	}
}

const codeRetries = 5

func (s *lifecycleService) CreateSession(ctx context.Context, input *domain.CreateSessionInput) (*domain.AttendanceSession, error) {
	input.EventName = strings.TrimSpace(input.EventName)

	if input.EventName == "" {
		return nil, fmt.Errorf("%w: event_name must not be empty", domain.ErrInvalidInput)
	}
	if input.Points <= 0 {
		return nil, fmt.Errorf("%w: points must be positive", domain.ErrInvalidInput)
	}
	if max := s.config.Checkin.MaxSessionPoints; max > 0 && input.Points > max {
		return nil, fmt.Errorf("%w: points must not exceed %d", domain.ErrInvalidInput, max)
	}
	if input.ValidFor <= 0 {
		return nil, fmt.Errorf("%w: valid_for must be positive", domain.ErrInvalidInput)
	}
	if max := s.config.Checkin.MaxSessionLength; max > 0 && input.ValidFor > max {
		return nil, fmt.Errorf("%w: valid_for must not exceed %s", domain.ErrInvalidInput, max)
	}

	now := s.now()

	// A stored-active session past its deadline is already expired; write
	// that down so it cannot hold the active slot against this create. A
	// genuinely effective-active session still blocks at the storage index.
	if _, err := s.sessionRepo.FinalizeExpired(ctx, now); err != nil {
		return nil, fmt.Errorf("failed to finalize expired sessions: %w", err)
	}

	code, err := s.uniqueCode(ctx, now)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.Create(ctx, input, code)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx)
	s.publishActiveChanged(ctx, session.ID, true)

	event := events.SessionCreatedEvent{
		SessionID: session.ID,
		EventName: session.EventName,
		Points:    session.Points,
		ExpiresAt: session.ExpiresAt,
		CreatedBy: session.CreatedBy,
		CreatedAt: session.CreatedAt,
	}
	if err := s.eventBus.Publish(ctx, events.SessionCreated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish session created event", "error", err, "session_id", session.ID)
	}

	return session, nil
}

// uniqueCode draws codes until one is free among sessions that could still
// become effective-active. Finished and expired codes may be reused.
func (s *lifecycleService) uniqueCode(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < codeRetries; i++ {
		code, err := domain.NewCode(s.config.Checkin.CodeLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		inUse, err := s.sessionRepo.CodeInUse(ctx, code, now)
		if err != nil {
			return "", fmt.Errorf("failed to check code: %w", err)
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate a free code after %d attempts", codeRetries)
}

func (s *lifecycleService) PauseSession(ctx context.Context, id string) error {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return domain.ErrSessionNotFound
	}

	now := s.now()
	changed, err := s.sessionRepo.Pause(ctx, id, now)
	if err != nil {
		return fmt.Errorf("failed to pause session: %w", err)
	}
	if !changed {
		// Expired-while-active sessions cannot be paused; settle them.
		if session.Status == domain.SessionActive && session.IsExpired(now) {
			if _, err := s.sessionRepo.FinalizeExpired(ctx, now); err != nil {
				logger.ErrorContext(ctx, "Failed to finalize expired session", "error", err, "session_id", id)
			}
		}
		return fmt.Errorf("%w: cannot pause session in state %q", domain.ErrInvalidTransition, session.Status)
	}

	s.cache.Invalidate(ctx)
	s.publishActiveChanged(ctx, "", false)
	s.publishState(ctx, events.SessionPaused, session, domain.SessionPaused, now)
	return nil
}

func (s *lifecycleService) ResumeSession(ctx context.Context, id string) error {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return domain.ErrSessionNotFound
	}

	now := s.now()
	changed, err := s.sessionRepo.Resume(ctx, id, now)
	if err != nil {
		// Another session took the active slot while this one was paused.
		return err
	}
	if !changed {
		// A paused session whose deadline passed can never resume; settle it.
		if session.Status == domain.SessionPaused && session.IsExpired(now) {
			if _, err := s.sessionRepo.FinalizeExpired(ctx, now); err != nil {
				logger.ErrorContext(ctx, "Failed to finalize expired session", "error", err, "session_id", id)
			}
		}
		return fmt.Errorf("%w: cannot resume session in state %q", domain.ErrInvalidTransition, session.Status)
	}

	s.cache.Invalidate(ctx)
	s.publishActiveChanged(ctx, id, true)
	s.publishState(ctx, events.SessionResumed, session, domain.SessionActive, now)
	return nil
}

// CloseSession finishes the session and caps its deadline at now. Closing an
// already-finished session is an idempotent no-op.
func (s *lifecycleService) CloseSession(ctx context.Context, id string) error {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return domain.ErrSessionNotFound
	}

	now := s.now()
	changed, err := s.sessionRepo.Close(ctx, id, now)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if !changed {
		return nil
	}

	s.cache.Invalidate(ctx)
	s.publishActiveChanged(ctx, "", false)

	stats, err := s.redemptionRepo.StatsBySession(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load session stats", "error", err, "session_id", id)
		stats = &repository.SessionStats{}
	}

	event := events.SessionClosedEvent{
		SessionID:      session.ID,
		EventName:      session.EventName,
		Points:         session.Points,
		Attendees:      stats.Attendees,
		PointsIssued:   stats.PointsIssued,
		PendingCredits: stats.PendingCredits,
		CreatedBy:      session.CreatedBy,
		ClosedAt:       now,
	}
	if err := s.eventBus.Publish(ctx, events.SessionClosed, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish session closed event", "error", err, "session_id", id)
	}
	return nil
}

// ClearHistory irreversibly deletes all sessions and redemptions. Callers
// gate this behind an explicit confirmation; the service only executes.
func (s *lifecycleService) ClearHistory(ctx context.Context) (int64, error) {
	deleted, err := s.sessionRepo.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}

	s.cache.Invalidate(ctx)
	s.publishActiveChanged(ctx, "", false)

	if err := s.eventBus.Publish(ctx, events.HistoryCleared, map[string]any{
		"sessions_deleted": deleted,
		"cleared_at":       s.now(),
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish history cleared event", "error", err)
	}

	logger.InfoContext(ctx, "Session history cleared", "sessions_deleted", deleted)
	return deleted, nil
}

func (s *lifecycleService) GetSession(ctx context.Context, id string) (*domain.AttendanceSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *lifecycleService) ListSessions(ctx context.Context, limit, offset int) ([]domain.AttendanceSession, error) {
	return s.sessionRepo.List(ctx, limit, offset)
}

func (s *lifecycleService) ListRedemptions(ctx context.Context, sessionID string, limit, offset int) ([]domain.Redemption, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return s.redemptionRepo.ListBySession(ctx, sessionID, limit, offset)
}

func (s *lifecycleService) publishState(ctx context.Context, subject string, session *domain.AttendanceSession, status domain.SessionStatus, at time.Time) {
	event := events.SessionStateEvent{
		SessionID: session.ID,
		EventName: session.EventName,
		Status:    string(status),
		ChangedAt: at,
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish session state event", "error", err, "session_id", session.ID, "subject", subject)
	}
}

func (s *lifecycleService) publishActiveChanged(ctx context.Context, sessionID string, active bool) {
	event := events.ActiveSessionChangedEvent{
		SessionID: sessionID,
		Active:    active,
		ChangedAt: s.now(),
	}
	if err := s.eventBus.Publish(ctx, events.ActiveSessionChanged, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish active session changed event", "error", err)
	}
}
