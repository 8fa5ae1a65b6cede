package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatherpoint/community-backend/pkg/logger"
	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
	"github.com/gatherpoint/community-backend/services/checkin/internal/repository"
)

// ActiveCache is the projector's read-through cache for the single
// effective-active session. Entries are advisory: every reader re-validates
// expires_at against current time before trusting a hit.
type ActiveCache interface {
	Get(ctx context.Context) (*domain.AttendanceSession, bool)
	Set(ctx context.Context, s *domain.AttendanceSession)
	Invalidate(ctx context.Context)
}

const activeSessionKey = "checkin:active_session"

type redisActiveCache struct {
	client *redis.Client
}

func NewRedisActiveCache(client *redis.Client) ActiveCache {
	return &redisActiveCache{client: client}
}

func (c *redisActiveCache) Get(ctx context.Context) (*domain.AttendanceSession, bool) {
	raw, err := c.client.Get(ctx, activeSessionKey).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.WarnContext(ctx, "Active session cache read failed", "error", err)
		return nil, false
	}

	var s domain.AttendanceSession
	if err := json.Unmarshal(raw, &s); err != nil {
		logger.WarnContext(ctx, "Active session cache entry corrupt", "error", err)
		c.Invalidate(ctx)
		return nil, false
	}
	return &s, true
}

func (c *redisActiveCache) Set(ctx context.Context, s *domain.AttendanceSession) {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, activeSessionKey, raw, ttl).Err(); err != nil {
		logger.WarnContext(ctx, "Active session cache write failed", "error", err)
	}
}

func (c *redisActiveCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, activeSessionKey).Err(); err != nil {
		logger.WarnContext(ctx, "Active session cache invalidation failed", "error", err)
	}
}

// NoopActiveCache reads through to storage on every call. Used when Redis is
// not configured and in tests.
type NoopActiveCache struct{}

func (NoopActiveCache) Get(ctx context.Context) (*domain.AttendanceSession, bool) { return nil, false }
func (NoopActiveCache) Set(ctx context.Context, s *domain.AttendanceSession)      {}
func (NoopActiveCache) Invalidate(ctx context.Context)                            {}

// StatusService answers "what, if anything, is the currently effective-active
// session" for the dashboard banner and the scanner entry screen.
type StatusService interface {
	GetEffectiveActiveSession(ctx context.Context) (*domain.AttendanceSession, error)
}

type statusService struct {
	sessionRepo repository.SessionRepository
	cache       ActiveCache
	now         func() time.Time
}

func NewStatusService(sessionRepo repository.SessionRepository, cache ActiveCache) StatusService {
	return &statusService{
		sessionRepo: sessionRepo,
		cache:       cache,
		now:         time.Now,
	}
}

// GetEffectiveActiveSession returns the single session with status active and
// expires_at in the future, or nil when there is none. A cache hit is only
// honored after re-checking the deadline against current time; a session can
// expire between being cached and being read.
func (s *statusService) GetEffectiveActiveSession(ctx context.Context) (*domain.AttendanceSession, error) {
	now := s.now()

	if cached, ok := s.cache.Get(ctx); ok {
		if cached.IsEffectiveActive(now) {
			return cached, nil
		}
		s.cache.Invalidate(ctx)
	}

	sessions, err := s.sessionRepo.GetEffectiveActive(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	// The single-active invariant should make this impossible. If it is ever
	// violated (manual data edit, constraint bug), pick the deterministic
	// earliest-created winner and report the anomaly loudly.
	if len(sessions) > 1 {
		ids := make([]string, len(sessions))
		for i, sess := range sessions {
			ids[i] = sess.ID
		}
		logger.ErrorContext(ctx, "Invariant violated: multiple effective-active sessions",
			"count", len(sessions),
			"session_ids", ids,
			"winner", sessions[0].ID,
		)
	}

	winner := sessions[0]
	s.cache.Set(ctx, &winner)
	return &winner, nil
}
