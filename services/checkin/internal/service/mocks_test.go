package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
	"github.com/gatherpoint/community-backend/services/checkin/internal/repository"
)

// ---------- Clock ----------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ---------- Session repository ----------

// mockSessionRepo mirrors the storage semantics the real repository leans on:
// the single-active unique index and conditional state transitions.
type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.AttendanceSession
	now      func() time.Time
}

func newMockSessionRepo(now func() time.Time) *mockSessionRepo {
	return &mockSessionRepo{
		sessions: make(map[string]*domain.AttendanceSession),
		now:      now,
	}
}

var _ repository.SessionRepository = (*mockSessionRepo)(nil)

func (m *mockSessionRepo) Create(_ context.Context, input *domain.CreateSessionInput, code string) (*domain.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Status == domain.SessionActive {
			return nil, domain.ErrActiveSessionExists
		}
	}

	now := m.now()
	s := &domain.AttendanceSession{
		ID:        uuid.NewString(),
		EventName: input.EventName,
		Code:      code,
		Points:    input.Points,
		Status:    domain.SessionActive,
		ExpiresAt: now.Add(input.ValidFor),
		CreatedAt: now,
		CreatedBy: input.CreatedBy,
	}
	m.sessions[s.ID] = s

	out := *s
	return &out, nil
}

func (m *mockSessionRepo) GetByID(_ context.Context, id string) (*domain.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (m *mockSessionRepo) GetEffectiveActive(_ context.Context, now time.Time) ([]domain.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.AttendanceSession
	for _, s := range m.sessions {
		if s.Status == domain.SessionActive && now.Before(s.ExpiresAt) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockSessionRepo) Pause(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status != domain.SessionActive || !now.Before(s.ExpiresAt) {
		return false, nil
	}
	s.Status = domain.SessionPaused
	return true, nil
}

func (m *mockSessionRepo) Resume(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status != domain.SessionPaused || !now.Before(s.ExpiresAt) {
		return false, nil
	}
	for _, other := range m.sessions {
		if other.ID != id && other.Status == domain.SessionActive {
			return false, domain.ErrActiveSessionExists
		}
	}
	s.Status = domain.SessionActive
	return true, nil
}

func (m *mockSessionRepo) Close(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status == domain.SessionFinished {
		return false, nil
	}
	s.Status = domain.SessionFinished
	if now.Before(s.ExpiresAt) {
		s.ExpiresAt = now
	}
	return true, nil
}

func (m *mockSessionRepo) FinalizeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.sessions {
		if s.Status != domain.SessionFinished && !now.Before(s.ExpiresAt) {
			s.Status = domain.SessionFinished
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepo) CodeInUse(_ context.Context, code string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Code == code && s.Status != domain.SessionFinished && now.Before(s.ExpiresAt) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSessionRepo) List(_ context.Context, limit, offset int) ([]domain.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.AttendanceSession
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockSessionRepo) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.sessions))
	m.sessions = make(map[string]*domain.AttendanceSession)
	return n, nil
}

// inject places a session directly into storage, bypassing the single-active
// guard. Used to simulate corrupted state the guard would normally prevent.
func (m *mockSessionRepo) inject(s domain.AttendanceSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := s
	m.sessions[s.ID] = &copied
}

// effectiveActiveCount is a test helper for the invariant checks.
func (m *mockSessionRepo) effectiveActiveCount(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.sessions {
		if s.Status == domain.SessionActive && now.Before(s.ExpiresAt) {
			count++
		}
	}
	return count
}

// ---------- Redemption repository ----------

type mockRedemptionRepo struct {
	mu          sync.Mutex
	redemptions map[string]*domain.Redemption // keyed by sessionID|attendeeID
}

func newMockRedemptionRepo() *mockRedemptionRepo {
	return &mockRedemptionRepo{redemptions: make(map[string]*domain.Redemption)}
}

var _ repository.RedemptionRepository = (*mockRedemptionRepo)(nil)

func (m *mockRedemptionRepo) Create(_ context.Context, sessionID, attendeeID string, points int) (*domain.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionID + "|" + attendeeID
	if _, exists := m.redemptions[key]; exists {
		return nil, domain.ErrAlreadyRedeemed
	}

	red := &domain.Redemption{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		AttendeeID: attendeeID,
		Points:     points,
		RedeemedAt: time.Now(),
	}
	m.redemptions[key] = red

	out := *red
	return &out, nil
}

func (m *mockRedemptionRepo) MarkCredited(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, red := range m.redemptions {
		if red.ID == id && !red.Credited {
			now := time.Now()
			red.Credited = true
			red.CreditedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRedemptionRepo) ListPendingCredits(_ context.Context, limit int) ([]domain.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Redemption
	for _, red := range m.redemptions {
		if !red.Credited {
			out = append(out, *red)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RedeemedAt.Before(out[j].RedeemedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRedemptionRepo) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]domain.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Redemption
	for _, red := range m.redemptions {
		if red.SessionID == sessionID {
			out = append(out, *red)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RedeemedAt.Before(out[j].RedeemedAt) })
	return out, nil
}

func (m *mockRedemptionRepo) StatsBySession(_ context.Context, sessionID string) (*repository.SessionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &repository.SessionStats{}
	for _, red := range m.redemptions {
		if red.SessionID != sessionID {
			continue
		}
		stats.Attendees++
		stats.PointsIssued += red.Points
		if !red.Credited {
			stats.PendingCredits++
		}
	}
	return stats, nil
}

func (m *mockRedemptionRepo) get(sessionID, attendeeID string) *domain.Redemption {
	m.mu.Lock()
	defer m.mu.Unlock()

	red, ok := m.redemptions[sessionID+"|"+attendeeID]
	if !ok {
		return nil
	}
	out := *red
	return &out
}

// ---------- Ledger ----------

type creditCall struct {
	AttendeeID     string
	Amount         int
	Reason         string
	IdempotencyKey string
}

type mockLedger struct {
	mu      sync.Mutex
	failErr error
	calls   []creditCall
}

func (m *mockLedger) CreditPoints(_ context.Context, attendeeID string, amount int, reason, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	m.calls = append(m.calls, creditCall{
		AttendeeID:     attendeeID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	})
	return nil
}

func (m *mockLedger) setFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *mockLedger) creditCalls() []creditCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]creditCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------- Event bus ----------

type mockPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) published(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.subjects {
		if s == subject {
			count++
		}
	}
	return count
}
