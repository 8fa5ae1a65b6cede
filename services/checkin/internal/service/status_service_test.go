package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
)

// mockActiveCache is an in-memory stand-in for the Redis projection cache.
// Unlike the real cache it never expires entries on its own, which is exactly
// what the re-validation tests need.
type mockActiveCache struct {
	mu          sync.Mutex
	entry       *domain.AttendanceSession
	sets        int
	invalidates int
}

func (c *mockActiveCache) Get(_ context.Context) (*domain.AttendanceSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return nil, false
	}
	out := *c.entry
	return &out, true
}

func (c *mockActiveCache) Set(_ context.Context, s *domain.AttendanceSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *s
	c.entry = &copied
	c.sets++
}

func (c *mockActiveCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
	c.invalidates++
}

func newStatusFixture() (*statusService, *mockSessionRepo, *mockActiveCache, *fakeClock) {
	clock := newFakeClock()
	sessions := newMockSessionRepo(clock.Now)
	cache := &mockActiveCache{}
	svc := &statusService{
		sessionRepo: sessions,
		cache:       cache,
		now:         clock.Now,
	}
	return svc, sessions, cache, clock
}

func activeSessionAt(id string, createdAt time.Time, validFor time.Duration) domain.AttendanceSession {
	return domain.AttendanceSession{
		ID:        id,
		EventName: "Event " + id,
		Code:      "CODE" + id,
		Points:    10,
		Status:    domain.SessionActive,
		ExpiresAt: createdAt.Add(validFor),
		CreatedAt: createdAt,
		CreatedBy: "organizer-1",
	}
}

func TestStatusNoSessions(t *testing.T) {
	svc, _, _, _ := newStatusFixture()

	active, err := svc.GetEffectiveActiveSession(context.Background())
	if err != nil {
		t.Fatalf("GetEffectiveActiveSession failed: %v", err)
	}
	if active != nil {
		t.Errorf("got %v, want nil with empty storage", active)
	}
}

func TestStatusReturnsActiveAndPopulatesCache(t *testing.T) {
	svc, sessions, cache, clock := newStatusFixture()
	sessions.inject(activeSessionAt("s1", clock.Now(), time.Hour))

	active, err := svc.GetEffectiveActiveSession(context.Background())
	if err != nil {
		t.Fatalf("GetEffectiveActiveSession failed: %v", err)
	}
	if active == nil || active.ID != "s1" {
		t.Fatalf("got %v, want session s1", active)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}
}

func TestStatusPausedIsNotActive(t *testing.T) {
	svc, sessions, _, clock := newStatusFixture()
	s := activeSessionAt("s1", clock.Now(), time.Hour)
	s.Status = domain.SessionPaused
	sessions.inject(s)

	active, err := svc.GetEffectiveActiveSession(context.Background())
	if err != nil {
		t.Fatalf("GetEffectiveActiveSession failed: %v", err)
	}
	if active != nil {
		t.Error("paused session reported as effective-active")
	}
}

func TestStatusExpiredIsNotActive(t *testing.T) {
	svc, sessions, _, clock := newStatusFixture()
	sessions.inject(activeSessionAt("s1", clock.Now(), time.Hour))

	clock.Advance(time.Hour)

	active, err := svc.GetEffectiveActiveSession(context.Background())
	if err != nil {
		t.Fatalf("GetEffectiveActiveSession failed: %v", err)
	}
	if active != nil {
		t.Error("session reported active at its exact expiry instant")
	}
}

// TestStatusCacheHitIsRevalidated: a hit that was valid when written must be
// rejected once the deadline passes, even though the cache still serves it.
func TestStatusCacheHitIsRevalidated(t *testing.T) {
	svc, sessions, cache, clock := newStatusFixture()
	sessions.inject(activeSessionAt("s1", clock.Now(), time.Hour))
	ctx := context.Background()

	if _, err := svc.GetEffectiveActiveSession(ctx); err != nil {
		t.Fatalf("warm-up read failed: %v", err)
	}
	if cache.entry == nil {
		t.Fatal("warm-up read did not populate the cache")
	}

	clock.Advance(2 * time.Hour)

	active, err := svc.GetEffectiveActiveSession(ctx)
	if err != nil {
		t.Fatalf("GetEffectiveActiveSession failed: %v", err)
	}
	if active != nil {
		t.Error("stale cache entry served past its deadline")
	}
	if cache.invalidates == 0 {
		t.Error("stale cache entry was not invalidated")
	}
}

func TestStatusCacheHitWhileValid(t *testing.T) {
	svc, sessions, cache, clock := newStatusFixture()
	sessions.inject(activeSessionAt("s1", clock.Now(), time.Hour))
	ctx := context.Background()

	if _, err := svc.GetEffectiveActiveSession(ctx); err != nil {
		t.Fatalf("warm-up read failed: %v", err)
	}

	// Second read inside the validity window is served from cache: no second
	// Set, no invalidation.
	active, err := svc.GetEffectiveActiveSession(ctx)
	if err != nil {
		t.Fatalf("cached read failed: %v", err)
	}
	if active == nil || active.ID != "s1" {
		t.Fatalf("got %v, want cached session s1", active)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}
	if cache.invalidates != 0 {
		t.Errorf("cache invalidates = %d, want 0", cache.invalidates)
	}
}

// TestStatusAnomalyPicksEarliestCreated: if storage ever holds more than one
// effective-active row the projector must still answer deterministically with
// the earliest-created one.
func TestStatusAnomalyPicksEarliestCreated(t *testing.T) {
	svc, sessions, _, clock := newStatusFixture()
	base := clock.Now()
	sessions.inject(activeSessionAt("later", base.Add(10*time.Minute), time.Hour))
	sessions.inject(activeSessionAt("earliest", base, 2*time.Hour))
	sessions.inject(activeSessionAt("middle", base.Add(5*time.Minute), time.Hour))

	clock.Advance(20 * time.Minute)

	active, err := svc.GetEffectiveActiveSession(context.Background())
	if err != nil {
		t.Fatalf("GetEffectiveActiveSession failed: %v", err)
	}
	if active == nil || active.ID != "earliest" {
		t.Fatalf("got %v, want the earliest-created session", active)
	}
}
