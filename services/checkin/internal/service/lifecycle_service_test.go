package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatherpoint/community-backend/pkg/config"
	"github.com/gatherpoint/community-backend/pkg/events"
	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		Checkin: config.CheckinConfig{
			CodeLength:       8,
			MaxSessionPoints: 1000,
			MaxSessionLength: 24 * time.Hour,
		},
	}
}

func newLifecycleForTest() (*lifecycleService, *mockSessionRepo, *mockRedemptionRepo, *mockPublisher, *fakeClock) {
	clock := newFakeClock()
	sessionRepo := newMockSessionRepo(clock.Now)
	redemptionRepo := newMockRedemptionRepo()
	pub := &mockPublisher{}

	svc := &lifecycleService{
		sessionRepo:    sessionRepo,
		redemptionRepo: redemptionRepo,
		eventBus:       pub,
		cache:          NoopActiveCache{},
		config:         testConfig(),
		now:            clock.Now,
	}
	return svc, sessionRepo, redemptionRepo, pub, clock
}

func createTestSession(t *testing.T, svc *lifecycleService, name string, points int, validFor time.Duration) *domain.AttendanceSession {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), &domain.CreateSessionInput{
		EventName: name,
		Points:    points,
		ValidFor:  validFor,
		CreatedBy: "organizer-1",
	})
	if err != nil {
		t.Fatalf("CreateSession(%q) failed: %v", name, err)
	}
	return session
}

func TestCreateSessionValidation(t *testing.T) {
	svc, _, _, _, _ := newLifecycleForTest()
	ctx := context.Background()

	cases := []struct {
		name  string
		input domain.CreateSessionInput
	}{
		{"empty event name", domain.CreateSessionInput{EventName: "   ", Points: 50, ValidFor: time.Hour}},
		{"zero points", domain.CreateSessionInput{EventName: "Sunday Service", Points: 0, ValidFor: time.Hour}},
		{"negative points", domain.CreateSessionInput{EventName: "Sunday Service", Points: -5, ValidFor: time.Hour}},
		{"points over cap", domain.CreateSessionInput{EventName: "Sunday Service", Points: 5000, ValidFor: time.Hour}},
		{"zero duration", domain.CreateSessionInput{EventName: "Sunday Service", Points: 50, ValidFor: 0}},
		{"duration over cap", domain.CreateSessionInput{EventName: "Sunday Service", Points: 50, ValidFor: 48 * time.Hour}},
	}

	for _, tc := range cases {
		input := tc.input
		if _, err := svc.CreateSession(ctx, &input); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("%s: got %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestCreateSessionGeneratesCode(t *testing.T) {
	svc, _, _, pub, _ := newLifecycleForTest()

	session := createTestSession(t, svc, "Sunday Service", 50, 2*time.Hour)

	if len(session.Code) != 8 {
		t.Errorf("code length = %d, want 8", len(session.Code))
	}
	if session.Status != domain.SessionActive {
		t.Errorf("status = %q, want active", session.Status)
	}
	if session.CreatedBy != "organizer-1" {
		t.Errorf("created_by = %q, want organizer-1", session.CreatedBy)
	}
	if pub.published(events.SessionCreated) != 1 {
		t.Error("expected one session created event")
	}
}

func TestCreateSessionBlockedThenRetryAfterClose(t *testing.T) {
	svc, _, _, _, _ := newLifecycleForTest()
	ctx := context.Background()

	first := createTestSession(t, svc, "Sunday Service", 50, 2*time.Hour)

	_, err := svc.CreateSession(ctx, &domain.CreateSessionInput{
		EventName: "Youth Night", Points: 25, ValidFor: time.Hour, CreatedBy: "organizer-1",
	})
	if !errors.Is(err, domain.ErrActiveSessionExists) {
		t.Fatalf("second create: got %v, want ErrActiveSessionExists", err)
	}

	if err := svc.CloseSession(ctx, first.ID); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}

	if _, err := svc.CreateSession(ctx, &domain.CreateSessionInput{
		EventName: "Youth Night", Points: 25, ValidFor: time.Hour, CreatedBy: "organizer-1",
	}); err != nil {
		t.Fatalf("create after close failed: %v", err)
	}
}

func TestCreateSessionNotBlockedByExpiredActive(t *testing.T) {
	svc, _, _, _, clock := newLifecycleForTest()

	createTestSession(t, svc, "Sunday Service", 50, time.Hour)
	clock.Advance(2 * time.Hour)

	// The stale active row is finalized lazily; it cannot block a new
	// session.
	if _, err := svc.CreateSession(context.Background(), &domain.CreateSessionInput{
		EventName: "Evening Prayer", Points: 10, ValidFor: time.Hour, CreatedBy: "organizer-1",
	}); err != nil {
		t.Fatalf("create after expiry failed: %v", err)
	}
}

func TestPauseResumePreservesExpiry(t *testing.T) {
	svc, repo, _, _, _ := newLifecycleForTest()
	ctx := context.Background()

	session := createTestSession(t, svc, "Sunday Service", 50, 2*time.Hour)
	originalExpiry := session.ExpiresAt

	if err := svc.PauseSession(ctx, session.ID); err != nil {
		t.Fatalf("PauseSession failed: %v", err)
	}
	if err := svc.ResumeSession(ctx, session.ID); err != nil {
		t.Fatalf("ResumeSession failed: %v", err)
	}

	got, _ := repo.GetByID(ctx, session.ID)
	if !got.ExpiresAt.Equal(originalExpiry) {
		t.Errorf("expires_at changed across pause/resume: %v != %v", got.ExpiresAt, originalExpiry)
	}
	if got.Status != domain.SessionActive {
		t.Errorf("status = %q, want active", got.Status)
	}
}

func TestPauseInvalidStates(t *testing.T) {
	svc, _, _, _, clock := newLifecycleForTest()
	ctx := context.Background()

	session := createTestSession(t, svc, "Sunday Service", 50, time.Hour)

	if err := svc.PauseSession(ctx, session.ID); err != nil {
		t.Fatalf("first pause failed: %v", err)
	}
	if err := svc.PauseSession(ctx, session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("pause paused session: got %v, want ErrInvalidTransition", err)
	}

	if err := svc.ResumeSession(ctx, session.ID); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if err := svc.PauseSession(ctx, session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("pause expired session: got %v, want ErrInvalidTransition", err)
	}

	if err := svc.PauseSession(ctx, "no-such-id"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("pause unknown session: got %v, want ErrSessionNotFound", err)
	}
}

func TestResumeInvalidStates(t *testing.T) {
	svc, _, _, _, clock := newLifecycleForTest()
	ctx := context.Background()

	session := createTestSession(t, svc, "Sunday Service", 50, time.Hour)

	if err := svc.ResumeSession(ctx, session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("resume active session: got %v, want ErrInvalidTransition", err)
	}

	if err := svc.PauseSession(ctx, session.ID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	clock.Advance(2 * time.Hour)

	// A paused session past its deadline stays paused/finished; resuming
	// never grants more time.
	if err := svc.ResumeSession(ctx, session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("resume expired paused session: got %v, want ErrInvalidTransition", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	svc, repo, _, pub, clock := newLifecycleForTest()
	ctx := context.Background()

	session := createTestSession(t, svc, "Sunday Service", 50, 2*time.Hour)

	if err := svc.CloseSession(ctx, session.ID); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	got, _ := repo.GetByID(ctx, session.ID)
	if got.Status != domain.SessionFinished {
		t.Fatalf("status = %q, want finished", got.Status)
	}
	if got.ExpiresAt.After(clock.Now()) {
		t.Errorf("close did not cap expires_at at now")
	}

	// Second close is a no-op, not an error, and publishes nothing new.
	closedEvents := pub.published(events.SessionClosed)
	if err := svc.CloseSession(ctx, session.ID); err != nil {
		t.Fatalf("second close: got %v, want nil", err)
	}
	if pub.published(events.SessionClosed) != closedEvents {
		t.Error("second close published another closed event")
	}

	if err := svc.CloseSession(ctx, "no-such-id"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("close unknown session: got %v, want ErrSessionNotFound", err)
	}
}

func TestClearHistory(t *testing.T) {
	svc, repo, redemptionRepo, _, _ := newLifecycleForTest()
	ctx := context.Background()

	session := createTestSession(t, svc, "Sunday Service", 50, 2*time.Hour)
	if _, err := redemptionRepo.Create(ctx, session.ID, "attendee-1", 50); err != nil {
		t.Fatalf("seed redemption failed: %v", err)
	}

	deleted, err := svc.ClearHistory(ctx)
	if err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	got, _ := repo.GetByID(ctx, session.ID)
	if got != nil {
		t.Error("session survived ClearHistory")
	}
}

// TestSingleActiveInvariantAcrossLifecycle interleaves lifecycle operations
// and checks after every step that at most one session is effective-active.
func TestSingleActiveInvariantAcrossLifecycle(t *testing.T) {
	svc, repo, _, _, clock := newLifecycleForTest()
	ctx := context.Background()

	check := func(step string) {
		t.Helper()
		if n := repo.effectiveActiveCount(clock.Now()); n > 1 {
			t.Fatalf("after %s: %d effective-active sessions, want at most 1", step, n)
		}
	}

	first := createTestSession(t, svc, "Morning Service", 50, 2*time.Hour)
	check("create first")

	svc.PauseSession(ctx, first.ID)
	check("pause first")

	// The paused session does not hold the active slot.
	second := createTestSession(t, svc, "Overlapping Event", 10, time.Hour)
	check("create second while first paused")

	// Resuming the first while the second is active must be refused.
	if err := svc.ResumeSession(ctx, first.ID); !errors.Is(err, domain.ErrActiveSessionExists) {
		t.Fatalf("resume with another active session: got %v, want ErrActiveSessionExists", err)
	}
	check("refused resume")

	svc.CloseSession(ctx, second.ID)
	check("close second")

	if err := svc.ResumeSession(ctx, first.ID); err != nil {
		t.Fatalf("resume after close failed: %v", err)
	}
	check("resume first")

	clock.Advance(3 * time.Hour)
	check("after expiry")

	createTestSession(t, svc, "Evening Service", 20, time.Hour)
	check("create third")
}

func TestListRedemptionsUnknownSession(t *testing.T) {
	svc, _, _, _, _ := newLifecycleForTest()

	if _, err := svc.ListRedemptions(context.Background(), "no-such-id", 20, 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}
