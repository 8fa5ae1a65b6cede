package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, input *domain.CreateSessionInput, code string) (*domain.AttendanceSession, error)
	GetByID(ctx context.Context, id string) (*domain.AttendanceSession, error)
	GetEffectiveActive(ctx context.Context, now time.Time) ([]domain.AttendanceSession, error)
	Pause(ctx context.Context, id string, now time.Time) (bool, error)
	Resume(ctx context.Context, id string, now time.Time) (bool, error)
	Close(ctx context.Context, id string, now time.Time) (bool, error)
	FinalizeExpired(ctx context.Context, now time.Time) (int64, error)
	CodeInUse(ctx context.Context, code string, now time.Time) (bool, error)
	List(ctx context.Context, limit, offset int) ([]domain.AttendanceSession, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionCols = `id, event_name, code, points, status, expires_at, created_at, created_by`

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a new active session. The partial unique index on
// status='active' rows is the authoritative single-active guard: a concurrent
// create loses the race at the index, not at an application-level check.
func (r *sessionRepository) Create(ctx context.Context, input *domain.CreateSessionInput, code string) (*domain.AttendanceSession, error) {
	const q = `INSERT INTO attendance_sessions (
		id, event_name, code, points, status, expires_at, created_by
	) VALUES ($1,$2,$3,$4,'active',$5,$6)
	RETURNING ` + sessionCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	id := uuid.NewString()
	expiresAt := time.Now().Add(input.ValidFor)

	var s domain.AttendanceSession
	err := r.pool.QueryRow(ctx, q, id, input.EventName, code, input.Points, expiresAt, input.CreatedBy).Scan(
		&s.ID, &s.EventName, &s.Code, &s.Points, &s.Status, &s.ExpiresAt, &s.CreatedAt, &s.CreatedBy,
	)
	if isUniqueViolation(err) {
		return nil, domain.ErrActiveSessionExists
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.AttendanceSession, error) {
	const q = `SELECT ` + sessionCols + ` FROM attendance_sessions WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var s domain.AttendanceSession
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&s.ID, &s.EventName, &s.Code, &s.Points, &s.Status, &s.ExpiresAt, &s.CreatedAt, &s.CreatedBy,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &s, err
}

// GetEffectiveActive returns every session that is effective-active at now,
// earliest created first. The single-active invariant means the result should
// never hold more than one row; callers treat extra rows as an anomaly.
func (r *sessionRepository) GetEffectiveActive(ctx context.Context, now time.Time) ([]domain.AttendanceSession, error) {
	const q = `SELECT ` + sessionCols + ` FROM attendance_sessions
		WHERE status='active' AND expires_at > $1
		ORDER BY created_at ASC`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.AttendanceSession
	for rows.Next() {
		var s domain.AttendanceSession
		if err := rows.Scan(
			&s.ID, &s.EventName, &s.Code, &s.Points, &s.Status, &s.ExpiresAt, &s.CreatedAt, &s.CreatedBy,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Pause transitions active -> paused. The expires_at guard keeps a session
// that expired while displayed as active from being paused instead of
// finished.
func (r *sessionRepository) Pause(ctx context.Context, id string, now time.Time) (bool, error) {
	const q = `UPDATE attendance_sessions SET status='paused'
		WHERE id=$1 AND status='active' AND expires_at > $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// Resume transitions paused -> active without touching expires_at. If another
// session took the active slot while this one was paused, the partial unique
// index rejects the update and the caller sees ErrActiveSessionExists.
func (r *sessionRepository) Resume(ctx context.Context, id string, now time.Time) (bool, error) {
	const q = `UPDATE attendance_sessions SET status='active'
		WHERE id=$1 AND status='paused' AND expires_at > $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id, now)
	if isUniqueViolation(err) {
		return false, domain.ErrActiveSessionExists
	}
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// Close finishes a session and caps expires_at at now so redemptions stop
// immediately. Closing an already-finished session affects no rows.
func (r *sessionRepository) Close(ctx context.Context, id string, now time.Time) (bool, error) {
	const q = `UPDATE attendance_sessions
		SET status='finished', expires_at=LEAST(expires_at, $2)
		WHERE id=$1 AND status != 'finished'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// FinalizeExpired lazily writes the derived expired state down as finished.
// Purely an optimization for listings and the active-slot index; correctness
// never depends on it because every reader re-checks expires_at itself.
func (r *sessionRepository) FinalizeExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE attendance_sessions SET status='finished'
		WHERE status IN ('active','paused') AND expires_at <= $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// CodeInUse checks the code against sessions that could still become
// effective-active. Finished and expired codes may be reused across time.
func (r *sessionRepository) CodeInUse(ctx context.Context, code string, now time.Time) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM attendance_sessions
		WHERE code=$1 AND status IN ('active','paused') AND expires_at > $2
	)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var inUse bool
	err := r.pool.QueryRow(ctx, q, code, now).Scan(&inUse)
	return inUse, err
}

func (r *sessionRepository) List(ctx context.Context, limit, offset int) ([]domain.AttendanceSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	const q = `SELECT ` + sessionCols + ` FROM attendance_sessions
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.AttendanceSession
	for rows.Next() {
		var s domain.AttendanceSession
		if err := rows.Scan(
			&s.ID, &s.EventName, &s.Code, &s.Points, &s.Status, &s.ExpiresAt, &s.CreatedAt, &s.CreatedBy,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteAll removes all sessions and their redemptions. The redemptions table
// goes first inside one transaction so a crash cannot orphan rows.
func (r *sessionRepository) DeleteAll(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM redemptions`); err != nil {
		return 0, err
	}
	result, err := tx.Exec(ctx, `DELETE FROM attendance_sessions`)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
