package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
)

type SessionStats struct {
	Attendees      int
	PointsIssued   int
	PendingCredits int
}

type RedemptionRepository interface {
	Create(ctx context.Context, sessionID, attendeeID string, points int) (*domain.Redemption, error)
	MarkCredited(ctx context.Context, id string) (bool, error)
	ListPendingCredits(ctx context.Context, limit int) ([]domain.Redemption, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.Redemption, error)
	StatsBySession(ctx context.Context, sessionID string) (*SessionStats, error)
}

type redemptionRepository struct {
	pool *pgxpool.Pool
}

func NewRedemptionRepository(pool *pgxpool.Pool) RedemptionRepository {
	return &redemptionRepository{pool: pool}
}

const redemptionCols = `id, session_id, attendee_id, points, credited, credited_at, redeemed_at`

// Create blindly inserts the redemption row and lets the unique
// (session_id, attendee_id) index arbitrate duplicates. There is deliberately
// no existence check first: under concurrent submissions exactly one insert
// wins and every loser gets ErrAlreadyRedeemed from the constraint.
func (r *redemptionRepository) Create(ctx context.Context, sessionID, attendeeID string, points int) (*domain.Redemption, error) {
	const q = `INSERT INTO redemptions (id, session_id, attendee_id, points)
		VALUES ($1,$2,$3,$4)
		RETURNING ` + redemptionCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var red domain.Redemption
	err := r.pool.QueryRow(ctx, q, uuid.NewString(), sessionID, attendeeID, points).Scan(
		&red.ID, &red.SessionID, &red.AttendeeID, &red.Points, &red.Credited, &red.CreditedAt, &red.RedeemedAt,
	)
	if isUniqueViolation(err) {
		return nil, domain.ErrAlreadyRedeemed
	}
	if err != nil {
		return nil, err
	}
	return &red, nil
}

func (r *redemptionRepository) MarkCredited(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE redemptions SET credited=true, credited_at=now()
		WHERE id=$1 AND credited=false`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// ListPendingCredits returns redemptions whose ledger credit has not been
// confirmed yet, oldest first, for the reconciliation sweep.
func (r *redemptionRepository) ListPendingCredits(ctx context.Context, limit int) ([]domain.Redemption, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	const q = `SELECT ` + redemptionCols + ` FROM redemptions
		WHERE credited=false ORDER BY redeemed_at ASC LIMIT $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []domain.Redemption
	for rows.Next() {
		var red domain.Redemption
		if err := rows.Scan(
			&red.ID, &red.SessionID, &red.AttendeeID, &red.Points, &red.Credited, &red.CreditedAt, &red.RedeemedAt,
		); err != nil {
			return nil, err
		}
		pending = append(pending, red)
	}
	return pending, rows.Err()
}

func (r *redemptionRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]domain.Redemption, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	const q = `SELECT ` + redemptionCols + ` FROM redemptions
		WHERE session_id=$1 ORDER BY redeemed_at ASC LIMIT $2 OFFSET $3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var redemptions []domain.Redemption
	for rows.Next() {
		var red domain.Redemption
		if err := rows.Scan(
			&red.ID, &red.SessionID, &red.AttendeeID, &red.Points, &red.Credited, &red.CreditedAt, &red.RedeemedAt,
		); err != nil {
			return nil, err
		}
		redemptions = append(redemptions, red)
	}
	return redemptions, rows.Err()
}

func (r *redemptionRepository) StatsBySession(ctx context.Context, sessionID string) (*SessionStats, error) {
	const q = `SELECT count(*),
		COALESCE(sum(points), 0),
		count(*) FILTER (WHERE credited=false)
		FROM redemptions WHERE session_id=$1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var stats SessionStats
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&stats.Attendees, &stats.PointsIssued, &stats.PendingCredits)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
