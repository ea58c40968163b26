package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campuspoints/server/internal/model"
)

type RedemptionStore struct {
	q DBTX
}

func NewRedemptionStore(q DBTX) *RedemptionStore {
	return &RedemptionStore{q: q}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *RedemptionStore) WithTx(tx *sql.Tx) *RedemptionStore {
	return &RedemptionStore{q: tx}
}

func scanRedemption(scanner interface{ Scan(...any) error }) (*model.Redemption, error) {
	var r model.Redemption
	err := scanner.Scan(
		&r.ID, &r.AccountID, &r.RewardID, &r.PointsSpent, &r.Status,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const redemptionCols = `id, account_id, reward_id, points_spent, status, created_at, updated_at`

func (s *RedemptionStore) Create(ctx context.Context, accountID, rewardID, pointsSpent int64, status string) (*model.Redemption, error) {
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO redemptions (account_id, reward_id, points_spent, status) VALUES (?, ?, ?, ?)`,
		accountID, rewardID, pointsSpent, status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *RedemptionStore) GetByID(ctx context.Context, id int64) (*model.Redemption, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+redemptionCols+` FROM redemptions WHERE id = ?`, id)
	r, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return r, nil
}

func (s *RedemptionStore) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]model.Redemption, error) {
	return s.list(ctx,
		`SELECT `+redemptionCols+` FROM redemptions WHERE account_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		accountID, limit, offset)
}

// ListPending returns pending redemptions oldest first, for fulfilment.
func (s *RedemptionStore) ListPending(ctx context.Context) ([]model.Redemption, error) {
	return s.list(ctx,
		`SELECT `+redemptionCols+` FROM redemptions WHERE status = ? ORDER BY id ASC`,
		model.RedemptionPending)
}

func (s *RedemptionStore) list(ctx context.Context, query string, args ...any) ([]model.Redemption, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var redemptions []model.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		redemptions = append(redemptions, *r)
	}
	return redemptions, rows.Err()
}

// TransitionStatus moves a redemption from one status to another as a single
// conditional update. A no-match is the authoritative rejection: the caller
// cannot observe whether the redemption was missing or already transitioned
// by a concurrent call, so both surface distinctly: ErrNotFound when the row
// does not exist, ErrStatusConflict when it exists in a different status.
func (s *RedemptionStore) TransitionStatus(ctx context.Context, id int64, from, to string) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE redemptions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("transition redemption status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var status string
		err := s.q.QueryRowContext(ctx, `SELECT status FROM redemptions WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get redemption status: %w", err)
		}
		return fmt.Errorf("%w: redemption %d is %s, not %s", ErrStatusConflict, id, status, from)
	}
	return nil
}

// RedemptionStats summarizes redemption activity since a point in time.
type RedemptionStats struct {
	TotalRedemptions int64 `json:"total_redemptions"`
	TotalPointsSpent int64 `json:"total_points_spent"`
	PendingCount     int64 `json:"pending_count"`
	CompletedCount   int64 `json:"completed_count"`
	CancelledCount   int64 `json:"cancelled_count"`
	UniqueRedeemers  int64 `json:"unique_redeemers"`
}

func (s *RedemptionStore) Stats(ctx context.Context, since time.Time) (*RedemptionStats, error) {
	var st RedemptionStats
	err := s.q.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(points_spent), 0),
			COUNT(CASE WHEN status = 'pending' THEN 1 END),
			COUNT(CASE WHEN status = 'completed' THEN 1 END),
			COUNT(CASE WHEN status = 'cancelled' THEN 1 END),
			COUNT(DISTINCT account_id)
		 FROM redemptions WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&st.TotalRedemptions, &st.TotalPointsSpent, &st.PendingCount, &st.CompletedCount, &st.CancelledCount, &st.UniqueRedeemers)
	if err != nil {
		return nil, fmt.Errorf("redemption stats: %w", err)
	}
	return &st, nil
}
