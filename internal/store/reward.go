package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/campuspoints/server/internal/model"
)

type RewardStore struct {
	q DBTX
}

func NewRewardStore(q DBTX) *RewardStore {
	return &RewardStore{q: q}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *RewardStore) WithTx(tx *sql.Tx) *RewardStore {
	return &RewardStore{q: tx}
}

func scanReward(scanner interface{ Scan(...any) error }) (*model.Reward, error) {
	var r model.Reward
	var category sql.NullString
	var available int

	err := scanner.Scan(
		&r.ID, &r.Name, &r.Description, &r.PointsCost, &category,
		&r.Stock, &available, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if category.Valid {
		r.Category = &category.String
	}
	r.Available = available != 0
	return &r, nil
}

const rewardCols = `id, name, description, points_cost, category, stock, available, created_at, updated_at`

func (s *RewardStore) Create(ctx context.Context, name, description string, pointsCost int64, category *string, stock int64, available bool) (*model.Reward, error) {
	var cat sql.NullString
	if category != nil {
		cat = sql.NullString{String: *category, Valid: true}
	}
	var a int
	if available {
		a = 1
	}

	result, err := s.q.ExecContext(ctx,
		`INSERT INTO rewards (name, description, points_cost, category, stock, available) VALUES (?, ?, ?, ?, ?, ?)`,
		name, description, pointsCost, cat, stock, a,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *RewardStore) GetByID(ctx context.Context, id int64) (*model.Reward, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

// List returns all rewards, cheapest first.
func (s *RewardStore) List(ctx context.Context) ([]model.Reward, error) {
	return s.list(ctx, `SELECT `+rewardCols+` FROM rewards ORDER BY points_cost ASC, name ASC`)
}

// ListAvailable returns rewards that can currently be redeemed: available
// and either in stock or unlimited.
func (s *RewardStore) ListAvailable(ctx context.Context) ([]model.Reward, error) {
	return s.list(ctx,
		`SELECT `+rewardCols+` FROM rewards
		 WHERE available = 1 AND (stock > 0 OR stock = -1)
		 ORDER BY points_cost ASC, name ASC`)
}

func (s *RewardStore) ListByCategory(ctx context.Context, category string) ([]model.Reward, error) {
	return s.list(ctx,
		`SELECT `+rewardCols+` FROM rewards WHERE category = ? AND available = 1 ORDER BY points_cost ASC`,
		category)
}

func (s *RewardStore) list(ctx context.Context, query string, args ...any) ([]model.Reward, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

// Categories returns the distinct categories of available rewards.
func (s *RewardStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT category FROM rewards WHERE category IS NOT NULL AND available = 1 ORDER BY category`,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Popular returns available rewards ordered by how often they have been
// redeemed.
func (s *RewardStore) Popular(ctx context.Context, limit int) ([]model.PopularReward, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT r.id, r.name, r.description, r.points_cost, r.category, r.stock, r.available, r.created_at, r.updated_at,
			COUNT(red.id)
		 FROM rewards r
		 LEFT JOIN redemptions red ON red.reward_id = r.id
		 WHERE r.available = 1
		 GROUP BY r.id
		 ORDER BY COUNT(red.id) DESC, r.points_cost ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("popular rewards: %w", err)
	}
	defer rows.Close()

	var popular []model.PopularReward
	for rows.Next() {
		var p model.PopularReward
		var category sql.NullString
		var available int
		err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.PointsCost, &category,
			&p.Stock, &available, &p.CreatedAt, &p.UpdatedAt, &p.RedemptionCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan popular reward: %w", err)
		}
		if category.Valid {
			p.Category = &category.String
		}
		p.Available = available != 0
		popular = append(popular, p)
	}
	return popular, rows.Err()
}

func (s *RewardStore) Update(ctx context.Context, id int64, name, description string, pointsCost int64, category *string, stock int64, available bool) (*model.Reward, error) {
	var cat sql.NullString
	if category != nil {
		cat = sql.NullString{String: *category, Valid: true}
	}
	var a int
	if available {
		a = 1
	}

	_, err := s.q.ExecContext(ctx,
		`UPDATE rewards SET name = ?, description = ?, points_cost = ?, category = ?, stock = ?, available = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, description, pointsCost, cat, stock, a, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update reward: %w", err)
	}
	return s.GetByID(ctx, id)
}

// ToggleAvailability flips the available flag.
func (s *RewardStore) ToggleAvailability(ctx context.Context, id int64) (*model.Reward, error) {
	_, err := s.q.ExecContext(ctx,
		`UPDATE rewards SET available = NOT available, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("toggle availability: %w", err)
	}
	return s.GetByID(ctx, id)
}

// DecrementStock takes one unit of stock as a single conditional update: the
// row only matches while stock is positive, so concurrent redemptions cannot
// drive it negative. Unlimited stock is a no-op. Returns the remaining stock
// (-1 for unlimited).
func (s *RewardStore) DecrementStock(ctx context.Context, id int64) (int64, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE rewards SET stock = stock - 1, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND stock > 0`,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	stock, err := s.stock(ctx, id)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if stock == model.UnlimitedStock {
			return stock, nil
		}
		return stock, ErrOutOfStock
	}
	return stock, nil
}

// IncrementStock returns one unit of stock, used when a redemption is
// cancelled. Unlimited stock is a no-op.
func (s *RewardStore) IncrementStock(ctx context.Context, id int64) (int64, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE rewards SET stock = stock + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND stock >= 0`,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("increment stock: %w", err)
	}
	if _, err := result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return s.stock(ctx, id)
}

func (s *RewardStore) stock(ctx context.Context, id int64) (int64, error) {
	var stock int64
	err := s.q.QueryRowContext(ctx, `SELECT stock FROM rewards WHERE id = ?`, id).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return stock, nil
}

func (s *RewardStore) Delete(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM rewards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reward: %w", err)
	}
	return nil
}
