package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campuspoints/server/internal/model"
)

// LedgerStore persists immutable ledger entries. Append is the only write:
// there is no update or delete, and corrections are made with compensating
// entries.
type LedgerStore struct {
	q DBTX
}

func NewLedgerStore(q DBTX) *LedgerStore {
	return &LedgerStore{q: q}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *LedgerStore) WithTx(tx *sql.Tx) *LedgerStore {
	return &LedgerStore{q: tx}
}

func scanLedgerEntry(scanner interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var counterparty, reward sql.NullInt64

	err := scanner.Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.Reason,
		&counterparty, &reward, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if counterparty.Valid {
		e.CounterpartyID = &counterparty.Int64
	}
	if reward.Valid {
		e.RewardID = &reward.Int64
	}
	return &e, nil
}

const ledgerCols = `id, account_id, kind, amount, reason, counterparty_id, reward_id, created_at`

// Append writes one entry and returns it with id and created_at filled in.
// It must be called inside the same transaction as the balance update it
// records, so per-account entry order matches balance commit order.
func (s *LedgerStore) Append(ctx context.Context, e *model.LedgerEntry) (*model.LedgerEntry, error) {
	var counterparty, reward sql.NullInt64
	if e.CounterpartyID != nil {
		counterparty = sql.NullInt64{Int64: *e.CounterpartyID, Valid: true}
	}
	if e.RewardID != nil {
		reward = sql.NullInt64{Int64: *e.RewardID, Valid: true}
	}

	result, err := s.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, kind, amount, reason, counterparty_id, reward_id) VALUES (?, ?, ?, ?, ?, ?)`,
		e.AccountID, e.Kind, e.Amount, e.Reason, counterparty, reward,
	)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.getByID(ctx, id)
}

func (s *LedgerStore) getByID(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+ledgerCols+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// ListByAccount returns entries for the account, newest first. The id is the
// tiebreaker for entries sharing a created_at second.
func (s *LedgerStore) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]model.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE account_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Aggregate computes total credits and debits for the account in [from, to).
// Debits include redemptions. This is a pure read-side reduction; the totals
// are never stored.
func (s *LedgerStore) Aggregate(ctx context.Context, accountID int64, from, to time.Time) (credits, debits int64, err error) {
	err = s.q.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN kind = 'credit' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind IN ('debit', 'redemption') THEN amount ELSE 0 END), 0)
		 FROM ledger_entries
		 WHERE account_id = ? AND created_at >= ? AND created_at < ?`,
		accountID, from.UTC(), to.UTC(),
	).Scan(&credits, &debits)
	if err != nil {
		return 0, 0, fmt.Errorf("aggregate ledger: %w", err)
	}
	return credits, debits, nil
}

// DailyActivity returns per-day credit/debit totals for the last N days,
// newest first.
func (s *LedgerStore) DailyActivity(ctx context.Context, accountID int64, days int) ([]model.DailyActivity, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.q.QueryContext(ctx,
		`SELECT
			DATE(created_at),
			COALESCE(SUM(CASE WHEN kind = 'credit' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind IN ('debit', 'redemption') THEN amount ELSE 0 END), 0),
			COUNT(*)
		 FROM ledger_entries
		 WHERE account_id = ? AND created_at >= ?
		 GROUP BY DATE(created_at)
		 ORDER BY DATE(created_at) DESC`,
		accountID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("daily activity: %w", err)
	}
	defer rows.Close()

	var activity []model.DailyActivity
	for rows.Next() {
		var d model.DailyActivity
		if err := rows.Scan(&d.Date, &d.Credits, &d.Debits, &d.Count); err != nil {
			return nil, fmt.Errorf("scan daily activity: %w", err)
		}
		activity = append(activity, d)
	}
	return activity, rows.Err()
}

// SumByAccount returns the signed sum of all entries for the account. For a
// consistent ledger this equals the account's balance column.
func (s *LedgerStore) SumByAccount(ctx context.Context, accountID int64) (int64, error) {
	var sum int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN kind = 'credit' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries WHERE account_id = ?`,
		accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return sum, nil
}

// BalanceCheck pairs an account's balance column with its ledger sum.
type BalanceCheck struct {
	AccountID int64 `json:"account_id"`
	Balance   int64 `json:"balance"`
	LedgerSum int64 `json:"ledger_sum"`
}

// Consistent reports whether the balance column matches the ledger.
func (c BalanceCheck) Consistent() bool {
	return c.Balance == c.LedgerSum
}

// CheckBalances compares every account's balance column against its signed
// ledger sum, for the integrity audit.
func (s *LedgerStore) CheckBalances(ctx context.Context) ([]BalanceCheck, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT a.id, a.balance,
			COALESCE(SUM(CASE WHEN l.kind = 'credit' THEN l.amount ELSE -l.amount END), 0)
		 FROM accounts a
		 LEFT JOIN ledger_entries l ON l.account_id = a.id
		 GROUP BY a.id
		 ORDER BY a.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("check balances: %w", err)
	}
	defer rows.Close()

	var checks []BalanceCheck
	for rows.Next() {
		var c BalanceCheck
		if err := rows.Scan(&c.AccountID, &c.Balance, &c.LedgerSum); err != nil {
			return nil, fmt.Errorf("scan balance check: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}
