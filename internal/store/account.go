package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/campuspoints/server/internal/model"
)

type AccountStore struct {
	q DBTX
}

func NewAccountStore(q DBTX) *AccountStore {
	return &AccountStore{q: q}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *AccountStore) WithTx(tx *sql.Tx) *AccountStore {
	return &AccountStore{q: tx}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var studentID sql.NullString

	err := scanner.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName,
		&studentID, &a.Role, &a.Balance, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if studentID.Valid {
		a.StudentID = &studentID.String
	}
	return &a, nil
}

const accountCols = `id, email, password_hash, first_name, last_name, student_id, role, balance, created_at, updated_at`

func (s *AccountStore) Create(ctx context.Context, email, passwordHash, firstName, lastName string, studentID *string, role string) (*model.Account, error) {
	var sid sql.NullString
	if studentID != nil {
		sid = sql.NullString{String: *studentID, Valid: true}
	}

	result, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts (email, password_hash, first_name, last_name, student_id, role) VALUES (?, ?, ?, ?, ?, ?)`,
		email, passwordHash, firstName, lastName, sid, role,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AccountStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// List returns accounts ordered by last name, optionally filtered by role.
func (s *AccountStore) List(ctx context.Context, role string) ([]model.Account, error) {
	query := `SELECT ` + accountCols + ` FROM accounts`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY last_name ASC, first_name ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// Balance returns the current balance column for the account.
func (s *AccountStore) Balance(ctx context.Context, id int64) (int64, error) {
	var balance int64
	err := s.q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AdjustBalance applies delta to the account balance as a single conditional
// update: the row only matches when the resulting balance stays
// non-negative. It must be called inside the same transaction as the paired
// ledger append. On ErrInsufficientBalance the returned value is the current
// balance, for error reporting.
func (s *AccountStore) AdjustBalance(ctx context.Context, id, delta int64) (int64, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND balance + ? >= 0`,
		delta, id, delta,
	)
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		// Row missing, or the update would have driven the balance negative.
		balance, err := s.Balance(ctx, id)
		if err != nil {
			return 0, err
		}
		return balance, ErrInsufficientBalance
	}

	return s.Balance(ctx, id)
}
