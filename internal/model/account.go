package model

import "time"

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Account is any balance-holding identity: a student earning and spending
// points, or an admin holding a grant pool.
type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	StudentID    *string   `json:"student_id,omitempty"`
	Role         string    `json:"role"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PointsSummary is a read model combining the balance column with windowed
// ledger totals. The totals are always computed from ledger entries, never
// stored.
type PointsSummary struct {
	AccountID    int64 `json:"account_id"`
	Balance      int64 `json:"balance"`
	TotalCredits int64 `json:"total_credits"`
	TotalDebits  int64 `json:"total_debits"`
}

// DailyActivity is one day's credit/debit totals, used for history charts.
type DailyActivity struct {
	Date    string `json:"date"`
	Credits int64  `json:"credits"`
	Debits  int64  `json:"debits"`
	Count   int64  `json:"transaction_count"`
}
