package model

import "time"

// Ledger entry kinds. A credit increases the account balance, a debit or
// redemption decreases it.
const (
	KindCredit     = "credit"
	KindDebit      = "debit"
	KindRedemption = "redemption"
)

// LedgerEntry is one immutable record of a balance change. Entries are only
// ever appended; the per-account signed sum of entries always equals the
// account's balance column.
type LedgerEntry struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	Reason         string    `json:"reason"`
	CounterpartyID *int64    `json:"counterparty_id,omitempty"`
	RewardID       *int64    `json:"reward_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Signed returns the entry amount with the sign it applies to the account
// balance.
func (e *LedgerEntry) Signed() int64 {
	if e.Kind == KindCredit {
		return e.Amount
	}
	return -e.Amount
}
