// Package engine implements the points ledger workflows: admin grants and
// revocations, reward redemption, and redemption cancellation. Every
// workflow runs as one database transaction; the balance update, the stock
// update, and the ledger append commit together or not at all. Balance and
// stock preconditions are enforced by conditional updates inside the
// transaction, never by a separate read-then-write.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/campuspoints/server/internal/model"
	"github.com/campuspoints/server/internal/store"
)

type Engine struct {
	db          *sql.DB
	accounts    *store.AccountStore
	ledger      *store.LedgerStore
	rewards     *store.RewardStore
	redemptions *store.RedemptionStore
	logger      *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Engine {
	return &Engine{
		db:          db,
		accounts:    store.NewAccountStore(db),
		ledger:      store.NewLedgerStore(db),
		rewards:     store.NewRewardStore(db),
		redemptions: store.NewRedemptionStore(db),
		logger:      logger,
	}
}

// GrantResult reports a completed grant: the paired ledger entries and both
// new balances.
type GrantResult struct {
	CreditEntry    *model.LedgerEntry `json:"credit_entry"`
	DebitEntry     *model.LedgerEntry `json:"debit_entry"`
	StudentBalance int64              `json:"student_balance"`
	AdminBalance   int64              `json:"admin_balance"`
}

// Grant transfers amount points from the admin's pool to the student.
// Conservation holds: the student credit and the admin debit are equal and
// commit in the same transaction, each with its own ledger entry naming the
// other account as counterparty.
func (e *Engine) Grant(ctx context.Context, adminID, studentID, amount int64, reason string) (*GrantResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin grant", err)
	}
	defer tx.Rollback()

	accounts := e.accounts.WithTx(tx)
	ledger := e.ledger.WithTx(tx)

	student, err := accounts.GetByID(ctx, studentID)
	if err != nil {
		return nil, storageErr("load student", err)
	}
	if student == nil {
		return nil, fmt.Errorf("%w: student %d", ErrAccountNotFound, studentID)
	}
	if student.Role != model.RoleStudent {
		return nil, ErrNotStudentAccount
	}

	admin, err := accounts.GetByID(ctx, adminID)
	if err != nil {
		return nil, storageErr("load admin", err)
	}
	if admin == nil {
		return nil, fmt.Errorf("%w: admin %d", ErrAccountNotFound, adminID)
	}
	if admin.Role != model.RoleAdmin {
		return nil, ErrNotAdminAccount
	}

	// The conditional update is the authoritative pool check; the admin
	// cannot grant more than their remaining allocation.
	adminBalance, err := accounts.AdjustBalance(ctx, adminID, -amount)
	if errors.Is(err, store.ErrInsufficientBalance) {
		return nil, &InsufficientAdminBalanceError{AdminID: adminID, Balance: adminBalance, Requested: amount}
	}
	if err != nil {
		return nil, storageErr("debit admin", err)
	}

	studentBalance, err := accounts.AdjustBalance(ctx, studentID, amount)
	if err != nil {
		return nil, storageErr("credit student", err)
	}

	credit, err := ledger.Append(ctx, &model.LedgerEntry{
		AccountID:      studentID,
		Kind:           model.KindCredit,
		Amount:         amount,
		Reason:         reason,
		CounterpartyID: &adminID,
	})
	if err != nil {
		return nil, storageErr("append credit entry", err)
	}

	debit, err := ledger.Append(ctx, &model.LedgerEntry{
		AccountID:      adminID,
		Kind:           model.KindDebit,
		Amount:         amount,
		Reason:         fmt.Sprintf("Transfer to %s %s: %s", student.FirstName, student.LastName, reason),
		CounterpartyID: &studentID,
	})
	if err != nil {
		return nil, storageErr("append debit entry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit grant", err)
	}

	e.logger.Info("points granted",
		"admin_id", adminID, "student_id", studentID, "amount", amount)

	return &GrantResult{
		CreditEntry:    credit,
		DebitEntry:     debit,
		StudentBalance: studentBalance,
		AdminBalance:   adminBalance,
	}, nil
}

// RevokeResult reports a completed revocation.
type RevokeResult struct {
	Entry          *model.LedgerEntry `json:"entry"`
	StudentBalance int64              `json:"student_balance"`
}

// Revoke removes amount points from the student as a correction. It is
// deliberately asymmetric with Grant: the points leave the system instead of
// returning to the admin's pool, so revocation shrinks total supply.
func (e *Engine) Revoke(ctx context.Context, adminID, studentID, amount int64, reason string) (*RevokeResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin revoke", err)
	}
	defer tx.Rollback()

	accounts := e.accounts.WithTx(tx)
	ledger := e.ledger.WithTx(tx)

	student, err := accounts.GetByID(ctx, studentID)
	if err != nil {
		return nil, storageErr("load student", err)
	}
	if student == nil {
		return nil, fmt.Errorf("%w: student %d", ErrAccountNotFound, studentID)
	}
	if student.Role != model.RoleStudent {
		return nil, ErrNotStudentAccount
	}

	admin, err := accounts.GetByID(ctx, adminID)
	if err != nil {
		return nil, storageErr("load admin", err)
	}
	if admin == nil {
		return nil, fmt.Errorf("%w: admin %d", ErrAccountNotFound, adminID)
	}
	if admin.Role != model.RoleAdmin {
		return nil, ErrNotAdminAccount
	}

	studentBalance, err := accounts.AdjustBalance(ctx, studentID, -amount)
	if errors.Is(err, store.ErrInsufficientBalance) {
		return nil, &InsufficientStudentBalanceError{StudentID: studentID, Balance: studentBalance, Requested: amount}
	}
	if err != nil {
		return nil, storageErr("debit student", err)
	}

	entry, err := ledger.Append(ctx, &model.LedgerEntry{
		AccountID:      studentID,
		Kind:           model.KindDebit,
		Amount:         amount,
		Reason:         reason,
		CounterpartyID: &adminID,
	})
	if err != nil {
		return nil, storageErr("append debit entry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit revoke", err)
	}

	e.logger.Info("points revoked",
		"admin_id", adminID, "student_id", studentID, "amount", amount)

	return &RevokeResult{Entry: entry, StudentBalance: studentBalance}, nil
}

// RedeemResult reports a completed redemption.
type RedeemResult struct {
	Redemption     *model.Redemption  `json:"redemption"`
	Entry          *model.LedgerEntry `json:"entry"`
	NewBalance     int64              `json:"new_balance"`
	StockRemaining int64              `json:"stock_remaining"`
}

// Redeem spends points for a reward. The initial reads are advisory and
// exist only to reject obviously bad requests cheaply; the authoritative
// price, balance, and stock checks all happen inside the transaction, so a
// concurrent price edit or competing redemption cannot cause a stale-price
// charge, a negative balance, or stock underflow.
func (e *Engine) Redeem(ctx context.Context, accountID, rewardID int64) (*RedeemResult, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, storageErr("load account", err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: account %d", ErrAccountNotFound, accountID)
	}

	reward, err := e.rewards.GetByID(ctx, rewardID)
	if err != nil {
		return nil, storageErr("load reward", err)
	}
	if reward == nil {
		return nil, fmt.Errorf("%w: reward %d", ErrRewardNotFound, rewardID)
	}
	if !reward.Available {
		return nil, ErrRewardUnavailable
	}
	if !reward.Unlimited() && reward.Stock <= 0 {
		return nil, &OutOfStockError{RewardID: rewardID}
	}
	if account.Balance < reward.PointsCost {
		return nil, &InsufficientPointsError{AccountID: accountID, Balance: account.Balance, Required: reward.PointsCost}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin redeem", err)
	}
	defer tx.Rollback()

	accounts := e.accounts.WithTx(tx)
	ledger := e.ledger.WithTx(tx)
	rewards := e.rewards.WithTx(tx)
	redemptions := e.redemptions.WithTx(tx)

	// Authoritative price read. points_spent snapshots this value, not the
	// price from the advisory read above.
	reward, err = rewards.GetByID(ctx, rewardID)
	if err != nil {
		return nil, storageErr("reload reward", err)
	}
	if reward == nil {
		return nil, fmt.Errorf("%w: reward %d", ErrRewardNotFound, rewardID)
	}
	if !reward.Available {
		return nil, ErrRewardUnavailable
	}
	price := reward.PointsCost

	newBalance, err := accounts.AdjustBalance(ctx, accountID, -price)
	if errors.Is(err, store.ErrInsufficientBalance) {
		return nil, &InsufficientPointsError{AccountID: accountID, Balance: newBalance, Required: price}
	}
	if err != nil {
		return nil, storageErr("debit account", err)
	}

	stockRemaining, err := rewards.DecrementStock(ctx, rewardID)
	if errors.Is(err, store.ErrOutOfStock) {
		return nil, &OutOfStockError{RewardID: rewardID}
	}
	if err != nil {
		return nil, storageErr("decrement stock", err)
	}

	entry, err := ledger.Append(ctx, &model.LedgerEntry{
		AccountID: accountID,
		Kind:      model.KindRedemption,
		Amount:    price,
		Reason:    fmt.Sprintf("Redeemed reward: %s", reward.Name),
		RewardID:  &rewardID,
	})
	if err != nil {
		return nil, storageErr("append redemption entry", err)
	}

	redemption, err := redemptions.Create(ctx, accountID, rewardID, price, model.RedemptionCompleted)
	if err != nil {
		return nil, storageErr("create redemption", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit redeem", err)
	}

	e.logger.Info("reward redeemed",
		"account_id", accountID, "reward_id", rewardID, "points_spent", price)

	return &RedeemResult{
		Redemption:     redemption,
		Entry:          entry,
		NewBalance:     newBalance,
		StockRemaining: stockRemaining,
	}, nil
}

// CancelResult reports a completed cancellation.
type CancelResult struct {
	Redemption     *model.Redemption  `json:"redemption"`
	RefundEntry    *model.LedgerEntry `json:"refund_entry"`
	NewBalance     int64              `json:"new_balance"`
	RefundedAmount int64              `json:"refunded_amount"`
}

// CancelRedemption reverses a completed redemption: the points come back as
// a compensating credit entry, finite stock is restored, and the redemption
// moves to cancelled. The original redemption and ledger entry are never
// deleted. The conditional status transition makes cancellation idempotent:
// a second attempt finds the redemption already cancelled and fails.
func (e *Engine) CancelRedemption(ctx context.Context, redemptionID int64) (*CancelResult, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin cancel", err)
	}
	defer tx.Rollback()

	accounts := e.accounts.WithTx(tx)
	ledger := e.ledger.WithTx(tx)
	rewards := e.rewards.WithTx(tx)
	redemptions := e.redemptions.WithTx(tx)

	redemption, err := redemptions.GetByID(ctx, redemptionID)
	if err != nil {
		return nil, storageErr("load redemption", err)
	}
	if redemption == nil {
		return nil, fmt.Errorf("%w: redemption %d", ErrRedemptionNotFound, redemptionID)
	}

	err = redemptions.TransitionStatus(ctx, redemptionID, model.RedemptionCompleted, model.RedemptionCancelled)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, &InvalidStateTransitionError{RedemptionID: redemptionID, Status: redemption.Status}
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: redemption %d", ErrRedemptionNotFound, redemptionID)
	}
	if err != nil {
		return nil, storageErr("transition redemption", err)
	}

	newBalance, err := accounts.AdjustBalance(ctx, redemption.AccountID, redemption.PointsSpent)
	if err != nil {
		return nil, storageErr("refund account", err)
	}

	if _, err := rewards.IncrementStock(ctx, redemption.RewardID); err != nil {
		return nil, storageErr("restore stock", err)
	}

	refund, err := ledger.Append(ctx, &model.LedgerEntry{
		AccountID: redemption.AccountID,
		Kind:      model.KindCredit,
		Amount:    redemption.PointsSpent,
		Reason:    "redemption cancelled",
		RewardID:  &redemption.RewardID,
	})
	if err != nil {
		return nil, storageErr("append refund entry", err)
	}

	cancelled, err := redemptions.GetByID(ctx, redemptionID)
	if err != nil {
		return nil, storageErr("reload redemption", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit cancel", err)
	}

	e.logger.Info("redemption cancelled",
		"redemption_id", redemptionID, "account_id", redemption.AccountID, "refunded", redemption.PointsSpent)

	return &CancelResult{
		Redemption:     cancelled,
		RefundEntry:    refund,
		NewBalance:     newBalance,
		RefundedAmount: redemption.PointsSpent,
	}, nil
}

// Fund credits an account from outside the transfer system: operator
// bootstrap of an admin pool. It writes a credit entry with no counterparty
// so the ledger-balance invariant holds for funded accounts too. Funding is
// the only way total supply grows.
func (e *Engine) Fund(ctx context.Context, accountID, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin fund", err)
	}
	defer tx.Rollback()

	accounts := e.accounts.WithTx(tx)
	ledger := e.ledger.WithTx(tx)

	account, err := accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, storageErr("load account", err)
	}
	if account == nil {
		return 0, fmt.Errorf("%w: account %d", ErrAccountNotFound, accountID)
	}

	newBalance, err := accounts.AdjustBalance(ctx, accountID, amount)
	if err != nil {
		return 0, storageErr("credit account", err)
	}

	if _, err := ledger.Append(ctx, &model.LedgerEntry{
		AccountID: accountID,
		Kind:      model.KindCredit,
		Amount:    amount,
		Reason:    reason,
	}); err != nil {
		return 0, storageErr("append funding entry", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit fund", err)
	}

	e.logger.Info("account funded", "account_id", accountID, "amount", amount)
	return newBalance, nil
}

// --- Read paths. These bypass the workflow layer and query directly. ---

func (e *Engine) Balance(ctx context.Context, accountID int64) (int64, error) {
	balance, err := e.accounts.Balance(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%w: account %d", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return 0, storageErr("get balance", err)
	}
	return balance, nil
}

// Summary returns the current balance plus credit/debit totals over
// [from, to). The totals are computed from the ledger on every call.
func (e *Engine) Summary(ctx context.Context, accountID int64, from, to time.Time) (*model.PointsSummary, error) {
	balance, err := e.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	credits, debits, err := e.ledger.Aggregate(ctx, accountID, from, to)
	if err != nil {
		return nil, storageErr("aggregate", err)
	}
	return &model.PointsSummary{
		AccountID:    accountID,
		Balance:      balance,
		TotalCredits: credits,
		TotalDebits:  debits,
	}, nil
}

func (e *Engine) History(ctx context.Context, accountID int64, limit, offset int) ([]model.LedgerEntry, error) {
	entries, err := e.ledger.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, storageErr("list history", err)
	}
	return entries, nil
}

func (e *Engine) Redemptions(ctx context.Context, accountID int64, limit, offset int) ([]model.Redemption, error) {
	redemptions, err := e.redemptions.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, storageErr("list redemptions", err)
	}
	return redemptions, nil
}

func (e *Engine) Redemption(ctx context.Context, redemptionID int64) (*model.Redemption, error) {
	redemption, err := e.redemptions.GetByID(ctx, redemptionID)
	if err != nil {
		return nil, storageErr("get redemption", err)
	}
	if redemption == nil {
		return nil, fmt.Errorf("%w: redemption %d", ErrRedemptionNotFound, redemptionID)
	}
	return redemption, nil
}

func (e *Engine) PendingRedemptions(ctx context.Context) ([]model.Redemption, error) {
	pending, err := e.redemptions.ListPending(ctx)
	if err != nil {
		return nil, storageErr("list pending redemptions", err)
	}
	return pending, nil
}

func (e *Engine) Activity(ctx context.Context, accountID int64, days int) ([]model.DailyActivity, error) {
	activity, err := e.ledger.DailyActivity(ctx, accountID, days)
	if err != nil {
		return nil, storageErr("daily activity", err)
	}
	return activity, nil
}

// VerifyLedger audits every account's balance column against its signed
// ledger sum. Any inconsistent row means a balance mutated outside a
// workflow transaction.
func (e *Engine) VerifyLedger(ctx context.Context) ([]store.BalanceCheck, error) {
	checks, err := e.ledger.CheckBalances(ctx)
	if err != nil {
		return nil, storageErr("verify ledger", err)
	}
	return checks, nil
}

// storageErr wraps unexpected storage failures. Context expiry and lock
// contention surface as ErrUnavailable so callers know the whole operation
// is safe to retry; anything else is a server fault.
func storageErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w", op, ErrUnavailable)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
