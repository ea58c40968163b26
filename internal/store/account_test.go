package store

import (
	"context"
	"errors"
	"testing"

	"github.com/campuspoints/server/internal/model"
)

func TestAccountCreateAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := NewAccountStore(db)

	sid := "S12345"
	created, err := accounts.Create(ctx, "ada@campus.edu", "hash", "Ada", "Lovelace", &sid, model.RoleStudent)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected non-zero id")
	}
	if created.Balance != 0 {
		t.Errorf("new account balance = %d, want 0", created.Balance)
	}

	got, err := accounts.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got == nil {
		t.Fatal("expected account")
	}
	if got.Email != "ada@campus.edu" || got.Role != model.RoleStudent {
		t.Errorf("got %+v", got)
	}
	if got.StudentID == nil || *got.StudentID != "S12345" {
		t.Errorf("student id = %v, want S12345", got.StudentID)
	}

	byEmail, err := accounts.GetByEmail(ctx, "ada@campus.edu")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail == nil || byEmail.ID != created.ID {
		t.Error("get by email returned wrong account")
	}
}

func TestAccountGetMissing(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := NewAccountStore(db)

	got, err := accounts.GetByID(ctx, 999)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing account")
	}

	if _, err := accounts.Balance(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountListByRole(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := NewAccountStore(db)

	createAccount(t, db, "s1@campus.edu", model.RoleStudent)
	createAccount(t, db, "s2@campus.edu", model.RoleStudent)
	createAccount(t, db, "admin@campus.edu", model.RoleAdmin)

	students, err := accounts.List(ctx, model.RoleStudent)
	if err != nil {
		t.Fatalf("list students: %v", err)
	}
	if len(students) != 2 {
		t.Errorf("students = %d, want 2", len(students))
	}

	admins, err := accounts.List(ctx, model.RoleAdmin)
	if err != nil {
		t.Fatalf("list admins: %v", err)
	}
	if len(admins) != 1 {
		t.Errorf("admins = %d, want 1", len(admins))
	}
}

func TestAdjustBalance(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := NewAccountStore(db)
	account := createAccount(t, db, "s@campus.edu", model.RoleStudent)

	balance, err := accounts.AdjustBalance(ctx, account.ID, 100)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}

	balance, err = accounts.AdjustBalance(ctx, account.ID, -40)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 60 {
		t.Errorf("balance = %d, want 60", balance)
	}
}

func TestAdjustBalanceInsufficient(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	accounts := NewAccountStore(db)
	account := createAccount(t, db, "s@campus.edu", model.RoleStudent)

	if _, err := accounts.AdjustBalance(ctx, account.ID, 50); err != nil {
		t.Fatalf("credit: %v", err)
	}

	balance, err := accounts.AdjustBalance(ctx, account.ID, -51)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if balance != 50 {
		t.Errorf("reported balance = %d, want 50", balance)
	}

	// The failed debit must not change the stored balance.
	got, err := accounts.Balance(ctx, account.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 50 {
		t.Errorf("stored balance = %d, want 50", got)
	}
}
