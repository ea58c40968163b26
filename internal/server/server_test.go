package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/campuspoints/server/internal/database"
	"github.com/campuspoints/server/internal/model"
	"github.com/campuspoints/server/internal/store"
)

func newTestServer(t *testing.T) (*Server, *sql.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := New(db, Config{JWTSecret: "test-secret", TokenTTL: time.Hour}, slog.Default())
	return srv, db
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// seedAdmin creates a funded admin directly and returns a login token for
// it.
func seedAdmin(t *testing.T, srv *Server, db *sql.DB, pool int64) (int64, string) {
	t.Helper()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("admin-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	admin, err := store.NewAccountStore(db).Create(ctx, "admin@campus.edu", string(hash), "Points", "Admin", nil, model.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if pool > 0 {
		if _, err := srv.Engine().Fund(ctx, admin.ID, pool, "initial grant pool"); err != nil {
			t.Fatal(err)
		}
	}

	token, err := srv.tokens.Issue(admin.ID, admin.Role)
	if err != nil {
		t.Fatal(err)
	}
	return admin.ID, token
}

type authResp struct {
	Token   string        `json:"token"`
	Account model.Account `json:"account"`
}

func TestHealthAndAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/api/rewards", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated = %d, want 401", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, "POST", "/api/auth/register", "", map[string]any{
		"email":      "ada@campus.edu",
		"password":   "strongpass",
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"student_id": "S100",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}
	registered := decode[authResp](t, rec)
	if registered.Token == "" {
		t.Error("expected token")
	}
	if registered.Account.Role != model.RoleStudent {
		t.Errorf("role = %q, want student", registered.Account.Role)
	}

	// Duplicate email is rejected.
	rec = doJSON(t, router, "POST", "/api/auth/register", "", map[string]any{
		"email": "ada@campus.edu", "password": "strongpass",
		"first_name": "Ada", "last_name": "Lovelace",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register = %d, want 409", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/api/auth/login", "", map[string]any{
		"email": "ada@campus.edu", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d, want 401", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/api/auth/login", "", map[string]any{
		"email": "ada@campus.edu", "password": "strongpass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	logged := decode[authResp](t, rec)

	rec = doJSON(t, router, "GET", "/api/auth/me", logged.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me = %d", rec.Code)
	}
	me := decode[model.Account](t, rec)
	if me.Email != "ada@campus.edu" {
		t.Errorf("me email = %q", me.Email)
	}
}

func TestPointsFlow(t *testing.T) {
	srv, db := newTestServer(t)
	router := srv.Router()
	_, adminToken := seedAdmin(t, srv, db, 10000)

	rec := doJSON(t, router, "POST", "/api/auth/register", "", map[string]any{
		"email": "s@campus.edu", "password": "strongpass",
		"first_name": "Sam", "last_name": "Student",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d", rec.Code)
	}
	student := decode[authResp](t, rec)
	studentID := student.Account.ID

	// Students cannot grant.
	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/students/%d/points", studentID), student.Token,
		map[string]any{"amount": 100, "reason": "nope"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("student grant = %d, want 403", rec.Code)
	}

	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/students/%d/points", studentID), adminToken,
		map[string]any{"amount": 300, "reason": "research assistant"})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, "GET", fmt.Sprintf("/api/accounts/%d/points", studentID), student.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary = %d", rec.Code)
	}
	summary := decode[model.PointsSummary](t, rec)
	if summary.Balance != 300 {
		t.Errorf("balance = %d, want 300", summary.Balance)
	}

	// Another student cannot read this account.
	rec = doJSON(t, router, "POST", "/api/auth/register", "", map[string]any{
		"email": "other@campus.edu", "password": "strongpass",
		"first_name": "Olive", "last_name": "Other",
	})
	other := decode[authResp](t, rec)
	rec = doJSON(t, router, "GET", fmt.Sprintf("/api/accounts/%d/points", studentID), other.Token, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-account read = %d, want 403", rec.Code)
	}

	// Revoke more than the balance reports the student's balance.
	rec = doJSON(t, router, "DELETE", fmt.Sprintf("/api/students/%d/points", studentID), adminToken,
		map[string]any{"amount": 301, "reason": "too much"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("over-revoke = %d, want 422", rec.Code)
	}

	rec = doJSON(t, router, "DELETE", fmt.Sprintf("/api/students/%d/points", studentID), adminToken,
		map[string]any{"amount": 50, "reason": "correction"})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke = %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", fmt.Sprintf("/api/accounts/%d/ledger", studentID), student.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger = %d", rec.Code)
	}
	entries := decode[[]model.LedgerEntry](t, rec)
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestRedemptionFlow(t *testing.T) {
	srv, db := newTestServer(t)
	router := srv.Router()
	_, adminToken := seedAdmin(t, srv, db, 10000)

	rec := doJSON(t, router, "POST", "/api/auth/register", "", map[string]any{
		"email": "s@campus.edu", "password": "strongpass",
		"first_name": "Sam", "last_name": "Student",
	})
	student := decode[authResp](t, rec)

	// Admin creates a reward; students cannot.
	rec = doJSON(t, router, "POST", "/api/rewards", student.Token, map[string]any{
		"name": "Hoodie", "points_cost": 120, "stock": 1, "available": true,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("student create reward = %d, want 403", rec.Code)
	}

	rec = doJSON(t, router, "POST", "/api/rewards", adminToken, map[string]any{
		"name": "Hoodie", "points_cost": 120, "stock": 1, "available": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create reward = %d: %s", rec.Code, rec.Body.String())
	}
	reward := decode[model.Reward](t, rec)

	// Insufficient points first.
	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/rewards/%d/redeem", reward.ID), student.Token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("poor redeem = %d, want 422: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/students/%d/points", student.Account.ID), adminToken,
		map[string]any{"amount": 500, "reason": "grant"})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant = %d", rec.Code)
	}

	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/rewards/%d/redeem", reward.ID), student.Token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("redeem = %d: %s", rec.Code, rec.Body.String())
	}
	var redeemResp struct {
		Redemption model.Redemption `json:"redemption"`
		NewBalance int64            `json:"new_balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &redeemResp); err != nil {
		t.Fatal(err)
	}
	if redeemResp.NewBalance != 380 {
		t.Errorf("balance = %d, want 380", redeemResp.NewBalance)
	}

	// Stock exhausted now.
	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/rewards/%d/redeem", reward.ID), student.Token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("sold-out redeem = %d, want 409: %s", rec.Code, rec.Body.String())
	}

	// Cancel refunds and restores stock; a second cancel conflicts.
	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/redemptions/%d/cancel", redeemResp.Redemption.ID), student.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/redemptions/%d/cancel", redeemResp.Redemption.ID), student.Token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("double cancel = %d, want 409", rec.Code)
	}

	// Admin dashboard endpoints.
	rec = doJSON(t, router, "GET", "/api/admin/stats", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("stats = %d", rec.Code)
	}
	rec = doJSON(t, router, "GET", "/api/admin/stats", student.Token, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("student stats = %d, want 403", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/api/admin/integrity", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("integrity = %d", rec.Code)
	}
	var integrity struct {
		Consistent bool `json:"consistent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &integrity); err != nil {
		t.Fatal(err)
	}
	if !integrity.Consistent {
		t.Error("ledger should be consistent")
	}
}

func TestStudentCannotCancelOthersRedemption(t *testing.T) {
	srv, db := newTestServer(t)
	router := srv.Router()
	_, adminToken := seedAdmin(t, srv, db, 1000)

	rec := doJSON(t, router, "POST", "/api/auth/register", "", map[string]any{
		"email": "s@campus.edu", "password": "strongpass",
		"first_name": "Sam", "last_name": "Student",
	})
	owner := decode[authResp](t, rec)
	rec = doJSON(t, router, "POST", "/api/auth/register", "", map[string]any{
		"email": "x@campus.edu", "password": "strongpass",
		"first_name": "Xe", "last_name": "Stranger",
	})
	stranger := decode[authResp](t, rec)

	rec = doJSON(t, router, "POST", "/api/rewards", adminToken, map[string]any{
		"name": "Coffee", "points_cost": 20, "stock": -1, "available": true,
	})
	reward := decode[model.Reward](t, rec)

	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/students/%d/points", owner.Account.ID), adminToken,
		map[string]any{"amount": 100, "reason": "grant"})
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Code)
	}
	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/rewards/%d/redeem", reward.ID), owner.Token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Code)
	}
	var redeemResp struct {
		Redemption model.Redemption `json:"redemption"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &redeemResp); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/redemptions/%d/cancel", redeemResp.Redemption.ID), stranger.Token, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger cancel = %d, want 403", rec.Code)
	}

	// Admin can.
	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/redemptions/%d/cancel", redeemResp.Redemption.ID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin cancel = %d, want 200", rec.Code)
	}
}
