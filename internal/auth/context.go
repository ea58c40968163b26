package auth

import "context"

type contextKey struct{}

// AuthContext identifies the authenticated account for the current request.
type AuthContext struct {
	AccountID int64
	Role      string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func AccountID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.AccountID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == "admin"
}

// CanAccess reports whether the request may read data belonging to the given
// account: admins can read anyone, others only themselves.
func CanAccess(ctx context.Context, accountID int64) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == "admin" || ac.AccountID == accountID
}
