package identity

import (
	"context"
)

// Identity is the (userID, role) pair derived from a verified token.
// Every authorization decision downstream of the auth middleware keys off
// an explicit Identity value instead of ambient session state.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// RoleAdmin mirrors the admin role string stored on user rows. Kept local so
// this package stays importable from the domain layer.
const RoleAdmin = "admin"

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)

	return id, ok && id.UserID != ""
}
