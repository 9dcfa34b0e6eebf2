package middleware

import (
	"context"

	"github.com/gosuda/boardsync/internal/domain"
)

type contextKey string

const (
	ContextKeyUserID contextKey = "user_id"
	ContextKeyEmail  contextKey = "email"
)

// WithIdentity stores the authenticated caller in ctx.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	ctx = context.WithValue(ctx, ContextKeyUserID, id.UserID)
	ctx = context.WithValue(ctx, ContextKeyEmail, id.Email)
	return ctx
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyUserID).(string)
	return v, ok && v != ""
}

// IdentityFromContext returns the caller set by Auth.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	uid, ok := UserIDFromContext(ctx)
	if !ok {
		return domain.Identity{}, false
	}
	email, _ := ctx.Value(ContextKeyEmail).(string)
	return domain.Identity{UserID: uid, Email: email}, true
}
