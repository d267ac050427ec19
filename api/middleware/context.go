package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext rebuilds the authenticated caller. ok is false when the
// request carried no valid identity.
func ActorFromContext(ctx context.Context) (auth.Actor, bool) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil || userID == uuid.Nil {
		return auth.Actor{}, false
	}
	role := enums.Role(RoleFromContext(ctx))
	if !role.IsValid() {
		return auth.Actor{}, false
	}
	return auth.Actor{UserID: userID, Role: role}, true
}

// WithActor injects an authenticated caller into the context.
func WithActor(ctx context.Context, actor auth.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, actor.UserID.String())
	return context.WithValue(ctx, ctxRole, string(actor.Role))
}
