package gate

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/firstech/identity-core/pkg/identity"
)

type contextKey int

const userKey contextKey = iota

// ContextWithUser returns a copy of ctx carrying user.
func ContextWithUser(ctx context.Context, user *identity.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user. ok is false for
// anonymous requests.
func UserFromContext(ctx context.Context) (user *identity.User, ok bool) {
	user, ok = ctx.Value(userKey).(*identity.User)
	return user, ok && user != nil
}

// MustUserFromContext panics when the request is anonymous. Use it only
// behind a handler that rejects anonymous requests.
func MustUserFromContext(ctx context.Context) *identity.User {
	user, ok := UserFromContext(ctx)
	if !ok {
		panic("gate: no user in context; ensure the authentication middleware is configured")
	}
	return user
}

// TraceIDFromContext returns the active trace id, if any.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return "", false
	}
	return sc.TraceID().String(), true
}
