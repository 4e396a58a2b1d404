package core

import "context"

type sessionIDKey struct{}

// WithSessionID scopes ctx to one browser session
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID returns the browser session ctx is scoped to, or "" when unscoped
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
