package auth

import "context"

type contextKey string

const contextKeyOrigin contextKey = "auth.origin_id"

// WithOrigin stores the authenticated origin id in context.
func WithOrigin(ctx context.Context, originID string) context.Context {
	return context.WithValue(ctx, contextKeyOrigin, originID)
}

// OriginFromContext extracts the authenticated origin id; empty when unauthenticated.
func OriginFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if originID, ok := ctx.Value(contextKeyOrigin).(string); ok {
		return originID
	}
	return ""
}
