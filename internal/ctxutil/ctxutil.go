// Package ctxutil provides shared context key accessors.
//
// server populates the caller's claims in its auth middleware and mcp reads
// them in tool handlers. Both packages import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/ruikei/internal/auth"
	"github.com/ashita-ai/ruikei/internal/model"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyRequestID contextKey = "request_id"
)

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the JWT claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// Caller returns the subject and role of the authenticated caller. ok is
// false when the context carries no claims.
func Caller(ctx context.Context) (subject string, role model.Role, ok bool) {
	c := ClaimsFromContext(ctx)
	if c == nil {
		return "", "", false
	}
	return c.Subject, c.Role, true
}
