package ctxutil_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/ruikei/internal/auth"
	"github.com/ashita-ai/ruikei/internal/ctxutil"
	"github.com/ashita-ai/ruikei/internal/model"
)

func TestClaimsRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxutil.ClaimsFromContext(ctx))
	_, _, ok := ctxutil.Caller(ctx)
	assert.False(t, ok)

	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops@example"},
		Role:             model.RoleOperator,
	}
	ctx = ctxutil.WithClaims(ctx, claims)
	assert.Same(t, claims, ctxutil.ClaimsFromContext(ctx))

	sub, role, ok := ctxutil.Caller(ctx)
	assert.True(t, ok)
	assert.Equal(t, "ops@example", sub)
	assert.Equal(t, model.RoleOperator, role)
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ctxutil.RequestIDFromContext(ctx))
	assert.Equal(t, "req-1", ctxutil.RequestIDFromContext(ctxutil.WithRequestID(ctx, "req-1")))
}
