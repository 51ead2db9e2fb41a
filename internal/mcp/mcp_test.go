package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ruikei/internal/archive"
	"github.com/ashita-ai/ruikei/internal/auth"
	"github.com/ashita-ai/ruikei/internal/ctxutil"
	"github.com/ashita-ai/ruikei/internal/localrepo"
	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/registry"
	"github.com/ashita-ai/ruikei/internal/review"
)

const testCohort = "cocoPharma"

var testPeer = model.Originator{CohortName: testCohort, MetadataCollectionID: "peer-1", ServerName: "peer"}

type fixture struct {
	srv      *Server
	registry *registry.Registry
	engine   *reconcile.Engine
	resolved []model.Review
}

// newFixture builds an MCP server over a registry seeded with the core
// archive and backed by an in-memory local repository.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	reg := registry.New(true, registry.DefaultMaxDepth, logger)
	repo := localrepo.NewMemory()
	core, err := archive.Core()
	require.NoError(t, err)
	_, err = core.Seed(ctx, reg, repo, logger)
	require.NoError(t, err)

	engine, err := reconcile.New(reconcile.Config{
		Cache:             reg,
		Repository:        repo,
		Reviews:           review.NewMemory(),
		LocalCollectionID: "local-1",
		Logger:            logger,
	})
	require.NoError(t, err)

	f := &fixture{registry: reg, engine: engine}
	f.srv = New(Deps{
		Registry:   reg,
		Reviews:    engine,
		OnResolved: func(r model.Review) { f.resolved = append(f.resolved, r) },
		Logger:     logger,
		Version:    "test",
	})
	return f
}

// queueDelete makes a peer delete the named core type and returns the review
// the engine queued for it.
func (f *fixture) queueDelete(t *testing.T, guid, name string) model.Review {
	t.Helper()
	ctx := context.Background()
	ev := &model.TypeDefEvent{
		ID:              uuid.New(),
		EventType:       model.EventDeletedTypeDef,
		Originator:      testPeer,
		OriginalTypeDef: &model.TypeDefSummary{GUID: guid, Name: name, Version: 1, Category: model.CategoryClassification},
	}
	require.Equal(t, reconcile.OutcomeQueued, f.engine.HandleInboundEvent(ctx, testCohort, ev))
	pending, err := f.engine.Reviews(ctx, model.ReviewPending)
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	return pending[len(pending)-1]
}

func callerCtx(subject string, role model.Role) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Role:             role,
	})
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText returns the text of the first content item.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}
