// Package mcp implements the Model Context Protocol server for Ruikei.
//
// The MCP server exposes the registry queries and the operator review queue
// through MCP resources, tools and prompts, so MCP-compatible agents can look
// up type definitions and triage the reviews the reconciler has queued.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/registry"
)

// ReviewService lists and resolves queued reviews. *reconcile.Engine
// implements it.
type ReviewService interface {
	Reviews(ctx context.Context, status model.ReviewStatus) ([]model.Review, error)
	Review(ctx context.Context, id uuid.UUID) (model.Review, error)
	ResolveReview(ctx context.Context, id uuid.UUID, d reconcile.Decision) (model.Review, error)
}

// Deps holds the MCP server's collaborators. OnResolved is optional and is
// called after a review is resolved through a tool.
type Deps struct {
	Registry   *registry.Registry
	Reviews    ReviewService
	OnResolved func(model.Review)
	Logger     *slog.Logger
	Version    string
}

// Server wraps the MCP server with Ruikei's registry and review queue.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	registry   *registry.Registry
	reviews    ReviewService
	onResolved func(model.Review)
	logger     *slog.Logger
	inspected  *inspectTracker
}

// New creates and configures a new MCP server with all resources, tools and
// prompts.
func New(d Deps) *Server {
	s := &Server{
		registry:   d.Registry,
		reviews:    d.Reviews,
		onResolved: d.OnResolved,
		logger:     d.Logger,
		inspected:  newInspectTracker(time.Hour),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"ruikei",
		d.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(`Ruikei is a type-definition registry shared by a cohort of metadata repositories.
Use ruikei_find_types and ruikei_get_type to look up type definitions, and
ruikei_resolve_instance_type to see the flattened view used for instances.
Events the registry will not apply on its own are queued for review: list them
with ruikei_list_reviews, inspect one with ruikei_get_review, then resolve it
with ruikei_resolve_review (operator role required).`),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
