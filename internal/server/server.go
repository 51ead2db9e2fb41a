package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/ruikei/internal/auth"
	"github.com/ashita-ai/ruikei/internal/cohort"
	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/ratelimit"
	"github.com/ashita-ai/ruikei/internal/registry"
)

// Server is the Ruikei HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Keyring, Pending, Audit, DB, Repository,
// AuditDepth, Broker, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Registry *registry.Registry
	Engine   Reconciler
	Inbound  cohort.Inbound
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Keyring    *auth.Keyring
	Pending    PendingCounter
	Audit      AuditReader
	DB         Pinger
	Repository Pinger
	AuditDepth func() int
	Broker     *Broker
	Limiter    ratelimit.Limiter
	MCPServer  *mcpserver.MCPServer

	// Reported by /health and used to reject events for unknown cohorts.
	Cohorts         []string
	LocalRepository string

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Registry:            cfg.Registry,
		Engine:              cfg.Engine,
		Inbound:             cfg.Inbound,
		JWTMgr:              cfg.JWTMgr,
		Keyring:             cfg.Keyring,
		Pending:             cfg.Pending,
		Audit:               cfg.Audit,
		DB:                  cfg.DB,
		Repository:          cfg.Repository,
		AuditDepth:          cfg.AuditDepth,
		Broker:              cfg.Broker,
		Cohorts:             cfg.Cohorts,
		LocalRepository:     cfg.LocalRepository,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// A nil Limiter leaves these as pass-through.
	authRL := ratelimit.Middleware(cfg.Limiter, "auth", ratelimit.IPKeyFunc, reqIDFunc)
	ingestRL := ratelimit.Middleware(cfg.Limiter, "ingest", subjectKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Registry queries (reader+).
	readRole := requireRole(model.RoleReader)
	mux.Handle("GET /v1/typedefs", readRole(http.HandlerFunc(h.HandleListTypeDefs)))
	mux.Handle("GET /v1/typedefs/search", readRole(http.HandlerFunc(h.HandleSearch)))
	mux.Handle("GET /v1/typedefs/guid/{guid}", readRole(http.HandlerFunc(h.HandleTypeDefByGUID)))
	mux.Handle("GET /v1/typedefs/name/{name}", readRole(http.HandlerFunc(h.HandleTypeDefByName)))
	mux.Handle("GET /v1/attribute-typedefs/guid/{guid}", readRole(http.HandlerFunc(h.HandleAttributeTypeDefByGUID)))
	mux.Handle("GET /v1/attribute-typedefs/name/{name}", readRole(http.HandlerFunc(h.HandleAttributeTypeDefByName)))
	mux.Handle("GET /v1/instance-types/{category}/{name}", readRole(http.HandlerFunc(h.HandleInstanceType)))
	mux.Handle("GET /v1/classifications/{classification}/entities/{entity}",
		readRole(http.HandlerFunc(h.HandleClassificationCheck)))

	// Reviews and audit history (reader+).
	mux.Handle("GET /v1/reviews", readRole(http.HandlerFunc(h.HandleListReviews)))
	mux.Handle("GET /v1/reviews/{id}", readRole(http.HandlerFunc(h.HandleGetReview)))
	mux.Handle("GET /v1/audit", readRole(http.HandlerFunc(h.HandleListAudit)))

	// Review stream (reader+, long-lived connection).
	mux.Handle("GET /v1/reviews/stream", readRole(http.HandlerFunc(h.HandleReviewStream)))

	// Event delivery and review decisions (operator only).
	operatorOnly := requireRole(model.RoleOperator)
	mux.Handle("POST /v1/cohorts/{cohort}/events", operatorOnly(ingestRL(http.HandlerFunc(h.HandleIngestEvent))))
	mux.Handle("POST /v1/reviews/{id}/resolve", operatorOnly(http.HandlerFunc(h.HandleResolveReview)))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// subjectKeyFunc keys rate limits on the token subject.
func subjectKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
