package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/ruikei/internal/auth"
	"github.com/ashita-ai/ruikei/internal/cohort"
	"github.com/ashita-ai/ruikei/internal/localrepo"
	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/registry"
	"github.com/ashita-ai/ruikei/internal/storage"
)

// Reconciler is the part of the reconcile engine the review endpoints drive.
// *reconcile.Engine implements it.
type Reconciler interface {
	Reviews(ctx context.Context, status model.ReviewStatus) ([]model.Review, error)
	Review(ctx context.Context, id uuid.UUID) (model.Review, error)
	ResolveReview(ctx context.Context, id uuid.UUID, d reconcile.Decision) (model.Review, error)
}

// PendingCounter reports the review backlog for /health.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// AuditReader lists persisted audit notices. *storage.DB implements it.
type AuditReader interface {
	ListAuditNotices(ctx context.Context, f storage.AuditFilter) ([]reconcile.Notice, error)
}

// Pinger checks that a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	registry            *registry.Registry
	engine              Reconciler
	inbound             cohort.Inbound
	jwtMgr              *auth.JWTManager
	keyring             *auth.Keyring
	pending             PendingCounter
	audit               AuditReader
	db                  Pinger
	repo                Pinger
	auditDepth          func() int
	broker              *Broker
	cohorts             []string
	localRepository     string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Keyring, Pending, Audit, DB, Repository, AuditDepth,
// Broker.
type HandlersDeps struct {
	Registry            *registry.Registry
	Engine              Reconciler
	Inbound             cohort.Inbound
	JWTMgr              *auth.JWTManager
	Keyring             *auth.Keyring
	Pending             PendingCounter
	Audit               AuditReader
	DB                  Pinger
	Repository          Pinger
	AuditDepth          func() int
	Broker              *Broker
	Cohorts             []string
	LocalRepository     string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		registry:            d.Registry,
		engine:              d.Engine,
		inbound:             d.Inbound,
		jwtMgr:              d.JWTMgr,
		keyring:             d.Keyring,
		pending:             d.Pending,
		audit:               d.Audit,
		db:                  d.DB,
		repo:                d.Repository,
		auditDepth:          d.AuditDepth,
		broker:              d.Broker,
		cohorts:             d.Cohorts,
		localRepository:     d.LocalRepository,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token. It exchanges a configured API
// key for a bearer token carrying the key's role.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.keyring == nil || h.keyring.Len() == 0 {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable,
			"token exchange not configured (no API keys)")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	role, ok := h.keyring.Authenticate(req.Subject, req.APIKey)
	if !ok {
		h.logger.Warn("auth: token exchange rejected", "subject", req.Subject)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.Subject, role, 0)
	if err != nil {
		h.logger.Error("auth: issue token", "subject", req.Subject, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	stats := h.registry.Stats()
	resp := model.HealthResponse{
		Version:         h.version,
		Cohort:          strings.Join(h.cohorts, ","),
		LocalRepository: h.localRepository,
		KnownTypes:      stats.KnownTypes,
		ActiveTypes:     stats.ActiveTypes,
		Uptime:          int64(time.Since(h.startedAt).Seconds()),
	}

	if h.db != nil {
		resp.Postgres = "connected"
		if err := h.db.Ping(r.Context()); err != nil {
			resp.Postgres = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			h.logger.Warn("health: local repository unreachable", "error", err)
			if status == "healthy" {
				status = "degraded"
			}
		}
	}
	if h.pending != nil {
		if n, err := h.pending.CountPending(r.Context()); err == nil {
			resp.PendingReviews = n
		}
	}
	if h.auditDepth != nil {
		resp.AuditBuffer = h.auditDepth()
	}

	resp.Status = status
	writeJSON(w, r, httpStatus, resp)
}

// HandleListTypeDefs handles GET /v1/typedefs?scope=known|active.
func (h *Handlers) HandleListTypeDefs(w http.ResponseWriter, r *http.Request) {
	scope, err := queryScope(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	snap := h.registry.AllKnown()
	if scope == registry.Active {
		snap = h.registry.AllActive()
	}
	writeJSON(w, r, http.StatusOK, model.TypeDefListResponse{
		TypeDefs:          snap.TypeDefs,
		AttributeTypeDefs: snap.AttributeTypeDefs,
	})
}

// HandleTypeDefByGUID handles GET /v1/typedefs/guid/{guid}.
func (h *Handlers) HandleTypeDefByGUID(w http.ResponseWriter, r *http.Request) {
	h.lookupTypeDef(w, r, r.PathValue("guid"), h.registry.TypeDefByGUID)
}

// HandleTypeDefByName handles GET /v1/typedefs/name/{name}.
func (h *Handlers) HandleTypeDefByName(w http.ResponseWriter, r *http.Request) {
	h.lookupTypeDef(w, r, r.PathValue("name"), h.registry.TypeDefByName)
}

func (h *Handlers) lookupTypeDef(w http.ResponseWriter, r *http.Request, key string,
	find func(registry.Scope, string) (model.TypeDef, bool)) {
	scope, err := queryScope(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	def, ok := find(scope, key)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound,
			fmt.Sprintf("type %q is not %s", key, scope))
		return
	}
	writeJSON(w, r, http.StatusOK, model.TypeDefView{
		TypeDef:  def,
		Active:   h.registry.IsActive(def.GUID, def.Name),
		OpenType: h.registry.IsOpenType(def.GUID, def.Name),
	})
}

// HandleAttributeTypeDefByGUID handles GET /v1/attribute-typedefs/guid/{guid}.
func (h *Handlers) HandleAttributeTypeDefByGUID(w http.ResponseWriter, r *http.Request) {
	h.lookupAttributeTypeDef(w, r, r.PathValue("guid"), h.registry.AttributeTypeDefByGUID)
}

// HandleAttributeTypeDefByName handles GET /v1/attribute-typedefs/name/{name}.
func (h *Handlers) HandleAttributeTypeDefByName(w http.ResponseWriter, r *http.Request) {
	h.lookupAttributeTypeDef(w, r, r.PathValue("name"), h.registry.AttributeTypeDefByName)
}

func (h *Handlers) lookupAttributeTypeDef(w http.ResponseWriter, r *http.Request, key string,
	find func(registry.Scope, string) (model.AttributeTypeDef, bool)) {
	scope, err := queryScope(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	def, ok := find(scope, key)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound,
			fmt.Sprintf("attribute type %q is not %s", key, scope))
		return
	}
	writeJSON(w, r, http.StatusOK, model.AttributeTypeDefView{
		AttributeTypeDef: def,
		Active:           h.registry.IsActive(def.GUID, def.Name),
		OpenType:         h.registry.IsOpenType(def.GUID, def.Name),
	})
}

// HandleSearch handles GET /v1/typedefs/search?pattern=.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if err := model.ValidatePattern(pattern); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	res, err := h.registry.FindByWildcardName(pattern)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if res == nil {
		writeJSON(w, r, http.StatusOK, model.WildcardResponse{Matched: false})
		return
	}
	writeJSON(w, r, http.StatusOK, model.WildcardResponse{
		Matched:           true,
		TypeDefs:          res.TypeDefs,
		AttributeTypeDefs: res.AttributeTypeDefs,
	})
}

// HandleInstanceType handles GET /v1/instance-types/{category}/{name}.
func (h *Handlers) HandleInstanceType(w http.ResponseWriter, r *http.Request) {
	category := model.TypeDefCategory(r.PathValue("category"))
	name := r.PathValue("name")
	if !category.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("unknown category %q", category))
		return
	}
	if _, ok := h.registry.TypeDefByName(registry.Known, name); !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound,
			fmt.Sprintf("type %q is not known", name))
		return
	}
	it, err := h.registry.ResolveInstanceType(category, name)
	if err != nil {
		if errors.Is(err, registry.ErrTypeError) {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to resolve instance type")
		return
	}
	writeJSON(w, r, http.StatusOK, it)
}

// HandleClassificationCheck handles
// GET /v1/classifications/{classification}/entities/{entity}.
func (h *Handlers) HandleClassificationCheck(w http.ResponseWriter, r *http.Request) {
	c, e := r.PathValue("classification"), r.PathValue("entity")
	writeJSON(w, r, http.StatusOK, model.CompatibilityResponse{
		Classification: c,
		Entity:         e,
		Valid:          h.registry.IsClassificationValidForEntity(c, e),
	})
}

// HandleIngestEvent handles POST /v1/cohorts/{cohort}/events. It is the HTTP
// path into the same reconciliation the NATS listener drives.
func (h *Handlers) HandleIngestEvent(w http.ResponseWriter, r *http.Request) {
	cohortName := r.PathValue("cohort")
	if len(h.cohorts) > 0 && !slices.Contains(h.cohorts, cohortName) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound,
			fmt.Sprintf("cohort %q is not registered", cohortName))
		return
	}

	var ev model.TypeDefEvent
	if err := decodeJSON(w, r, &ev, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if ev.EventType == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "event_type is required")
		return
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}

	outcome := h.inbound.HandleInboundEvent(r.Context(), cohortName, &ev)
	resp := model.EventAccepted{EventID: ev.ID.String(), Outcome: string(outcome)}
	if outcome == reconcile.OutcomeFailed {
		// The event was not applied and may be redelivered.
		writeJSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleListReviews handles GET /v1/reviews?status=pending|applied|dismissed.
func (h *Handlers) HandleListReviews(w http.ResponseWriter, r *http.Request) {
	status := model.ReviewStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.ReviewPending
	}
	if !status.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("invalid status %q", status))
		return
	}
	reviews, err := h.engine.Reviews(r.Context(), status)
	if err != nil {
		h.logger.Error("reviews: list", "status", status, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list reviews")
		return
	}
	limit := queryLimit(r, 100)
	total := len(reviews)
	if len(reviews) > limit {
		reviews = reviews[:limit]
	}
	writeList(w, r, reviews, total)
}

// HandleGetReview handles GET /v1/reviews/{id}.
func (h *Handlers) HandleGetReview(w http.ResponseWriter, r *http.Request) {
	id, err := parseReviewID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	rev, err := h.engine.Review(r.Context(), id)
	if err != nil {
		h.writeReviewError(w, r, id, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rev)
}

// HandleResolveReview handles POST /v1/reviews/{id}/resolve.
func (h *Handlers) HandleResolveReview(w http.ResponseWriter, r *http.Request) {
	id, err := parseReviewID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.ResolveReviewRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	claims := ClaimsFromContext(r.Context())
	resolved, err := h.engine.ResolveReview(r.Context(), id, reconcile.Decision{
		Apply:      req.Apply,
		ResolvedBy: claims.Subject,
		Note:       req.Note,
	})
	if err != nil {
		h.writeReviewError(w, r, id, err)
		return
	}
	if h.broker != nil {
		h.broker.ReviewResolved(resolved)
	}
	writeJSON(w, r, http.StatusOK, resolved)
}

func (h *Handlers) writeReviewError(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, model.ErrReviewNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, fmt.Sprintf("review %s not found", id))
	case errors.Is(err, model.ErrReviewResolved):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, fmt.Sprintf("review %s is already resolved", id))
	case errors.Is(err, reconcile.ErrReviewNotApplicable), errors.Is(err, registry.ErrTypeError),
		errors.Is(err, localrepo.ErrNotKnown), errors.Is(err, localrepo.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, localrepo.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "local repository unavailable, retry later")
	default:
		h.logger.Error("reviews: request failed", "review_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "review request failed")
	}
}

// HandleReviewStream handles GET /v1/reviews/stream (SSE).
func (h *Handlers) HandleReviewStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "review stream not available")
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	// Disable the server's WriteTimeout for this long-lived connection.
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

// HandleListAudit handles GET /v1/audit?type=&cohort=&code=&limit=.
func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable,
			"audit history not available (no database configured)")
		return
	}
	q := r.URL.Query()
	notices, err := h.audit.ListAuditNotices(r.Context(), storage.AuditFilter{
		TypeName: q.Get("type"),
		Cohort:   q.Get("cohort"),
		Code:     q.Get("code"),
		Limit:    queryLimit(r, 100),
	})
	if err != nil {
		h.logger.Error("audit: list notices", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list audit notices")
		return
	}
	writeList(w, r, notices, len(notices))
}

func parseReviewID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("id")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("review id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid review id: %s", raw)
	}
	return id, nil
}

func queryScope(r *http.Request) (registry.Scope, error) {
	switch v := r.URL.Query().Get("scope"); v {
	case "", "known":
		return registry.Known, nil
	case "active":
		return registry.Active, nil
	default:
		return registry.Known, fmt.Errorf("invalid scope %q: expected known or active", v)
	}
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
