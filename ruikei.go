// Package ruikei is the public API for embedding the Ruikei type registry.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := ruikei.New(
//	    ruikei.WithVersion(version),
//	    ruikei.WithLogger(logger),
//	    ruikei.WithReviewHook(myPager{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, but internal/* never imports the root.
// Public types (Review, Notice) are standalone structs; the conversion
// helpers live here because this is the only file that sees both sides.
package ruikei

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/ruikei/internal/archive"
	"github.com/ashita-ai/ruikei/internal/auditlog"
	"github.com/ashita-ai/ruikei/internal/auth"
	"github.com/ashita-ai/ruikei/internal/cohort"
	"github.com/ashita-ai/ruikei/internal/config"
	"github.com/ashita-ai/ruikei/internal/localrepo"
	"github.com/ashita-ai/ruikei/internal/mcp"
	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/ratelimit"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/registry"
	"github.com/ashita-ai/ruikei/internal/review"
	"github.com/ashita-ai/ruikei/internal/server"
	"github.com/ashita-ai/ruikei/internal/storage"
	"github.com/ashita-ai/ruikei/internal/telemetry"
	"github.com/ashita-ai/ruikei/migrations"
)

// inProgressDeliveryTTL is how long a delivery reservation may stay open
// before maintenance treats it as abandoned.
const inProgressDeliveryTTL = 10 * time.Minute

// localRepository is what the App needs from a local repository: the
// reconciler's contract plus listing for the startup restore.
type localRepository interface {
	reconcile.LocalRepository
	ListTypeDefs(ctx context.Context) ([]model.TypeDef, error)
	ListAttributeTypeDefs(ctx context.Context) ([]model.AttributeTypeDef, error)
}

// pendingQueue is a review queue that can count its open reviews.
type pendingQueue interface {
	reconcile.ReviewQueue
	CountPending(ctx context.Context) (int, error)
}

// App is the Ruikei server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB       // nil when DATABASE_URL is empty
	sqlite       *localrepo.SQLite // nil unless the sqlite repository is selected
	nc           *nats.Conn        // nil when NATS_URL is empty
	listener     *cohort.Listener  // nil when NATS_URL is empty
	auditBuf     *auditlog.Buffer  // nil when DATABASE_URL is empty
	limiter      ratelimit.Limiter
	registry     *registry.Registry
	engine       *reconcile.Engine
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Ruikei server. It loads configuration, connects to the
// optional database and cohort transport, seeds the registry, and wires every
// subsystem. It does NOT start any goroutines or accept HTTP connections;
// call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.natsURL != "" {
		cfg.NATSURL = o.natsURL
	}
	if o.archivePath != "" {
		cfg.ArchivePath = o.archivePath
	}
	if o.localRepository != "" {
		cfg.LocalRepository = o.localRepository
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}
	if cfg.MetadataCollectionID == "" {
		cfg.MetadataCollectionID = uuid.NewString()
		logger.Warn("no RUIKEI_METADATA_COLLECTION_ID configured, generated one for this run",
			"metadata_collection_id", cfg.MetadataCollectionID)
	}

	logger.Info("ruikei starting", "version", version, "port", cfg.Port,
		"local_repository", cfg.LocalRepository, "cohorts", cfg.Cohorts)

	ctx := context.Background()
	a := &App{cfg: cfg, logger: logger, version: version}
	ok := false
	defer func() {
		if !ok {
			a.closeResources(context.Background())
		}
	}()

	a.otelShutdown, err = telemetry.Init(ctx, telemetry.Settings{
		Endpoint:       cfg.OTELEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Postgres is optional: without it reviews live in memory and audit
	// notices only reach the log.
	if cfg.DatabaseURL != "" {
		if a.db, err = storage.New(ctx, cfg.DatabaseURL, logger); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := a.db.RunMigrations(ctx, migrations.FS); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		for i, extraFS := range o.extraMigrations {
			if err := a.db.RunMigrations(ctx, extraFS); err != nil {
				return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
			}
		}
	} else {
		logger.Info("storage: disabled (no DATABASE_URL), reviews kept in memory")
	}

	// Local repository.
	var repo localRepository
	repoOpts := []localrepo.Option{localrepo.WithUnsupportedCategories(cfg.UnsupportedCategories...)}
	switch cfg.LocalRepository {
	case config.RepositoryMemory:
		repo = localrepo.NewMemory(repoOpts...)
	case config.RepositorySQLite:
		if a.sqlite, err = localrepo.OpenSQLite(ctx, cfg.SQLitePath, repoOpts...); err != nil {
			return nil, fmt.Errorf("local repository: %w", err)
		}
		repo = a.sqlite
	}

	// Registry: restore what the repository already holds, then lay the
	// open types over it.
	a.registry = registry.New(repo != nil, cfg.MaxHierarchyDepth, logger)
	if err := a.registry.RegisterMetrics(); err != nil {
		logger.Warn("ruikei: registry metrics unavailable", "error", err)
	}
	if repo != nil {
		restored, err := restoreRegistry(ctx, a.registry, repo, logger)
		if err != nil {
			return nil, fmt.Errorf("restore registry: %w", err)
		}
		if restored > 0 {
			logger.Info("registry: restored from local repository", "definitions", restored)
		}
	}
	arc, err := loadArchive(cfg.ArchivePath)
	if err != nil {
		return nil, err
	}
	var seedRepo archive.Repository
	if repo != nil {
		seedRepo = repo
	}
	if _, err := arc.Seed(ctx, a.registry, seedRepo, logger); err != nil {
		return nil, fmt.Errorf("seed registry: %w", err)
	}

	// Review queue.
	var reviews pendingQueue = review.NewMemory()
	if a.db != nil {
		reviews = storage.NewReviewQueue(a.db)
	}

	// Audit sinks.
	sinks := auditlog.Multi{auditlog.NewLogSink(logger)}
	if a.db != nil {
		a.auditBuf = auditlog.NewBuffer(a.db, logger, cfg.AuditBufferSize, cfg.AuditFlushTimeout)
		sinks = append(sinks, a.auditBuf)
	}
	for _, s := range o.noticeSinks {
		sinks = append(sinks, noticeSinkAdapter{sink: s})
	}

	// Cohort transport.
	var emitter reconcile.EventEmitter
	if cfg.NATSURL != "" {
		if a.nc, err = cohort.Connect(cfg.NATSURL, "ruikei-"+cfg.ServerName, logger); err != nil {
			return nil, err
		}
		emitter = cohort.NewEmitter(a.nc, cfg.SubjectPrefix, cfg.Originator(), logger)
	} else {
		logger.Info("cohort: disabled (no NATS_URL), events accepted over HTTP only")
	}

	broker := server.NewBroker(logger)
	engineCfg := reconcile.Config{
		Cache:             a.registry,
		Emitter:           emitter,
		Audit:             sinks,
		Reviews:           reviews,
		ReviewHook:        a.reviewHook(broker, o.reviewHooks),
		LocalCollectionID: cfg.MetadataCollectionID,
		Logger:            logger,
	}
	if repo != nil {
		engineCfg.Repository = repo
	}
	if a.engine, err = reconcile.New(engineCfg); err != nil {
		return nil, err
	}

	// Redelivered events stop at the dedup layer when Postgres is available.
	var inbound cohort.Inbound = a.engine
	if a.db != nil {
		inbound = cohort.NewDedup(a.db, a.engine, logger)
	}
	if a.nc != nil {
		a.listener = cohort.NewListener(a.nc, cfg.SubjectPrefix, cfg.Cohorts, inbound, logger)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	keyring, err := auth.ParseKeyring(cfg.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if keyring.Len() == 0 {
		logger.Warn("auth: no RUIKEI_API_KEYS configured, token exchange disabled")
	}

	if cfg.RateLimitEnabled {
		a.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		a.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(mcp.Deps{
		Registry:   a.registry,
		Reviews:    a.engine,
		OnResolved: broker.ReviewResolved,
		Logger:     logger,
		Version:    version,
	})

	srvCfg := server.ServerConfig{
		Registry:            a.registry,
		Engine:              a.engine,
		Inbound:             inbound,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Keyring:             keyring,
		Pending:             reviews,
		Broker:              broker,
		Limiter:             a.limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Cohorts:             cfg.Cohorts,
		LocalRepository:     cfg.LocalRepository,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}
	if a.db != nil {
		srvCfg.DB = a.db
		srvCfg.Audit = a.db
		srvCfg.AuditDepth = a.auditBuf.Len
	}
	if a.sqlite != nil {
		srvCfg.Repository = a.sqlite
	}
	a.srv = server.New(srvCfg)

	ok = true
	return a, nil
}

// Run starts the background workers and the HTTP server, then blocks until
// ctx is cancelled or one of them fails. On return, resources are released;
// callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.auditBuf != nil {
		a.auditBuf.Start(gctx)
	}
	if a.listener != nil {
		g.Go(func() error { return a.listener.Run(gctx) })
	}
	if a.db != nil {
		g.Go(func() error {
			a.maintenanceLoop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(httpCtx); err != nil {
			a.logger.Error("http shutdown error", "error", err)
		}
		return nil
	})

	err := g.Wait()
	a.Shutdown(context.Background())
	return err
}

// Shutdown drains the audit buffer and closes every connection. Run calls it
// after the HTTP server has stopped.
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Info("ruikei shutting down")
	if a.auditBuf != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		a.auditBuf.Drain(drainCtx)
		cancel()
	}
	a.closeResources(ctx)
	a.logger.Info("ruikei stopped")
}

func (a *App) closeResources(ctx context.Context) {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("cohort: drain connection", "error", err)
		}
	}
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("local repository: close", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
}

// maintenanceLoop prunes delivery records and expired audit notices.
func (a *App) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runMaintenance(ctx)
		}
	}
}

func (a *App) runMaintenance(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if n, err := a.db.CleanupDeliveries(opCtx, a.cfg.DeliveryRetention, inProgressDeliveryTTL); err != nil {
		a.logger.Warn("maintenance: delivery cleanup failed", "error", err)
	} else if n > 0 {
		a.logger.Info("maintenance: delivery records removed", "count", n)
	}

	if a.cfg.AuditRetention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-a.cfg.AuditRetention)
	if n, err := a.db.PurgeAuditNotices(opCtx, cutoff); err != nil {
		a.logger.Warn("maintenance: audit purge failed", "error", err)
	} else if n > 0 {
		a.logger.Info("maintenance: audit notices purged", "count", n, "cutoff", cutoff)
	}
}

// reviewHook fans a queued review out to Postgres LISTENers, the SSE broker
// and any registered public hooks.
func (a *App) reviewHook(broker *server.Broker, hooks []ReviewHook) reconcile.ReviewHook {
	return func(ctx context.Context, r model.Review) {
		if a.db != nil {
			if err := a.db.Notify(ctx, storage.ChannelReviews, r.ID.String()); err != nil {
				a.logger.Warn("review notify failed", "review_id", r.ID, "error", err)
			}
		}
		broker.ReviewQueued(ctx, r)

		if len(hooks) == 0 {
			return
		}
		pub := toPublicReview(r)
		logger := a.logger
		go func() {
			hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, h := range hooks {
				if err := h.OnReviewQueued(hookCtx, pub); err != nil {
					logger.Warn("review hook OnReviewQueued failed", "review_id", pub.ID, "error", err)
				}
			}
		}()
	}
}

// restoreRegistry caches every definition the repository holds as active.
// Definitions arrive in no particular order, so a type whose super-type is
// not cached yet is retried until a pass makes no progress.
func restoreRegistry(ctx context.Context, reg *registry.Registry, repo localRepository, logger *slog.Logger) (int, error) {
	attrs, err := repo.ListAttributeTypeDefs(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, at := range attrs {
		if reg.PutAttributeTypeDef(at, true) {
			restored++
		} else {
			logger.Warn("registry: stored attribute type not restored", "type_guid", at.GUID, "type_name", at.Name)
		}
	}

	pending, err := repo.ListTypeDefs(ctx)
	if err != nil {
		return restored, err
	}
	for len(pending) > 0 {
		var retry []model.TypeDef
		for _, def := range pending {
			if reg.Put(def, true) {
				restored++
			} else {
				retry = append(retry, def)
			}
		}
		if len(retry) == len(pending) {
			for _, def := range retry {
				logger.Warn("registry: stored type not restored", "type_guid", def.GUID, "type_name", def.Name)
			}
			break
		}
		pending = retry
	}
	return restored, nil
}

func loadArchive(path string) (*archive.Archive, error) {
	if path == "" {
		return archive.Core()
	}
	return archive.Load(path)
}

// noticeSinkAdapter exposes a public NoticeSink as a reconcile.AuditSink.
type noticeSinkAdapter struct {
	sink NoticeSink
}

func (a noticeSinkAdapter) Record(ctx context.Context, n reconcile.Notice) {
	a.sink.OnNotice(ctx, toPublicNotice(n))
}

func toPublicReview(r model.Review) Review {
	return Review{
		ID:          r.ID,
		Kind:        string(r.Kind),
		Cohort:      r.CohortName,
		Originator:  r.Originator.MetadataCollectionID,
		TypeDefGUID: r.TypeDefGUID,
		TypeDefName: r.TypeDefName,
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt,
	}
}

func toPublicNotice(n reconcile.Notice) Notice {
	return Notice{
		Code:       n.Code,
		Severity:   string(n.Severity),
		Message:    n.Message,
		Cohort:     n.Cohort,
		TypeGUID:   n.TypeGUID,
		TypeName:   n.TypeName,
		OccurredAt: n.OccurredAt,
	}
}
