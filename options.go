package ruikei

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	natsURL         string
	archivePath     string
	localRepository string
	logger          *slog.Logger
	version         string
	reviewHooks     []ReviewHook
	noticeSinks     []NoticeSink
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (RUIKEI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNATSURL overrides the cohort transport URL from config (NATS_URL env var).
func WithNATSURL(url string) Option {
	return func(o *resolvedOptions) { o.natsURL = url }
}

// WithArchivePath loads the open types from a YAML archive instead of the
// built-in core archive.
func WithArchivePath(path string) Option {
	return func(o *resolvedOptions) { o.archivePath = path }
}

// WithLocalRepository selects the local repository kind: "none", "memory"
// or "sqlite".
func WithLocalRepository(kind string) Option {
	return func(o *resolvedOptions) { o.localRepository = kind }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithReviewHook registers a hook notified of every queued review.
func WithReviewHook(h ReviewHook) Option {
	return func(o *resolvedOptions) { o.reviewHooks = append(o.reviewHooks, h) }
}

// WithNoticeSink registers an additional audit notice sink.
func WithNoticeSink(s NoticeSink) Option {
	return func(o *resolvedOptions) { o.noticeSinks = append(o.noticeSinks, s) }
}

// WithExtraMigrations adds migrations run after the built-in ones. They are
// skipped when no database is configured.
func WithExtraMigrations(fsys fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, fsys) }
}
