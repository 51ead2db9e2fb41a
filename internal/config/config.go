// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/ruikei/internal/model"
)

// Local repository kinds.
const (
	RepositoryNone   = "none"
	RepositoryMemory = "memory"
	RepositorySQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Empty DatabaseURL keeps reviews in memory and
	// writes audit notices to the log only.
	DatabaseURL string

	// Local repository settings.
	LocalRepository       string // "none", "memory" or "sqlite"
	SQLitePath            string
	UnsupportedCategories []model.TypeDefCategory

	// Local metadata collection identity, stamped on outbound events.
	MetadataCollectionID   string
	MetadataCollectionName string
	ServerName             string
	ServerType             string
	Organization           string

	// Cohort transport. Empty NATSURL runs without a cohort connection.
	Cohorts       []string
	NATSURL       string
	SubjectPrefix string

	// Registry settings.
	ArchivePath       string // Empty loads the built-in core archive.
	MaxHierarchyDepth int

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration
	APIKeys           string // subject:role:argon2-hash entries for /auth/token.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel            string
	AuditBufferSize     int
	AuditFlushTimeout   time.Duration
	AuditRetention      time.Duration // Zero keeps audit notices forever.
	DeliveryRetention   time.Duration
	MaintenanceInterval time.Duration
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.

	// Rate limiting for token exchange (per IP) and event ingest (per subject).
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	str := envStr
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		collect(err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		collect(err)
		return v
	}
	rate := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		collect(err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		collect(err)
		return v
	}

	cfg := Config{
		Port:                   num("RUIKEI_PORT", 8080),
		ReadTimeout:            dur("RUIKEI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:           dur("RUIKEI_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:            str("DATABASE_URL", ""),
		LocalRepository:        str("RUIKEI_LOCAL_REPOSITORY", RepositoryMemory),
		SQLitePath:             str("RUIKEI_SQLITE_PATH", "data/ruikei.db"),
		MetadataCollectionID:   str("RUIKEI_METADATA_COLLECTION_ID", ""),
		MetadataCollectionName: str("RUIKEI_METADATA_COLLECTION_NAME", "ruikei"),
		ServerName:             str("RUIKEI_SERVER_NAME", hostname()),
		ServerType:             str("RUIKEI_SERVER_TYPE", "ruikei"),
		Organization:           str("RUIKEI_ORGANIZATION", ""),
		Cohorts:                envList("RUIKEI_COHORTS"),
		NATSURL:                str("NATS_URL", ""),
		SubjectPrefix:          str("RUIKEI_COHORT_SUBJECT_PREFIX", "ruikei.cohort"),
		ArchivePath:            str("RUIKEI_ARCHIVE_PATH", ""),
		MaxHierarchyDepth:      num("RUIKEI_MAX_HIERARCHY_DEPTH", 64),
		JWTPrivateKeyPath:      str("RUIKEI_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:       str("RUIKEI_JWT_PUBLIC_KEY", ""),
		JWTExpiration:          dur("RUIKEI_JWT_EXPIRATION", 24*time.Hour),
		APIKeys:                str("RUIKEI_API_KEYS", ""),
		OTELEndpoint:           str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:            str("OTEL_SERVICE_NAME", "ruikei"),
		OTELInsecure:           flag("RUIKEI_OTEL_INSECURE", false),
		LogLevel:               str("RUIKEI_LOG_LEVEL", "info"),
		AuditBufferSize:        num("RUIKEI_AUDIT_BUFFER_SIZE", 1000),
		AuditFlushTimeout:      dur("RUIKEI_AUDIT_FLUSH_TIMEOUT", time.Second),
		AuditRetention:         dur("RUIKEI_AUDIT_RETENTION", 90*24*time.Hour),
		DeliveryRetention:      dur("RUIKEI_DELIVERY_RETENTION", 7*24*time.Hour),
		MaintenanceInterval:    dur("RUIKEI_MAINTENANCE_INTERVAL", time.Hour),
		MaxRequestBodyBytes:    int64(num("RUIKEI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		RateLimitEnabled:       flag("RUIKEI_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:           rate("RUIKEI_RATE_LIMIT_RPS", 10),
		RateLimitBurst:         num("RUIKEI_RATE_LIMIT_BURST", 20),
	}
	for _, c := range envList("RUIKEI_UNSUPPORTED_CATEGORIES") {
		cfg.UnsupportedCategories = append(cfg.UnsupportedCategories, model.TypeDefCategory(c))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error
	switch c.LocalRepository {
	case RepositoryNone, RepositoryMemory:
	case RepositorySQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("RUIKEI_SQLITE_PATH is required when RUIKEI_LOCAL_REPOSITORY=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("RUIKEI_LOCAL_REPOSITORY=%q must be none, memory or sqlite", c.LocalRepository))
	}
	for _, cat := range c.UnsupportedCategories {
		if !cat.Valid() {
			errs = append(errs, fmt.Errorf("RUIKEI_UNSUPPORTED_CATEGORIES: unknown category %q", cat))
		}
	}
	if c.NATSURL != "" && len(c.Cohorts) == 0 {
		errs = append(errs, errors.New("RUIKEI_COHORTS is required when NATS_URL is set"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("RUIKEI_PORT=%d is out of range", c.Port))
	}
	if c.MaxHierarchyDepth <= 0 {
		errs = append(errs, errors.New("RUIKEI_MAX_HIERARCHY_DEPTH must be positive"))
	}
	if c.AuditBufferSize <= 0 {
		errs = append(errs, errors.New("RUIKEI_AUDIT_BUFFER_SIZE must be positive"))
	}
	if c.AuditRetention < 0 {
		errs = append(errs, errors.New("RUIKEI_AUDIT_RETENTION must not be negative"))
	}
	if c.MaintenanceInterval <= 0 {
		errs = append(errs, errors.New("RUIKEI_MAINTENANCE_INTERVAL must be positive"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("RUIKEI_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("RUIKEI_RATE_LIMIT_RPS and RUIKEI_RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		errs = append(errs, errors.New("RUIKEI_JWT_PRIVATE_KEY and RUIKEI_JWT_PUBLIC_KEY must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Originator returns the identity this node stamps on the events it sends.
func (c Config) Originator() model.Originator {
	return model.Originator{
		MetadataCollectionID:   c.MetadataCollectionID,
		MetadataCollectionName: c.MetadataCollectionName,
		ServerName:             c.ServerName,
		ServerType:             c.ServerType,
		Organization:           c.Organization,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "ruikei"
	}
	return h
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
