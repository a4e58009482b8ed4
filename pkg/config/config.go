package config

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Postgres driver registration for Open.
	_ "github.com/lib/pq"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Audit configuration
	Audit AuditConfig

	// Correlation id configuration
	CID CIDConfig

	// Partition management configuration
	Partition PartitionConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string
	Driver          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuditConfig holds audit engine configuration
type AuditConfig struct {
	// Table is the log entry table name.
	Table string

	// DisableOnRawLoad suppresses logging for invocations marked as raw
	// bulk loads.
	DisableOnRawLoad bool

	// TrackAllDefault tracks every entity type with default configuration,
	// without requiring an explicit registration per type.
	TrackAllDefault bool

	// ExcludeEntities carves exceptions out of TrackAllDefault. Setting it
	// without TrackAllDefault is a configuration error.
	ExcludeEntities []string

	// TrackedEntities are entity registrations declared in the
	// environment rather than in code.
	TrackedEntities []TrackedEntity
}

// TrackedEntity is one environment-declared entity registration.
type TrackedEntity struct {
	Name          string
	IncludeFields []string
	ExcludeFields []string
	MaskFields    []string
}

// CIDConfig holds correlation id configuration
type CIDConfig struct {
	Header string
}

// PartitionConfig holds partition management configuration
type PartitionConfig struct {
	// AheadMonths is how many future months to keep partitions for.
	AheadMonths int

	// RetentionMonths is the prune horizon. Zero means retention is not
	// configured and prune refuses to run.
	RetentionMonths int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Audit:         loadAuditConfig(),
		CID:           loadCIDConfig(),
		Partition:     loadPartitionConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CHRONICLE_HOST", "0.0.0.0"),
		Port:            getEnv("CHRONICLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CHRONICLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CHRONICLE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CHRONICLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CHRONICLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CHRONICLE_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("CHRONICLE_DATABASE_URL", ""),
		Driver:          getEnv("CHRONICLE_DATABASE_DRIVER", "postgres"),
		MaxOpenConns:    getEnvInt("CHRONICLE_DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("CHRONICLE_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("CHRONICLE_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// loadAuditConfig loads audit engine configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Table:            getEnv("CHRONICLE_AUDIT_TABLE", "audit_entries"),
		DisableOnRawLoad: getEnvBool("CHRONICLE_DISABLE_ON_RAW_LOAD", false),
		TrackAllDefault:  getEnvBool("CHRONICLE_TRACK_ALL_DEFAULT", false),
		ExcludeEntities:  parseEntityList(getEnv("CHRONICLE_EXCLUDE_ENTITIES", "")),
		TrackedEntities:  parseTrackedEntities(getEnv("CHRONICLE_TRACKED_ENTITIES", "")),
	}
}

// loadCIDConfig loads correlation id configuration from environment
func loadCIDConfig() CIDConfig {
	return CIDConfig{
		Header: getEnv("CHRONICLE_CID_HEADER", "X-Correlation-ID"),
	}
}

// loadPartitionConfig loads partition configuration from environment
func loadPartitionConfig() PartitionConfig {
	return PartitionConfig{
		AheadMonths:     getEnvInt("CHRONICLE_PARTITION_AHEAD_MONTHS", 1),
		RetentionMonths: getEnvInt("CHRONICLE_PARTITION_RETENTION_MONTHS", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("CHRONICLE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CHRONICLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CHRONICLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CHRONICLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CHRONICLE_OTEL_SERVICE_NAME", "chronicle"),
		OTelServiceVersion: getEnv("CHRONICLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CHRONICLE_OTEL_INSECURE", true),
	}
}

// parseEntityList parses a comma-separated list of entity type names.
func parseEntityList(value string) []string {
	if value == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// parseTrackedEntities parses the CHRONICLE_TRACKED_ENTITIES value. Entries
// are comma separated; each entry is an entity name followed by optional
// colon-separated directives whose field lists use | as separator:
//
//	shop.Product:include=name|price:mask=secret,shop.Order:exclude=updated_at
func parseTrackedEntities(value string) []TrackedEntity {
	if value == "" {
		return nil
	}

	var entities []TrackedEntity
	for _, raw := range strings.Split(value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		entity := TrackedEntity{Name: parts[0]}
		for _, directive := range parts[1:] {
			key, fields, found := strings.Cut(directive, "=")
			if !found {
				continue
			}
			names := strings.Split(fields, "|")
			switch key {
			case "include":
				entity.IncludeFields = names
			case "exclude":
				entity.ExcludeFields = names
			case "mask":
				entity.MaskFields = names
			}
		}
		entities = append(entities, entity)
	}
	return entities
}

// Open opens the configured database connection pool.
func (c DatabaseConfig) Open() (*sql.DB, error) {
	db, err := sql.Open(c.Driver, c.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	return db, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}

	// Validate tracked entities
	if len(c.Audit.ExcludeEntities) > 0 && !c.Audit.TrackAllDefault {
		return fmt.Errorf("exclude entities requires track all default to be enabled")
	}
	for _, entity := range c.Audit.TrackedEntities {
		if entity.Name == "" {
			return fmt.Errorf("tracked entity name must not be empty")
		}
	}

	// Validate partition config
	if c.Partition.AheadMonths < 0 {
		return fmt.Errorf("partition ahead months must be zero or positive")
	}
	if c.Partition.RetentionMonths < 0 {
		return fmt.Errorf("partition retention months must be zero or positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
