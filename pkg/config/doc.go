// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	CHRONICLE_HOST="0.0.0.0"
//	CHRONICLE_PORT="8080"
//	CHRONICLE_HEALTH_PORT="9090"
//	CHRONICLE_READ_TIMEOUT="15s"
//	CHRONICLE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	CHRONICLE_DATABASE_URL="postgres://localhost/chronicle"
//	CHRONICLE_DATABASE_DRIVER="postgres"
//	CHRONICLE_DATABASE_MAX_OPEN_CONNS="25"
//
// Audit settings:
//
//	CHRONICLE_AUDIT_TABLE="audit_entries"
//	CHRONICLE_DISABLE_ON_RAW_LOAD="false"
//	CHRONICLE_TRACK_ALL_DEFAULT="false"
//	CHRONICLE_EXCLUDE_ENTITIES="internal.Secret,internal.Session"
//	CHRONICLE_TRACKED_ENTITIES="shop.Product:include=name|price:mask=secret"
//	CHRONICLE_CID_HEADER="X-Correlation-ID"
//
// Partition settings:
//
//	CHRONICLE_PARTITION_AHEAD_MONTHS="1"
//	CHRONICLE_PARTITION_RETENTION_MONTHS="12"
//
// Observability settings:
//
//	CHRONICLE_LOG_LEVEL="info"  # debug, info, warn, error
//	CHRONICLE_METRICS_ENABLED="true"
//	CHRONICLE_OTEL_ENABLED="true"
//	CHRONICLE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Audit table: %s\n", cfg.Audit.Table)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/audit: Registers tracked entities via ApplyTracking
//   - pkg/observability: Uses observability configuration
package config
