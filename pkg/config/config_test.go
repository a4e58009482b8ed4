package config

import (
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{
			name:         "returns true for 'true'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "true",
			want:         true,
		},
		{
			name:         "returns true for '1'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "1",
			want:         true,
		},
		{
			name:         "returns false for 'false'",
			key:          "TEST_BOOL",
			defaultValue: true,
			envValue:     "false",
			want:         false,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_BOOL_NOT_SET",
			defaultValue: true,
			envValue:     "",
			want:         true,
		},
		{
			name:         "returns true for 'TRUE' (case insensitive)",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "TRUE",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns parsed value",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "42",
			want:         42,
		},
		{
			name:         "returns default for invalid value",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "not-a-number",
			want:         10,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOT_SET",
			defaultValue: 10,
			envValue:     "",
			want:         10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns parsed duration",
			key:          "TEST_DURATION",
			defaultValue: time.Minute,
			envValue:     "45s",
			want:         45 * time.Second,
		},
		{
			name:         "returns default for invalid duration",
			key:          "TEST_DURATION",
			defaultValue: time.Minute,
			envValue:     "later",
			want:         time.Minute,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOT_SET",
			defaultValue: time.Minute,
			envValue:     "",
			want:         time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"ERROR", observability.ErrorLevel},
		{"unknown", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := parseLogLevel(tt.level); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

// TestParseTrackedEntities tests tracked entity parsing
func TestParseTrackedEntities(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []TrackedEntity
	}{
		{
			name:  "empty value",
			value: "",
			want:  nil,
		},
		{
			name:  "bare names",
			value: "shop.Product,shop.Order",
			want: []TrackedEntity{
				{Name: "shop.Product"},
				{Name: "shop.Order"},
			},
		},
		{
			name:  "full directives",
			value: "shop.Product:include=name|price:exclude=updated_at:mask=secret",
			want: []TrackedEntity{
				{
					Name:          "shop.Product",
					IncludeFields: []string{"name", "price"},
					ExcludeFields: []string{"updated_at"},
					MaskFields:    []string{"secret"},
				},
			},
		},
		{
			name:  "skips empty entries and unknown directives",
			value: "shop.Product:color=red,,shop.Order:mask=card_number",
			want: []TrackedEntity{
				{Name: "shop.Product"},
				{Name: "shop.Order", MaskFields: []string{"card_number"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTrackedEntities(tt.value)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseTrackedEntities(%q) = %+v, want %+v", tt.value, got, tt.want)
			}
		})
	}
}

// TestLoadConfigDefaults tests loading with default values
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Server.HealthPort = %v, want 9090", cfg.Server.HealthPort)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %v, want postgres", cfg.Database.Driver)
	}
	if cfg.Audit.Table != "audit_entries" {
		t.Errorf("Audit.Table = %v, want audit_entries", cfg.Audit.Table)
	}
	if cfg.CID.Header != "X-Correlation-ID" {
		t.Errorf("CID.Header = %v, want X-Correlation-ID", cfg.CID.Header)
	}
	if cfg.Partition.AheadMonths != 1 {
		t.Errorf("Partition.AheadMonths = %v, want 1", cfg.Partition.AheadMonths)
	}
	if cfg.Partition.RetentionMonths != 0 {
		t.Errorf("Partition.RetentionMonths = %v, want 0", cfg.Partition.RetentionMonths)
	}
	if !cfg.Observability.MetricsEnabled {
		t.Error("Observability.MetricsEnabled should default to true")
	}
	if cfg.Observability.OTelEnabled {
		t.Error("Observability.OTelEnabled should default to false")
	}
}

// TestLoadConfigFromEnv tests loading with environment overrides
func TestLoadConfigFromEnv(t *testing.T) {
	os.Setenv("CHRONICLE_PORT", "8888")
	os.Setenv("CHRONICLE_AUDIT_TABLE", "audit_log")
	os.Setenv("CHRONICLE_DISABLE_ON_RAW_LOAD", "true")
	os.Setenv("CHRONICLE_TRACKED_ENTITIES", "shop.Product:mask=secret")
	os.Setenv("CHRONICLE_PARTITION_RETENTION_MONTHS", "6")
	defer func() {
		os.Unsetenv("CHRONICLE_PORT")
		os.Unsetenv("CHRONICLE_AUDIT_TABLE")
		os.Unsetenv("CHRONICLE_DISABLE_ON_RAW_LOAD")
		os.Unsetenv("CHRONICLE_TRACKED_ENTITIES")
		os.Unsetenv("CHRONICLE_PARTITION_RETENTION_MONTHS")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8888" {
		t.Errorf("Server.Port = %v, want 8888", cfg.Server.Port)
	}
	if cfg.Audit.Table != "audit_log" {
		t.Errorf("Audit.Table = %v, want audit_log", cfg.Audit.Table)
	}
	if !cfg.Audit.DisableOnRawLoad {
		t.Error("Audit.DisableOnRawLoad should be true")
	}
	if len(cfg.Audit.TrackedEntities) != 1 || cfg.Audit.TrackedEntities[0].Name != "shop.Product" {
		t.Errorf("Audit.TrackedEntities = %+v, want shop.Product", cfg.Audit.TrackedEntities)
	}
	if cfg.Partition.RetentionMonths != 6 {
		t.Errorf("Partition.RetentionMonths = %v, want 6", cfg.Partition.RetentionMonths)
	}
}

// TestLoadConfigTrackAll tests the track-all env surface
func TestLoadConfigTrackAll(t *testing.T) {
	os.Setenv("CHRONICLE_TRACK_ALL_DEFAULT", "true")
	os.Setenv("CHRONICLE_EXCLUDE_ENTITIES", "internal.Secret, internal.Session")
	defer func() {
		os.Unsetenv("CHRONICLE_TRACK_ALL_DEFAULT")
		os.Unsetenv("CHRONICLE_EXCLUDE_ENTITIES")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !cfg.Audit.TrackAllDefault {
		t.Error("Audit.TrackAllDefault should be true")
	}
	want := []string{"internal.Secret", "internal.Session"}
	if !reflect.DeepEqual(cfg.Audit.ExcludeEntities, want) {
		t.Errorf("Audit.ExcludeEntities = %v, want %v", cfg.Audit.ExcludeEntities, want)
	}
}

// TestLoadConfigExcludeWithoutTrackAll tests that exclusions alone abort load
func TestLoadConfigExcludeWithoutTrackAll(t *testing.T) {
	os.Setenv("CHRONICLE_EXCLUDE_ENTITIES", "internal.Secret")
	defer os.Unsetenv("CHRONICLE_EXCLUDE_ENTITIES")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() should fail when exclusions are set without track all")
	}
}

// TestConfigValidate tests configuration validation
func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{
				Port:       "8080",
				HealthPort: "9090",
			},
			Database: DatabaseConfig{Driver: "postgres"},
			Partition: PartitionConfig{
				AheadMonths: 1,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing server port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: true,
		},
		{
			name:    "same server and health port",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: true,
		},
		{
			name:    "missing database driver",
			mutate:  func(c *Config) { c.Database.Driver = "" },
			wantErr: true,
		},
		{
			name: "empty tracked entity name",
			mutate: func(c *Config) {
				c.Audit.TrackedEntities = []TrackedEntity{{Name: ""}}
			},
			wantErr: true,
		},
		{
			name: "exclude entities without track all",
			mutate: func(c *Config) {
				c.Audit.ExcludeEntities = []string{"internal.Secret"}
			},
			wantErr: true,
		},
		{
			name: "exclude entities with track all",
			mutate: func(c *Config) {
				c.Audit.TrackAllDefault = true
				c.Audit.ExcludeEntities = []string{"internal.Secret"}
			},
			wantErr: false,
		},
		{
			name:    "negative ahead months",
			mutate:  func(c *Config) { c.Partition.AheadMonths = -1 },
			wantErr: true,
		},
		{
			name:    "negative retention months",
			mutate:  func(c *Config) { c.Partition.RetentionMonths = -3 },
			wantErr: true,
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "chronicle"
			},
			wantErr: true,
		},
		{
			name: "otel enabled with endpoint and name",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = "localhost:4317"
				c.Observability.OTelServiceName = "chronicle"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
