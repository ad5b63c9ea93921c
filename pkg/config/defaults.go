package config

import (
	"strings"
	"time"

	"github.com/marmos91/layerfs/pkg/mime"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Tree and attribute store option defaults are handled by the implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyRepositoryDefaults(&cfg.Repository)
	applyLocksDefaults(&cfg.Locks)
	applyMIMEDefaults(&cfg.MIME)
	applyGCDefaults(cfg)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyRepositoryDefaults(cfg *RepositoryConfig) {
	if cfg.Name == "" {
		cfg.Name = "layerfs"
	}

	if cfg.Writable.Type == "" {
		cfg.Writable.Type = "memory"
	}
	cfg.Writable.Type = strings.ToLower(cfg.Writable.Type)
	if cfg.Writable.Options == nil {
		cfg.Writable.Options = make(map[string]any)
	}

	if cfg.Attributes.Type == "" {
		cfg.Attributes.Type = "memory"
	}
	cfg.Attributes.Type = strings.ToLower(cfg.Attributes.Type)
	if cfg.Attributes.Options == nil {
		cfg.Attributes.Options = make(map[string]any)
	}

	for i := range cfg.S3 {
		if cfg.S3[i].Region == "" {
			cfg.S3[i].Region = "us-east-1"
		}
		if cfg.S3[i].MaxRetries == 0 {
			cfg.S3[i].MaxRetries = 3
		}
	}
}

func applyLocksDefaults(cfg *LocksConfig) {
	if cfg.ReadRetries == 0 {
		cfg.ReadRetries = 3
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
}

func applyMIMEDefaults(cfg *MIMEConfig) {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = mime.DefaultCacheSize
	}
}

func applyGCDefaults(cfg *Config) {
	if cfg.GC.Interval == 0 {
		cfg.GC.Interval = time.Hour
	}
	if cfg.GC.BatchSize == 0 {
		cfg.GC.BatchSize = 256
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Repository: RepositoryConfig{
			Providers: []ProviderConfig{},
		},
		MIME: MIMEConfig{
			Sniff: true,
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
