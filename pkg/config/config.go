package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/layerfs/pkg/gc"
	"github.com/spf13/viper"
)

// Config represents the complete layerfs configuration.
//
// This structure captures all configurable aspects of a layerfs instance:
//   - Logging configuration
//   - The repository: writable tree, attribute persistence, layer providers
//     and the extra named trees (archives, S3 buckets) exposed through locators
//   - Lock retry policy, MIME resolution and attribute garbage collection
//   - Metrics exposure
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (LAYERFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Tree and attribute store sections carry a type selector and an options map.
// The options map is decoded into the implementation's own configuration type
// by the matching factory, so each implementation owns its option names.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Repository describes the overlay and the trees around it
	Repository RepositoryConfig `mapstructure:"repository"`

	// Locks tunes retries of reads failing on transient medium locks
	Locks LocksConfig `mapstructure:"locks"`

	// MIME configures the MIME resolution chain
	MIME MIMEConfig `mapstructure:"mime"`

	// GC configures attribute garbage collection
	GC gc.Config `mapstructure:"gc"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// RepositoryConfig describes the overlay built by the repository.
type RepositoryConfig struct {
	// Name is the overlay's tree name, used in events and locators
	Name string `mapstructure:"name" validate:"required"`

	// Writable is the mutable top tree
	Writable WritableConfig `mapstructure:"writable"`

	// Attributes selects where node attributes are persisted
	Attributes AttributesConfig `mapstructure:"attributes"`

	// Providers contribute read-only layers, later providers taking precedence
	Providers []ProviderConfig `mapstructure:"providers" validate:"dive"`

	// Archives are zip files exposed read-only as named trees
	Archives []ArchiveConfig `mapstructure:"archives" validate:"dive"`

	// S3 buckets exposed as named trees
	S3 []S3Config `mapstructure:"s3" validate:"dive"`
}

// WritableConfig selects the writable tree implementation.
type WritableConfig struct {
	// Type selects the implementation
	// Valid values: memory, filesystem, none
	Type string `mapstructure:"type" validate:"required,oneof=memory filesystem none"`

	// Options are passed to the implementation's factory.
	// filesystem: path (required), read_only
	Options map[string]any `mapstructure:"options"`
}

// AttributesConfig selects the attribute store implementation.
//
// Every tree gets its own store. Badger stores live in one subdirectory of
// db_path per tree.
type AttributesConfig struct {
	// Type selects the implementation
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Options are passed to the implementation's factory.
	// badger: db_path (required unless in_memory), in_memory, block_cache_size_mb
	Options map[string]any `mapstructure:"options"`
}

// ProviderConfig declares a layer provider reading descriptor files.
type ProviderConfig struct {
	// Name identifies the provider; must be unique
	Name string `mapstructure:"name" validate:"required"`

	// Sources are XML or YAML layer descriptor files, lowest precedence first
	Sources []string `mapstructure:"sources"`

	// Watch refreshes the provider when one of its sources changes
	Watch bool `mapstructure:"watch"`
}

// ArchiveConfig exposes a zip archive as a read-only tree.
type ArchiveConfig struct {
	// Name is the tree name
	Name string `mapstructure:"name" validate:"required"`

	// Path is the archive file
	Path string `mapstructure:"path" validate:"required"`
}

// S3Config exposes an S3 bucket (or prefix) as a tree.
type S3Config struct {
	// Name is the tree name
	Name string `mapstructure:"name" validate:"required"`

	// Bucket is the S3 bucket name
	Bucket string `mapstructure:"bucket" validate:"required"`

	// Region is the AWS region (default: us-east-1)
	Region string `mapstructure:"region"`

	// KeyPrefix scopes the tree to a prefix of the bucket
	KeyPrefix string `mapstructure:"key_prefix"`

	// Endpoint overrides the S3 endpoint (Localstack, MinIO, ...)
	Endpoint string `mapstructure:"endpoint"`

	// ForcePathStyle uses path-style addressing, needed by most S3-compatible servers
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// ReadOnly refuses all mutations
	ReadOnly bool `mapstructure:"read_only"`

	// MaxRetries bounds SDK retries of failed requests (default: 3)
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// Credentials are static credentials. Empty uses the default AWS chain.
	Credentials S3CredentialsConfig `mapstructure:"credentials"`
}

// S3CredentialsConfig holds static S3 credentials.
type S3CredentialsConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// LocksConfig tunes how reads react to transient medium locking.
type LocksConfig struct {
	// ReadRetries is how many times a locked read is retried
	ReadRetries int `mapstructure:"read_retries" validate:"gte=0"`

	// RetryInterval paces the retries
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gte=0"`
}

// MIMEConfig configures the MIME resolution chain.
type MIMEConfig struct {
	// CacheSize bounds the number of cached results
	CacheSize int `mapstructure:"cache_size" validate:"gte=1"`

	// Sniff appends a content-sniffing resolver after the configured ones
	Sniff bool `mapstructure:"sniff"`

	// Descriptors are YAML resolver descriptor files, consulted in order
	Descriptors []string `mapstructure:"descriptors"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port for the HTTP endpoint
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment variables, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (LAYERFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded, defaulted and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the LAYERFS_ prefix and underscores
	// Example: LAYERFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("LAYERFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"repository.name", "repository.writable.type", "repository.attributes.type",
		"locks.read_retries", "locks.retry_interval",
		"mime.cache_size", "mime.sniff",
		"gc.enabled", "gc.interval", "gc.dry_run",
		"metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/layerfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file: defaults and environment only
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "layerfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "layerfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
