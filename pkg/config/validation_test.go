package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_StoreTypes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown writable type", func(c *Config) { c.Repository.Writable.Type = "nfs" }},
		{"unknown attribute store", func(c *Config) { c.Repository.Attributes.Type = "postgres" }},
		{"empty repository name", func(c *Config) { c.Repository.Name = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			if err := Validate(cfg); err == nil {
				t.Fatal("Expected validation error")
			}
		})
	}
}

func TestValidate_DuplicateProviderNames(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Repository.Providers = []ProviderConfig{
		{Name: "base", Sources: []string{"a.xml"}},
		{Name: "base", Sources: []string{"b.xml"}},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for duplicate provider names")
	}
	if !strings.Contains(err.Error(), "duplicate provider name") {
		t.Errorf("Expected 'duplicate provider name' error, got: %v", err)
	}
}

func TestValidate_ProviderWithoutSources(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Repository.Providers = []ProviderConfig{{Name: "empty"}}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for provider without sources")
	}
	if !strings.Contains(err.Error(), "no sources") {
		t.Errorf("Expected 'no sources' error, got: %v", err)
	}
}

func TestValidate_ProviderNameRequired(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Repository.Providers = []ProviderConfig{{Sources: []string{"a.xml"}}}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unnamed provider")
	}
}

func TestValidate_TreeNamesAreUnique(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Repository.Archives = []ArchiveConfig{{Name: "layerfs", Path: "a.zip"}}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for archive named after the overlay")
	}
	if !strings.Contains(err.Error(), "already in use") {
		t.Errorf("Expected 'already in use' error, got: %v", err)
	}
}

func TestValidate_S3(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Repository.S3 = []S3Config{{Name: "remote"}}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for S3 tree without bucket")
	}

	cfg.Repository.S3[0].Bucket = "layers"
	cfg.Repository.S3[0].Credentials.AccessKeyID = "AKIA"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for half-configured credentials")
	}
	if !strings.Contains(err.Error(), "must be set together") {
		t.Errorf("Expected credentials error, got: %v", err)
	}

	cfg.Repository.S3[0].Credentials.SecretAccessKey = "secret"
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected complete S3 config to pass, got: %v", err)
	}
}

func TestValidate_MetricsPortRequiredWhenEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for enabled metrics without port")
	}

	cfg.Metrics.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for out of range port")
	}

	cfg.Metrics.Port = 9100
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid metrics config, got: %v", err)
	}
}

func TestValidate_NegativeLockRetries(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Locks.ReadRetries = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative read retries")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "Info", "WARN", "error"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level
		ApplyDefaults(cfg)

		if err := Validate(cfg); err != nil {
			t.Errorf("Level %q should be accepted: %v", level, err)
		}
	}
}
