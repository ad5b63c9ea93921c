package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	providers := make(map[string]bool)
	for i, p := range cfg.Repository.Providers {
		if providers[p.Name] {
			return fmt.Errorf("repository.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		providers[p.Name] = true

		if len(p.Sources) == 0 {
			return fmt.Errorf("repository.providers[%d]: provider %q has no sources", i, p.Name)
		}
	}

	// Archives, S3 trees and the overlay share one tree namespace
	trees := map[string]bool{cfg.Repository.Name: true}
	for i, a := range cfg.Repository.Archives {
		if trees[a.Name] {
			return fmt.Errorf("repository.archives[%d]: tree name %q already in use", i, a.Name)
		}
		trees[a.Name] = true
	}
	for i, s := range cfg.Repository.S3 {
		if trees[s.Name] {
			return fmt.Errorf("repository.s3[%d]: tree name %q already in use", i, s.Name)
		}
		trees[s.Name] = true

		creds := s.Credentials
		if (creds.AccessKeyID == "") != (creds.SecretAccessKey == "") {
			return fmt.Errorf("repository.s3[%d]: access_key_id and secret_access_key must be set together", i)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics: port is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
