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
	// Domain names are unique
	names := make(map[string]bool)
	for i, domain := range cfg.Domains {
		if names[domain.Name] {
			return fmt.Errorf("domains[%d]: duplicate domain name %q", i, domain.Name)
		}
		names[domain.Name] = true
	}

	// Remote backends need at least one endpoint of the matching service
	if cfg.Anchoring.Type == "remote" && !anyEndpoint(cfg.Domains, func(d DomainConfig) []string { return d.Anchoring }) {
		return fmt.Errorf("anchoring: type remote requires at least one domain with anchoring endpoints")
	}
	hasBricking := anyEndpoint(cfg.Domains, func(d DomainConfig) []string { return d.Bricking })
	if cfg.Bricks.Type == "remote" && !hasBricking {
		return fmt.Errorf("bricks: type remote requires at least one domain with bricking endpoints")
	}
	if cfg.Versionless.Type == "remote" && !hasBricking {
		return fmt.Errorf("versionless: type remote requires at least one domain with bricking endpoints")
	}

	// The metrics server cannot share the endpoint port
	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by the endpoint server", cfg.Server.Port)
	}

	return nil
}

func anyEndpoint(domains []DomainConfig, endpoints func(DomainConfig) []string) bool {
	for _, d := range domains {
		if len(endpoints(d)) > 0 {
			return true
		}
	}
	return false
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
