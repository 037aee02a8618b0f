package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
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

func TestValidate_InvalidTypes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"anchoring", func(c *Config) { c.Anchoring.Type = "postgres" }},
		{"bricks", func(c *Config) { c.Bricks.Type = "ipfs" }},
		{"versionless", func(c *Config) { c.Versionless.Type = "" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
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

func TestValidate_Ports(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for out-of-range port")
	}

	cfg = GetDefaultConfig()
	cfg.Server.Metrics.Enabled = true
	cfg.Server.Metrics.Port = cfg.Server.Port
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for shared port")
	}
	if !strings.Contains(err.Error(), "already used") {
		t.Errorf("Expected port conflict error, got: %v", err)
	}
}

func TestValidate_Domains(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Domains = append(cfg.Domains, DomainConfig{Name: "default"})
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for duplicate domain")
	}
	if !strings.Contains(err.Error(), "duplicate domain") {
		t.Errorf("Expected duplicate domain error, got: %v", err)
	}

	cfg = GetDefaultConfig()
	cfg.Domains[0].Bricking = []string{"not a url"}
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for malformed endpoint")
	}
}

func TestValidate_RemoteNeedsEndpoints(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Domains = nil
	cfg.Anchoring.Type = "remote"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for remote anchoring without endpoints")
	}
	if !strings.Contains(err.Error(), "anchoring endpoints") {
		t.Errorf("Unexpected error: %v", err)
	}

	cfg.Anchoring.Type = "memory"
	cfg.Versionless.Type = "remote"
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for remote versionless without endpoints")
	}
}
