package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "debug"

anchoring:
  type: "memory"

bricks:
  type: "memory"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Anchoring.Type != "memory" {
		t.Errorf("Expected anchoring type 'memory', got %q", cfg.Anchoring.Type)
	}
	if cfg.Versionless.Type != "filesystem" {
		t.Errorf("Expected default versionless type 'filesystem', got %q", cfg.Versionless.Type)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if !cfg.Cache.Enabled {
		t.Error("Expected cache to be enabled by default")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A path that does not exist keeps ~/.config/dittodsu out of the test
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Anchoring.Type != "badger" {
		t.Errorf("Expected default anchoring type 'badger', got %q", cfg.Anchoring.Type)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Expected default cache ttl 10m, got %v", cfg.Cache.TTL)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[anchoring]
type = "remote"

[cache]
enabled = false

[[domains]]
name = "default"
anchoring = ["http://anchors.example.com"]
bricking = ["http://bricks.example.com"]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Cache.Enabled {
		t.Error("Expected cache to be disabled")
	}
	if len(cfg.Domains) != 1 || cfg.Domains[0].Anchoring[0] != "http://anchors.example.com" {
		t.Errorf("Unexpected domains: %+v", cfg.Domains)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("DITTODSU_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTODSU_ANCHORING_TYPE", "leveldb")

	cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level from environment 'ERROR', got %q", cfg.Logging.Level)
	}
	if cfg.Anchoring.Type != "leveldb" {
		t.Errorf("Expected anchoring type from environment 'leveldb', got %q", cfg.Anchoring.Type)
	}
}

func TestLoad_RemoteWithoutEndpoints(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("bricks:\n  type: remote\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for remote bricks without endpoints")
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	path := GetDefaultConfigPath()
	if path != filepath.Join("/xdg", "dittodsu", "config.yaml") {
		t.Errorf("Unexpected default config path %q", path)
	}
	if GetConfigDir() != filepath.Join("/xdg", "dittodsu") {
		t.Errorf("Unexpected config dir %q", GetConfigDir())
	}
}
