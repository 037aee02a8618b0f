package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dittodsu configuration.
//
// This structure captures all configurable aspects of a dittodsu node:
//   - Logging configuration
//   - Endpoint server and metrics settings
//   - Anchoring persistence selection (store-specific)
//   - Brick and versionless blob storage selection (store-specific)
//   - Domain directory used by the remote clients
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTODSU_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each backend defines its own options, decoded with mapstructure from the
// type-specific section (e.g. bricks.filesystem, anchoring.badger). Only the
// section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the endpoint server started by "dsu serve"
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Anchoring selects where anchor version lists are persisted
	Anchoring AnchoringConfig `mapstructure:"anchoring" yaml:"anchoring"`

	// Bricks selects where bricks are stored
	Bricks StoreConfig `mapstructure:"bricks" yaml:"bricks"`

	// Versionless selects where versionless blobs are stored
	Versionless StoreConfig `mapstructure:"versionless" yaml:"versionless"`

	// Domains lists the endpoints serving each domain (remote backends only)
	Domains []DomainConfig `mapstructure:"domains" yaml:"domains" validate:"dive"`

	// Transport configures the HTTP client used by remote backends
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Cache configures the resolver instance cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig configures the endpoint server.
type ServerConfig struct {
	// Port is the TCP port serving /anchor, /bricking and /versionlessdsu
	Port int `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`

	// VersionlessDomain is the domain used for /versionlessdsu requests
	VersionlessDomain string `mapstructure:"versionless_domain" yaml:"versionless_domain" validate:"required"`

	// MaxBodySize bounds request bodies in bytes
	MaxBodySize int64 `mapstructure:"max_body_size" yaml:"max_body_size" validate:"gt=0"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns metrics collection and the metrics server on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port of the metrics server
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// AnchoringConfig specifies the anchoring persistence.
type AnchoringConfig struct {
	// Type specifies which persistence implementation to use
	// Valid values: memory, badger, leveldb, remote
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger leveldb remote"`

	// VerifyHistory verifies every entry of a chain on each read
	// (trust level zero). Appends are always verified.
	VerifyHistory bool `mapstructure:"verify_history" yaml:"verify_history"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// LevelDB contains LevelDB-specific configuration
	// Only used when Type = "leveldb"
	LevelDB map[string]any `mapstructure:"leveldb" yaml:"leveldb,omitempty"`
}

// StoreConfig selects the object store behind bricks or versionless blobs.
type StoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: memory, filesystem, s3, remote
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem s3 remote"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// DomainConfig lists the base URLs serving a domain.
type DomainConfig struct {
	// Name is the domain name used in identifiers
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Anchoring lists base URLs of the anchoring endpoints
	Anchoring []string `mapstructure:"anchoring" yaml:"anchoring" validate:"dive,url"`

	// Bricking lists base URLs of the bricking and versionless endpoints
	Bricking []string `mapstructure:"bricking" yaml:"bricking" validate:"dive,url"`
}

// TransportConfig configures the HTTP client of remote backends.
type TransportConfig struct {
	// Timeout bounds each request
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`

	// RequestsPerSecond limits requests per endpoint (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the per-endpoint burst size
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// CacheConfig configures the resolver cache of live instances.
type CacheConfig struct {
	// Enabled turns the cache on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// TTL is how long an unused instance stays cached
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTODSU_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
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
	// Example: DITTODSU_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTODSU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment variables only reach keys viper already knows about
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.port", "server.shutdown_timeout", "server.metrics.enabled", "server.metrics.port",
		"anchoring.type", "bricks.type", "versionless.type", "cache.enabled", "cache.ttl",
	} {
		_ = v.BindEnv(key)
	}

	// Booleans whose zero value is not the default
	v.SetDefault("cache.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittodsu/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			// Explicit path that does not exist: defaults apply
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
		return filepath.Join(xdgConfig, "dittodsu")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittodsu")
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
