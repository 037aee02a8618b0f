package config

import (
	"strings"
	"time"
)

// defaultDataDir is the root of the default on-disk layout.
const defaultDataDir = "/tmp/dittodsu"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are filled for every backend section, so a
//     generated config file documents all of them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAnchoringDefaults(&cfg.Anchoring)
	applyStoreDefaults(&cfg.Bricks, "bricks")
	applyStoreDefaults(&cfg.Versionless, "versionless")
	applyTransportDefaults(&cfg.Transport)
	applyCacheDefaults(&cfg.Cache)
	applyDomainDefaults(cfg.Domains)
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

// applyServerDefaults sets endpoint server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.VersionlessDomain == "" {
		cfg.VersionlessDomain = "default"
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 32 << 20 // 32 MiB
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyAnchoringDefaults sets anchoring persistence defaults.
func applyAnchoringDefaults(cfg *AnchoringConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.LevelDB == nil {
		cfg.LevelDB = make(map[string]any)
	}

	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = defaultDataDir + "/anchors-badger"
	}
	if _, ok := cfg.LevelDB["path"]; !ok {
		cfg.LevelDB["path"] = defaultDataDir + "/anchors-leveldb"
	}
}

// applyStoreDefaults sets object store defaults for the bricks or
// versionless section.
func applyStoreDefaults(cfg *StoreConfig, name string) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = defaultDataDir + "/" + name
	}
	if _, ok := cfg.S3["key_prefix"]; !ok {
		cfg.S3["key_prefix"] = "dittodsu/"
	}
}

// applyTransportDefaults sets HTTP client defaults.
func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	// RequestsPerSecond defaults to 0 (unlimited)
	if cfg.RequestsPerSecond > 0 && cfg.Burst == 0 {
		cfg.Burst = cfg.RequestsPerSecond
	}
}

// applyCacheDefaults sets resolver cache defaults.
// Enabled defaults to true through viper.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
}

// applyDomainDefaults initializes nil endpoint lists.
func applyDomainDefaults(domains []DomainConfig) {
	for i := range domains {
		if domains[i].Anchoring == nil {
			domains[i].Anchoring = []string{}
		}
		if domains[i].Bricking == nil {
			domains[i].Bricking = []string{}
		}
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
		Cache: CacheConfig{Enabled: true},
		Domains: []DomainConfig{
			{
				Name:      "default",
				Anchoring: []string{"http://localhost:8080"},
				Bricking:  []string{"http://localhost:8080"},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
