package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"
)

const configHeader = `# dittodsu Configuration File
#
# Sources, highest precedence first: environment variables (DITTODSU_*),
# this file, built-in defaults.
#
# Backends:
#   anchoring.type:   memory | badger | leveldb | remote
#   bricks.type:      memory | filesystem | s3 | remote
#   versionless.type: memory | filesystem | s3 | remote
#
# Remote backends look endpoints up in the domains list. "dsu serve" exposes
# the local backends on server.port for other nodes to use as remote.

`

// InitConfig writes a default configuration file to the default location and
// returns its path.
//
// Returns an error if the file already exists, unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := WriteDefaultConfig(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// WriteDefaultConfig writes the default configuration to path.
func WriteDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	body, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := renameio.WriteFile(path, append([]byte(configHeader), body...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
