// Package config loads the keyward.yaml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	kwerrors "github.com/keyward/keyward/internal/errors"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/metadata"
)

// DefaultPath is where the CLI looks for configuration when --config is
// not given.
const DefaultPath = "keyward.yaml"

// Config holds the runtime configuration.
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the keyward.yaml structure.
type Definition struct {
	Version      int               `yaml:"version"`
	MetadataFile string            `yaml:"metadataFile"`
	KeySource    KeySourceConfig   `yaml:"keySource"`
	Defaults     RotationDefaults  `yaml:"defaults"`
	Environments map[string]string `yaml:"environments,omitempty"`
}

// KeySourceConfig selects where key material lives.
type KeySourceConfig struct {
	// Type is "file" (default) or "keyring".
	Type string `yaml:"type"`
	// Path is the secret env file for the file backend.
	Path string `yaml:"path,omitempty"`
	// Service is the OS keyring service name for the keyring backend.
	Service string `yaml:"service,omitempty"`
}

// RotationDefaults is the process-default rotation policy applied to keys
// without an explicit config.
type RotationDefaults struct {
	MaxAgeInDays           int `yaml:"maxAgeInDays"`
	WarningThresholdInDays int `yaml:"warningThresholdInDays"`
}

// Load reads and parses the keyward.yaml file.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Logger.Debug("No config file at %s, using defaults", c.Path)
			c.Definition = defaultDefinition()
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", c.Path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return kwerrors.ValidationError{
			Message:    fmt.Sprintf("invalid YAML in %s: %v", c.Path, err),
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if def.Version == 0 {
		def.Version = 1
	}
	if def.Version != 1 {
		return kwerrors.ValidationError{
			Field:   "version",
			Value:   def.Version,
			Message: "unsupported config version",
		}
	}

	applyDefaults(&def)

	cfg := metadata.RotationConfig{
		MaxAgeInDays:           def.Defaults.MaxAgeInDays,
		WarningThresholdInDays: def.Defaults.WarningThresholdInDays,
	}
	if !cfg.Valid() {
		c.Logger.Warn("Config defaults are invalid (maxAge=%d warn=%d), using process defaults",
			cfg.MaxAgeInDays, cfg.WarningThresholdInDays)
		def.Defaults.MaxAgeInDays = metadata.DefaultMaxAgeInDays
		def.Defaults.WarningThresholdInDays = metadata.DefaultWarningThresholdInDays
	}

	switch def.KeySource.Type {
	case "", "file", "keyring":
	default:
		return kwerrors.ValidationError{
			Field:   "keySource.type",
			Value:   def.KeySource.Type,
			Message: "must be 'file' or 'keyring'",
		}
	}

	c.Definition = &def
	return nil
}

// RotationConfig returns the configured default rotation policy.
func (c *Config) RotationConfig() metadata.RotationConfig {
	return metadata.RotationConfig{
		MaxAgeInDays:           c.Definition.Defaults.MaxAgeInDays,
		WarningThresholdInDays: c.Definition.Defaults.WarningThresholdInDays,
	}
}

// EnvironmentFile resolves a named environment to its env file path. A
// path-looking argument is passed through untouched so commands accept
// either form.
func (c *Config) EnvironmentFile(nameOrPath string) string {
	if c.Definition != nil {
		if path, ok := c.Definition.Environments[nameOrPath]; ok {
			return path
		}
	}
	return nameOrPath
}

func defaultDefinition() *Definition {
	def := &Definition{Version: 1}
	applyDefaults(def)
	return def
}

func applyDefaults(def *Definition) {
	if def.MetadataFile == "" {
		def.MetadataFile = filepath.Join(".keyward", "metadata.json")
	}
	if def.KeySource.Type == "" {
		def.KeySource.Type = "file"
	}
	if def.KeySource.Type == "file" && def.KeySource.Path == "" {
		def.KeySource.Path = filepath.Join(".keyward", "keys.env")
	}
	if def.KeySource.Type == "keyring" && def.KeySource.Service == "" {
		def.KeySource.Service = "keyward"
	}
	if def.Defaults.MaxAgeInDays == 0 {
		def.Defaults.MaxAgeInDays = metadata.DefaultMaxAgeInDays
	}
	if def.Defaults.WarningThresholdInDays == 0 {
		def.Defaults.WarningThresholdInDays = metadata.DefaultWarningThresholdInDays
	}
}
