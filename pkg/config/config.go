// Package config provides configuration loading and management for
// dicomextract. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Output parameters
	Output struct {
		// Root is the directory under which per-run output directories are created
		Root string `yaml:"root"`
	} `yaml:"output"`

	// Discovery parameters
	Discovery struct {
		// Extensions lists the filename suffixes treated as an advisory DICOM hint
		Extensions []string `yaml:"extensions"`

		// ForceParseLimitMB caps the per-file size, in megabytes, of the
		// force-parse fallback that tries unsigned files through the decoder
		ForceParseLimitMB int64 `yaml:"forceParseLimitMB"`
	} `yaml:"discovery"`

	// Logging parameters
	Logging struct {
		// Level is the minimum log level (debug, info, warn, error)
		Level string `yaml:"level"`

		// Pretty enables human-readable console output instead of JSON
		Pretty bool `yaml:"pretty"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfg.Output.Root = filepath.Join(home, "DICOM_Extracted")

	cfg.Discovery.Extensions = []string{".dcm", ".dicom", ".ima"}
	cfg.Discovery.ForceParseLimitMB = 512

	cfg.Logging.Level = "info"
	cfg.Logging.Pretty = true

	return cfg
}

// ForceParseLimitBytes returns the force-parse cap in bytes.
func (c *Config) ForceParseLimitBytes() int64 {
	return c.Discovery.ForceParseLimitMB << 20
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
