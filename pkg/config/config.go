// Package config provides configuration loading and management for regtoh5.
// It handles loading configuration from YAML or TOML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn or error
		Level string `yaml:"level" toml:"level"`

		// Format selects the log handler: text or json
		Format string `yaml:"format" toml:"format"`
	} `yaml:"logging" toml:"logging"`

	// Tracing parameters
	Tracing struct {
		Enabled bool `yaml:"enabled" toml:"enabled"`

		// Exporter is one of none, stdout, file or otlp
		Exporter string `yaml:"exporter" toml:"exporter"`

		// FilePath receives spans when Exporter is file
		FilePath string `yaml:"filePath" toml:"filePath"`

		// OTLPEndpoint is the collector address when Exporter is otlp
		OTLPEndpoint string `yaml:"otlpEndpoint" toml:"otlpEndpoint"`

		ServiceName string `yaml:"serviceName" toml:"serviceName"`
	} `yaml:"tracing" toml:"tracing"`

	// Registration reading parameters
	Registration struct {
		// IgnoreDeformableGrid drops deformation grids instead of failing
		IgnoreDeformableGrid bool `yaml:"ignoreDeformableGrid" toml:"ignoreDeformableGrid"`

		// CacheParsed keeps a parsed REG file in memory between frame reads
		CacheParsed bool `yaml:"cacheParsed" toml:"cacheParsed"`
	} `yaml:"registration" toml:"registration"`

	// Output parameters
	Output struct {
		// Format forces an archive format; empty selects it by extension
		Format string `yaml:"format" toml:"format"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "text"

	cfg.Tracing.Enabled = false
	cfg.Tracing.Exporter = "none"
	cfg.Tracing.FilePath = "regtoh5-traces.json"
	cfg.Tracing.OTLPEndpoint = "localhost:4317"
	cfg.Tracing.ServiceName = "regtoh5"

	cfg.Registration.IgnoreDeformableGrid = false
	cfg.Registration.CacheParsed = true

	cfg.Output.Format = ""

	return cfg
}

// Validate checks enumerated fields
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "none", "stdout", "file", "otlp":
		default:
			return fmt.Errorf("invalid tracing exporter %q", c.Tracing.Exporter)
		}
		if c.Tracing.Exporter == "file" && c.Tracing.FilePath == "" {
			return fmt.Errorf("tracing exporter file needs filePath")
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by
// extension. If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error validating config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file, chosen by
// extension
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = []byte(sb.String())
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
