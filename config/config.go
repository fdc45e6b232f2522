// Package config loads and validates the engine configuration from
// YAML, with environment variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Storage backend names accepted by Config.Storage.Type.
const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
)

// Config is the full engine configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	SCIM    SCIMConfig    `yaml:"scim"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BaseURL is the externally visible URL prefix used in meta.location
	// and bulk response locations, e.g. "https://idp.example.com/scim/v2".
	BaseURL string `yaml:"baseUrl"`
}

type StorageConfig struct {
	Type  string      `yaml:"type"`
	Mongo MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type SCIMConfig struct {
	BulkEnabled       bool   `yaml:"bulkEnabled"`
	MaxBulkOperations int    `yaml:"maxBulkOperations"`
	MaxPayloadSize    int    `yaml:"maxPayloadSize"`
	MaxFilterResults  int    `yaml:"maxFilterResults"`
	GroupsEnabled     bool   `yaml:"groupsEnabled"`
	DocumentationURI  string `yaml:"documentationUri"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080/scim/v2",
		},
		Storage: StorageConfig{
			Type: StorageMemory,
			Mongo: MongoConfig{
				URI:      "mongodb://localhost:27017",
				Database: "scim",
			},
		},
		SCIM: SCIMConfig{
			BulkEnabled:       true,
			MaxBulkOperations: 100,
			MaxPayloadSize:    1048576,
			MaxFilterResults:  200,
			GroupsEnabled:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override connection secrets
// without editing the config file.
func (c *Config) applyEnv() {
	if uri := os.Getenv("SCIM_MONGO_URI"); uri != "" {
		c.Storage.Mongo.URI = uri
	}
	if base := os.Getenv("SCIM_BASE_URL"); base != "" {
		c.Server.BaseURL = base
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}
	if c.Server.BaseURL == "" {
		return &ValidationError{Field: "server.baseUrl", Message: "must not be empty"}
	}

	switch strings.ToLower(c.Storage.Type) {
	case StorageMemory:
	case StorageMongo:
		if c.Storage.Mongo.URI == "" {
			return &ValidationError{Field: "storage.mongo.uri", Message: "must not be empty"}
		}
		if c.Storage.Mongo.Database == "" {
			return &ValidationError{Field: "storage.mongo.database", Message: "must not be empty"}
		}
	default:
		return &ValidationError{Field: "storage.type", Message: fmt.Sprintf("unknown backend %q", c.Storage.Type)}
	}

	if c.SCIM.MaxBulkOperations < 1 {
		return &ValidationError{Field: "scim.maxBulkOperations", Message: "must be at least 1"}
	}
	if c.SCIM.MaxPayloadSize < 1 {
		return &ValidationError{Field: "scim.maxPayloadSize", Message: "must be at least 1"}
	}
	if c.SCIM.MaxFilterResults < 0 {
		return &ValidationError{Field: "scim.maxFilterResults", Message: "must not be negative"}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "":
	default:
		return &ValidationError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "":
	default:
		return &ValidationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	return nil
}
