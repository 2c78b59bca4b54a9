// Package config manages wvsync configuration and the .wvsync directory structure.
// It handles loading, saving, validating and initializing the project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/pelletier/go-toml/v2"
)

const (
	WVSyncDir   = ".wvsync"
	ConfigFile  = "config"
	JournalFile = "journal.db"
)

// Config represents the wvsync configuration
type Config struct {
	WeaviateURL     string                                 `toml:"weaviate_url"`
	Database        DatabaseConfig                         `toml:"database"`
	Retry           RetryConfig                            `toml:"retry"`
	Metrics         MetricsConfig                          `toml:"metrics"`
	Entities        map[string]EntityConfig                `toml:"entities"`
	Collections     map[string]models.CollectionDefinition `toml:"collections"`
	RelatedEntities map[string][]string                    `toml:"related_entities"` // entity type -> collection keys
	path            string                                 // path to .wvsync directory
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	DSN    string `toml:"dsn"`
}

// RetryConfig controls the optional retry wrapper around the document client
type RetryConfig struct {
	Enabled          bool    `toml:"enabled"`
	MaxRetries       int     `toml:"max_retries"`
	InitialBackoffMs int     `toml:"initial_backoff_ms"`
	MaxBackoffMs     int     `toml:"max_backoff_ms"`
	JitterFraction   float64 `toml:"jitter_fraction"`
}

// InitialBackoff returns the first retry delay
func (r RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

// MetricsConfig configures pushing metrics after each command
type MetricsConfig struct {
	PushgatewayURL string `toml:"pushgateway_url,omitempty"`
	Job            string `toml:"job,omitempty"`
}

// EntityConfig describes how an entity type is stored
type EntityConfig struct {
	Table        string               `toml:"table"`
	PrimaryKey   string               `toml:"primary_key,omitempty"`
	KeyType      string               `toml:"key_type,omitempty"` // "int", "uuid" or "string"
	Associations []models.Association `toml:"associations,omitempty"`
}

// FindRoot finds the .wvsync directory by walking up from current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		p := filepath.Join(dir, WVSyncDir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a wvsync project (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the nearest .wvsync directory
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root)
}

// LoadFrom loads the configuration from the given .wvsync directory
func LoadFrom(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.path = root
	return cfg, nil
}

// Parse decodes and validates a TOML configuration document
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for key, def := range cfg.Collections {
		def.Key = key
		if def.IndexName == "" {
			def.IndexName = key
		}
		cfg.Collections[key] = def
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with defaults applied
func Default() *Config {
	return &Config{
		WeaviateURL: "http://localhost:8080",
		Database:    DatabaseConfig{Driver: "sqlite"},
		Retry: RetryConfig{
			MaxRetries:       3,
			InitialBackoffMs: 500,
			MaxBackoffMs:     30000,
			JitterFraction:   0.25,
		},
		Metrics:         MetricsConfig{Job: "wvsync"},
		Entities:        make(map[string]EntityConfig),
		Collections:     make(map[string]models.CollectionDefinition),
		RelatedEntities: make(map[string][]string),
	}
}

// Validate checks cross references between entities, collections and related entities.
// Primary keys are not checked here; a collection without one fails when it is
// first updated or hydrated.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	for _, key := range c.CollectionKeys() {
		def := c.Collections[key]
		if def.Entity == "" {
			return fmt.Errorf("collection %s: entity is required", key)
		}
		if _, ok := c.Entities[string(def.Entity)]; !ok {
			return fmt.Errorf("collection %s: unknown entity %s", key, def.Entity)
		}
	}

	for entity, keys := range c.RelatedEntities {
		if _, ok := c.Entities[entity]; !ok {
			return fmt.Errorf("related_entities: unknown entity %s", entity)
		}
		for _, key := range keys {
			if _, ok := c.Collections[key]; !ok {
				return fmt.Errorf("related_entities: %s references unknown collection %s", entity, key)
			}
		}
	}
	return nil
}

// CollectionKeys returns collection keys in sorted order
func (c *Config) CollectionKeys() []string {
	keys := make([]string, 0, len(c.Collections))
	for k := range c.Collections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// Path returns the path to the .wvsync directory
func (c *Config) Path() string {
	return c.path
}

// JournalPath returns the path to the bbolt journal of failed operations
func (c *Config) JournalPath() string {
	return filepath.Join(c.path, JournalFile)
}

// Initialize creates a new .wvsync directory in dir with an initial configuration
func Initialize(dir, weaviateURL, driver, dsn string) (*Config, error) {
	p := filepath.Join(dir, WVSyncDir)

	if _, err := os.Stat(p); err == nil {
		return nil, fmt.Errorf("wvsync project already exists")
	}

	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", WVSyncDir, err)
	}

	cfg := Default()
	cfg.WeaviateURL = weaviateURL
	cfg.Database = DatabaseConfig{Driver: driver, DSN: dsn}
	cfg.path = p

	if err := cfg.Validate(); err != nil {
		os.RemoveAll(p)
		return nil, err
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(p)
		return nil, err
	}

	return cfg, nil
}
