// Package config provides loading and parsing of resolver.yaml
// configuration files. A configuration file declares the identifier store
// backend, the derivation salt, and the plugin set (data connectors and
// attribute definitions) a resolver is built from.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a resolver.yaml configuration file.
type Config struct {
	// Store selects and configures the identifier store backend.
	Store StoreConfig `yaml:"store"`

	// SaltBase64 is the derivation secret, base64-encoded, at least
	// 16 bytes decoded. Required when any pairwise connector is declared.
	SaltBase64 string `yaml:"salt_base64,omitempty"`

	// Connectors declares the data connectors.
	Connectors []PluginConfig `yaml:"connectors,omitempty"`

	// Definitions declares the attribute definitions.
	Definitions []PluginConfig `yaml:"definitions,omitempty"`
}

// StoreConfig selects the identifier store backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "redis", "etcd".
	// Default: "memory".
	Backend string `yaml:"backend,omitempty"`

	// DSN locates the backend: a file path for sqlite, a connection URL
	// for redis. Ignored for memory.
	DSN string `yaml:"dsn,omitempty"`

	// Endpoints lists etcd endpoints. Only used for etcd.
	Endpoints []string `yaml:"endpoints,omitempty"`

	// Namespace prefixes keys for redis and etcd backends.
	Namespace string `yaml:"namespace,omitempty"`
}

// PluginConfig declares one plugin.
type PluginConfig struct {
	// ID is the plugin ID. Required.
	ID string `yaml:"id"`

	// Type selects the plugin implementation. Connectors: "static",
	// "computed-id", "stored-id". Definitions: "simple", "scoped".
	Type string `yaml:"type"`

	// SourcePlugin and SourceAttribute name the consumed dependency.
	SourcePlugin    string `yaml:"source_plugin,omitempty"`
	SourceAttribute string `yaml:"source_attribute,omitempty"`

	// GeneratedAttribute overrides the emitted attribute ID for
	// identifier connectors. Defaults to the plugin ID.
	GeneratedAttribute string `yaml:"generated_attribute,omitempty"`

	// Algorithm selects the derivation construction for identifier
	// connectors: "legacy-sha1" (default) or "hmac-sha256".
	Algorithm string `yaml:"algorithm,omitempty"`

	// Scope is the fixed scope for scoped definitions.
	Scope string `yaml:"scope,omitempty"`

	// Attributes holds the fixed values of a static connector, keyed by
	// attribute ID.
	Attributes map[string][]string `yaml:"attributes,omitempty"`

	// Condition is a CEL activation condition. Optional.
	Condition string `yaml:"condition,omitempty"`

	// Failover names the failover connector. Connectors only.
	Failover string `yaml:"failover,omitempty"`

	// Timeout bounds one execution. Format: Go duration string ("2s").
	Timeout string `yaml:"timeout,omitempty"`

	// NoRetryInterval is the window during which a failed connector is
	// skipped in favor of its failover. Format: Go duration string.
	NoRetryInterval string `yaml:"no_retry_interval,omitempty"`
}

// GetTimeout parses the timeout string. Returns zero if unset or invalid.
func (p *PluginConfig) GetTimeout() time.Duration {
	return parseDuration(p.Timeout)
}

// GetNoRetryInterval parses the no-retry interval string. Returns zero if
// unset or invalid.
func (p *PluginConfig) GetNoRetryInterval() time.Duration {
	return parseDuration(p.NoRetryInterval)
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Salt decodes the configured salt.
func (c *Config) Salt() ([]byte, error) {
	if c.SaltBase64 == "" {
		return nil, nil
	}
	salt, err := base64.StdEncoding.DecodeString(c.SaltBase64)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	return salt, nil
}

// Load reads and parses a resolver.yaml file from the given path.
// If the path is a directory, it looks for resolver.yaml or resolver.yml
// in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		yamlPath := filepath.Join(path, "resolver.yaml")
		if _, err := os.Stat(yamlPath); err == nil {
			configPath = yamlPath
		} else {
			ymlPath := filepath.Join(path, "resolver.yml")
			if _, err := os.Stat(ymlPath); err != nil {
				return nil, fmt.Errorf("no resolver.yaml or resolver.yml found in %s", path)
			}
			configPath = ymlPath
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses a configuration document.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills in defaulted fields.
func (c *Config) ApplyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
}

// Validate checks the configuration for structural problems. Deeper
// validation (salt length, dependency references, cycles) happens when the
// resolver is built.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite", "redis":
		if c.Store.DSN == "" {
			return fmt.Errorf("store backend %q requires a dsn", c.Store.Backend)
		}
	case "etcd":
		if len(c.Store.Endpoints) == 0 {
			return fmt.Errorf("store backend etcd requires endpoints")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	seen := make(map[string]bool)
	for _, p := range append(append([]PluginConfig{}, c.Connectors...), c.Definitions...) {
		if p.ID == "" {
			return fmt.Errorf("plugin with empty ID")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate plugin ID %q", p.ID)
		}
		seen[p.ID] = true
		if p.Type == "" {
			return fmt.Errorf("plugin %q: type is required", p.ID)
		}
	}

	for _, p := range c.Connectors {
		if (p.Type == "computed-id" || p.Type == "stored-id") && c.SaltBase64 == "" {
			return fmt.Errorf("connector %q: salt_base64 is required for identifier connectors", p.ID)
		}
	}
	return nil
}
