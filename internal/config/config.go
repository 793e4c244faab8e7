// Package config implements the server configuration value described in
// spec.md §6: port/host/basePath, CORS options, one block per protocol
// adapter, middleware list, discovery roots, and a hot-reload flag. Loading
// and defaulting follow the teacher's Load(path) (*Config, error) shape
// (the original internal/config/config.go), swapping GOX's cell/pool/broker
// schema for Raffel's own, and adding go-playground/validator/v10 struct-tag
// validation (adopted from the broady-tygor example repo, whose entire
// surface is that validator) in place of the teacher's hand-rolled
// field-by-field checks.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	Host     string `yaml:"host" validate:"required"`
	BasePath string `yaml:"basePath"`

	CORS CORSConfig `yaml:"cors"`

	WebSocket ProtocolBlock `yaml:"websocket"`
	JSONRPC   ProtocolBlock `yaml:"jsonrpc"`
	TCP       ProtocolBlock `yaml:"tcp"`
	UDP       ProtocolBlock `yaml:"udp"`

	Middleware []MiddlewareSpec `yaml:"middleware"`

	// DiscoveryRoots lists directories of handler registration modules
	// (spec.md §6 "discovery roots"). Nothing in this module scans them.
	DiscoveryRoots []string `yaml:"discoveryRoots"`

	HotReload bool `yaml:"hotReload"`

	Logging LoggingConfig `yaml:"logging"`
}

// CORSConfig configures the HTTP adapter's CORS handling.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// ProtocolBlock configures one non-HTTP protocol adapter.
type ProtocolBlock struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"omitempty,gte=0,lte=65535"`
	Host    string `yaml:"host"`
	Path    string `yaml:"path"`  // used by JSON-RPC's single configurable path, default "/rpc"
	Codec   string `yaml:"codec" validate:"omitempty,oneof=json msgpack"` // used by TCP's frame codec, default "json"
}

// MiddlewareSpec names a middleware from the standard library
// (internal/middleware/library) and its pattern scope, e.g. {name:
// "rateLimit", pattern: "public.**"}.
type MiddlewareSpec struct {
	Name    string         `yaml:"name" validate:"required"`
	Pattern string         `yaml:"pattern"`
	Options map[string]any `yaml:"options"`
}

// LoggingConfig configures the ambient slog logger every package uses.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// Load reads and parses a YAML configuration file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.JSONRPC.Path == "" {
		c.JSONRPC.Path = "/rpc"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// ShutdownGracePeriod is how long the orchestrator waits for in-flight
// requests to drain during Stop, matching the teacher's graceful-shutdown
// timeout pattern (public/agent/framework.go).
const ShutdownGracePeriod = 10 * time.Second
