// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads tracehub daemon configuration from a YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	tracehuberrors "github.com/tombee/tracehub/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// DefaultTypeAttribute is the span attribute that names a trace's logical type.
const DefaultTypeAttribute = "tracehub:type"

// Config represents the complete tracehub configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Index     IndexConfig     `yaml:"index"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Log       LogConfig       `yaml:"log"`

	// DataDir is the base directory for the store and index when their
	// paths are not set explicitly.
	// Environment: TRACEHUB_DATA_DIR
	DataDir string `yaml:"data_dir"`
}

// ServerConfig configures the listeners.
type ServerConfig struct {
	// HTTPAddr is the listen address for the REST, SSE and OTLP/HTTP API.
	// Environment: TRACEHUB_HTTP_ADDR
	// Default: 127.0.0.1:4000
	HTTPAddr string `yaml:"http_addr"`

	// GRPCAddr is the listen address for the OTLP gRPC trace service.
	// Empty disables the gRPC listener.
	// Environment: TRACEHUB_GRPC_ADDR
	GRPCAddr string `yaml:"grpc_addr"`

	// ShutdownTimeout bounds graceful shutdown.
	// Environment: TRACEHUB_SHUTDOWN_TIMEOUT
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig configures trace record persistence.
type StoreConfig struct {
	// Dir holds one record per trace.
	// Environment: TRACEHUB_STORE_DIR
	// Default: <data_dir>/traces
	Dir string `yaml:"dir"`

	// Encryption enables AES-256-GCM encryption of records at rest.
	// The key is read from TRACEHUB_STORE_KEY.
	// Environment: TRACEHUB_STORE_ENCRYPTION
	Encryption bool `yaml:"encryption"`

	// CacheMaxCost bounds the read cache, counted in spans. Zero disables it.
	// Default: 100000
	CacheMaxCost int64 `yaml:"cache_max_cost"`

	// Watch refreshes the index when records are written by another process.
	// Environment: TRACEHUB_STORE_WATCH
	Watch bool `yaml:"watch"`
}

// IndexConfig configures the search index.
type IndexConfig struct {
	// Path is the SQLite file backing the index. Empty or ":memory:" keeps
	// the index in memory only.
	// Environment: TRACEHUB_INDEX_PATH
	// Default: <data_dir>/index.db
	Path string `yaml:"path"`

	// TypeAttribute is the root span attribute that names the trace type.
	// Default: tracehub:type
	TypeAttribute string `yaml:"type_attribute"`

	// RebuildOnStart rebuilds the index from trace records on every start.
	RebuildOnStart bool `yaml:"rebuild_on_start"`
}

// BroadcastConfig configures live subscriber delivery.
type BroadcastConfig struct {
	// QueueSize is the backlog a subscriber may carry while a write to it
	// is blocked before StallTimeout applies.
	// Default: 64
	QueueSize int `yaml:"queue_size"`

	// StallTimeout is how long a single blocked write may last, once the
	// backlog exceeds QueueSize, before the subscriber is dropped.
	// Default: 10s
	StallTimeout time.Duration `yaml:"stall_timeout"`

	// HeartbeatInterval sends SSE comment lines to keep idle connections
	// open through proxies. Zero disables heartbeats.
	// Default: 30s
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// IngestConfig configures the write and OTLP endpoints.
type IngestConfig struct {
	// MaxBodyBytes caps request bodies.
	// Default: 16 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// OTLPType, when set, is the type given to OTLP root spans that carry
	// no type attribute.
	// Environment: TRACEHUB_OTLP_TYPE
	OTLPType string `yaml:"otlp_type"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures per-client token buckets on ingest routes.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained rate per client.
	// Environment: TRACEHUB_RATE_LIMIT_RPS (setting it enables limiting)
	// Default: 200
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket size.
	// Default: 400
	Burst int `yaml:"burst"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        "127.0.0.1:4000",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			CacheMaxCost: 100_000,
		},
		Index: IndexConfig{
			TypeAttribute: DefaultTypeAttribute,
		},
		Broadcast: BroadcastConfig{
			QueueSize:         64,
			StallTimeout:      10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBodyBytes: 16 << 20,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 200,
				Burst:             400,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	return LoadWith(configPath, nil)
}

// LoadWith is Load with overrides applied after the file and environment
// but before defaults, so command-line flags win and derived paths follow
// an overridden data dir.
func LoadWith(configPath string, override func(*Config)) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &tracehuberrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()
	if override != nil {
		override(cfg)
	}

	// Defaults last so derived paths follow an overridden data dir.
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &tracehuberrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with sensible defaults.
// This allows minimal configs to work without specifying all fields.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = defaults.Server.HTTPAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	c.DataDir = expandHome(c.DataDir)
	if c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(c.DataDir, "traces")
	}
	c.Store.Dir = expandHome(c.Store.Dir)
	if c.Index.Path == "" {
		c.Index.Path = filepath.Join(c.DataDir, "index.db")
	}
	c.Index.Path = expandHome(c.Index.Path)
	if c.Index.TypeAttribute == "" {
		c.Index.TypeAttribute = defaults.Index.TypeAttribute
	}

	if c.Broadcast.QueueSize == 0 {
		c.Broadcast.QueueSize = defaults.Broadcast.QueueSize
	}
	if c.Broadcast.StallTimeout == 0 {
		c.Broadcast.StallTimeout = defaults.Broadcast.StallTimeout
	}

	if c.Ingest.MaxBodyBytes == 0 {
		c.Ingest.MaxBodyBytes = defaults.Ingest.MaxBodyBytes
	}
	if c.Ingest.RateLimit.RequestsPerSecond == 0 {
		c.Ingest.RateLimit.RequestsPerSecond = defaults.Ingest.RateLimit.RequestsPerSecond
	}
	if c.Ingest.RateLimit.Burst == 0 {
		c.Ingest.RateLimit.Burst = defaults.Ingest.RateLimit.Burst
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("TRACEHUB_HTTP_ADDR"); val != "" {
		c.Server.HTTPAddr = val
	}
	if val := os.Getenv("TRACEHUB_GRPC_ADDR"); val != "" {
		c.Server.GRPCAddr = val
	}
	if val := os.Getenv("TRACEHUB_SHUTDOWN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Server.ShutdownTimeout = duration
		}
	}

	if val := os.Getenv("TRACEHUB_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("TRACEHUB_STORE_DIR"); val != "" {
		c.Store.Dir = val
	}
	if val := os.Getenv("TRACEHUB_STORE_ENCRYPTION"); val != "" {
		c.Store.Encryption = parseBool(val)
	}
	if val := os.Getenv("TRACEHUB_STORE_WATCH"); val != "" {
		c.Store.Watch = parseBool(val)
	}
	if val := os.Getenv("TRACEHUB_INDEX_PATH"); val != "" {
		c.Index.Path = val
	}

	if val := os.Getenv("TRACEHUB_OTLP_TYPE"); val != "" {
		c.Ingest.OTLPType = val
	}
	if val := os.Getenv("TRACEHUB_RATE_LIMIT_RPS"); val != "" {
		if rps, err := strconv.ParseFloat(val, 64); err == nil {
			c.Ingest.RateLimit.Enabled = rps > 0
			c.Ingest.RateLimit.RequestsPerSecond = rps
		}
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if _, _, err := net.SplitHostPort(c.Server.HTTPAddr); err != nil {
		errs = append(errs, fmt.Sprintf("server.http_addr %q is not host:port: %v", c.Server.HTTPAddr, err))
	}
	if c.Server.GRPCAddr != "" {
		if _, _, err := net.SplitHostPort(c.Server.GRPCAddr); err != nil {
			errs = append(errs, fmt.Sprintf("server.grpc_addr %q is not host:port: %v", c.Server.GRPCAddr, err))
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	if c.Store.Dir == "" {
		errs = append(errs, "store.dir must be set")
	}
	if c.Store.CacheMaxCost < 0 {
		errs = append(errs, fmt.Sprintf("store.cache_max_cost must not be negative, got %d", c.Store.CacheMaxCost))
	}
	if c.Index.TypeAttribute == "" {
		errs = append(errs, "index.type_attribute must be set")
	}

	if c.Broadcast.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("broadcast.queue_size must be at least 1, got %d", c.Broadcast.QueueSize))
	}
	if c.Broadcast.StallTimeout < 0 {
		errs = append(errs, fmt.Sprintf("broadcast.stall_timeout must not be negative, got %v", c.Broadcast.StallTimeout))
	}
	if c.Broadcast.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Sprintf("broadcast.heartbeat_interval must not be negative, got %v", c.Broadcast.HeartbeatInterval))
	}

	if c.Ingest.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Sprintf("ingest.max_body_bytes must be positive, got %d", c.Ingest.MaxBodyBytes))
	}
	if c.Ingest.RateLimit.Enabled {
		if c.Ingest.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, "ingest.rate_limit.requests_per_second must be positive")
		}
		if c.Ingest.RateLimit.Burst < 1 {
			errs = append(errs, "ingest.rate_limit.burst must be at least 1")
		}
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// InMemoryIndex reports whether the index has no backing file.
func (c *IndexConfig) InMemoryIndex() bool {
	return c.Path == "" || c.Path == ":memory:"
}

func parseBool(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
