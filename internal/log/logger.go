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

// Package log configures the slog loggers used across tracehub and fixes
// the attribute keys they share.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// LevelTrace sits below Debug and carries per-span and per-frame detail
// from the ingest and broadcast paths.
const LevelTrace = slog.Level(-8)

// Attribute keys shared by every component.
const (
	TraceIDKey    = "trace_id"
	SpanIDKey     = "span_id"
	SubscriberKey = "subscriber_id"
	DurationKey   = "duration_ms"
	// SourceKey names the ingest path: native, otlp_http or otlp_grpc.
	SourceKey = "source"
	EventKey  = "event"
)

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn or error.
	Level string

	// Format is json (default) or text.
	Format Format

	// Output defaults to os.Stderr.
	Output io.Writer

	// AddSource adds file and line to each record.
	AddSource bool
}

// DefaultConfig returns info-level JSON logging to stderr.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatJSON, Output: os.Stderr}
}

// FromEnv builds a Config from the environment:
//   - TRACEHUB_DEBUG=1|true: debug level with source locations, ignoring other level settings
//   - TRACEHUB_LOG_LEVEL, then LOG_LEVEL: minimum level
//   - LOG_FORMAT: json or text
//   - LOG_SOURCE=1: source locations
func FromEnv() *Config {
	cfg := DefaultConfig()

	switch os.Getenv("TRACEHUB_DEBUG") {
	case "1", "true":
		cfg.Level = "debug"
		cfg.AddSource = true
	case "":
		for _, key := range []string{"TRACEHUB_LOG_LEVEL", "LOG_LEVEL"} {
			if v := os.Getenv(key); v != "" {
				cfg.Level = strings.ToLower(v)
				break
			}
		}
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = Format(strings.ToLower(v))
	}
	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}
	return cfg
}

// New builds a logger for cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if cfg.Format == FormatText {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// parseLevel maps a level name to a slog.Level. Unknown names mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "warning":
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithComponent tags logger with the subsystem that owns it.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithTrace tags logger with a trace identifier.
func WithTrace(logger *slog.Logger, traceID string) *slog.Logger {
	return logger.With(slog.String(TraceIDKey, traceID))
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Duration creates a millisecond attribute named key_ms.
func Duration(key string, ms int64) slog.Attr {
	return slog.Int64(key+"_ms", ms)
}

// Trace logs at LevelTrace.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
