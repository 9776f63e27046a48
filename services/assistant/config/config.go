// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the assistant service configuration.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultsYAML []byte

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full service configuration.
//
// Description:
//
//	Built in three layers: the embedded defaults, an optional YAML file
//	decoded on top, then environment overrides. The result is validated
//	before it is returned.
//
// Thread Safety: Immutable after Load; safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Engine    EngineConfig    `yaml:"engine"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	CRM       CRMConfig       `yaml:"crm"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port" jsonschema_description:"Listen address, host:port"`
	CORSOrigins     []string      `yaml:"cors_origins" jsonschema_description:"Origins allowed to call the API from a browser"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0" jsonschema:"type=string"`
}

// ModelConfig selects and tunes the model service.
type ModelConfig struct {
	Name string `yaml:"name" validate:"required"`

	// APIKey is normally supplied through GEMINI_API_KEY rather than the file.
	APIKey Secret `yaml:"api_key"`

	SystemPrompt      string        `yaml:"system_prompt"`
	Temperature       *float32      `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxOutputTokens   int32         `yaml:"max_output_tokens" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0" jsonschema:"type=string"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

// EngineConfig tunes each conversation engine and the tool dispatcher.
type EngineConfig struct {
	QueueSize        int           `yaml:"queue_size" validate:"gte=1"`
	MaxParallelTools int           `yaml:"max_parallel_tools" validate:"gte=1"`
	GatewayTimeout   time.Duration `yaml:"gateway_timeout" validate:"gt=0" jsonschema:"type=string"`
	HandlerTimeout   time.Duration `yaml:"handler_timeout" validate:"gt=0" jsonschema:"type=string"`
	FallbackMessage  string        `yaml:"fallback_message" validate:"required"`
}

// SessionsConfig bounds the live session set.
type SessionsConfig struct {
	MaxSessions   int           `yaml:"max_sessions" validate:"gte=1"`
	IdleTTL       time.Duration `yaml:"idle_ttl" validate:"gt=0" jsonschema:"type=string"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gt=0" jsonschema:"type=string"`
}

// CRMConfig locates the host application's data.
type CRMConfig struct {
	// DataDir holds the record store. Empty keeps records in memory.
	DataDir string `yaml:"data_dir"`

	// DocsDir is indexed for searchDocuments. Empty disables the library.
	DocsDir string `yaml:"docs_dir"`

	WatchDocs bool `yaml:"watch_docs"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	ServiceName string  `yaml:"service_name" validate:"required"`
	Exporter    string  `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint    string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded defaults without environment overrides.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := decode(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("config: embedded defaults: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration.
//
// Inputs:
//   - path: YAML file to decode over the defaults. Empty skips the file.
//
// Outputs:
//   - *Config: Validated configuration.
//   - error: Read, decode (including unknown keys) or validation failure.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// =============================================================================
// Environment Overrides
// =============================================================================

// EnvPrefix prefixes every override variable except the API key.
const EnvPrefix = "CRM_ASSIST_"

type envSetter func(cfg *Config, value string) error

var envOverrides = map[string]envSetter{
	"ADDR":           func(c *Config, v string) error { c.Server.Addr = v; return nil },
	"MODEL":          func(c *Config, v string) error { c.Model.Name = v; return nil },
	"LOG_LEVEL":      func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil },
	"LOG_FORMAT":     func(c *Config, v string) error { c.Log.Format = strings.ToLower(v); return nil },
	"DATA_DIR":       func(c *Config, v string) error { c.CRM.DataDir = v; return nil },
	"DOCS_DIR":       func(c *Config, v string) error { c.CRM.DocsDir = v; return nil },
	"TRACE_EXPORTER": func(c *Config, v string) error { c.Telemetry.Exporter = strings.ToLower(v); return nil },
	"OTLP_ENDPOINT":  func(c *Config, v string) error { c.Telemetry.Endpoint = v; return nil },
	"MAX_SESSIONS": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Sessions.MaxSessions = n
		return nil
	},
	"GATEWAY_TIMEOUT": func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		c.Engine.GatewayTimeout = d
		return nil
	},
}

// apiKeyEnv lists the variables read for the model API key, in priority order.
var apiKeyEnv = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for suffix, set := range envOverrides {
		name := EnvPrefix + suffix
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	for _, name := range apiKeyEnv {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			cfg.Model.APIKey = NewSecret(strings.TrimSpace(v))
			break
		}
	}
	return nil
}

// =============================================================================
// Validation
// =============================================================================

// ErrMissingAPIKey is returned by RequireAPIKey.
var ErrMissingAPIKey = errors.New("config: model API key not set (GEMINI_API_KEY)")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// RequireAPIKey fails when no model API key was configured. Commands that
// talk to the model call it; offline commands do not.
func (c *Config) RequireAPIKey() error {
	if !c.Model.APIKey.IsSet() {
		return ErrMissingAPIKey
	}
	return nil
}
