// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crmassist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Server.Addr)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model.Name)
	assert.NotEmpty(t, cfg.Model.SystemPrompt)
	require.NotNil(t, cfg.Model.Temperature)
	assert.InDelta(t, 0.2, *cfg.Model.Temperature, 1e-6)
	assert.Equal(t, 60*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 8, cfg.Engine.QueueSize)
	assert.Equal(t, 90*time.Second, cfg.Engine.GatewayTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTTL)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Model.APIKey.IsSet())
	assert.ErrorIs(t, cfg.RequireAPIKey(), ErrMissingAPIKey)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  addr: "127.0.0.1:9000"
engine:
  max_parallel_tools: 2
  gateway_timeout: 45s
log:
  format: json
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Engine.MaxParallelTools)
	assert.Equal(t, 45*time.Second, cfg.Engine.GatewayTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8, cfg.Engine.QueueSize)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model.Name)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, `
engine:
  max_paralel_tools: 2
`)
	_, err := load(path, env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_paralel_tools")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := load(writeFile(t, ""), env(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.Server.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load("", env(map[string]string{
		"CRM_ASSIST_ADDR":            ":9999",
		"CRM_ASSIST_MODEL":           "gemini-2.5-pro",
		"CRM_ASSIST_LOG_LEVEL":       "DEBUG",
		"CRM_ASSIST_TRACE_EXPORTER":  "stdout",
		"CRM_ASSIST_MAX_SESSIONS":    "12",
		"CRM_ASSIST_GATEWAY_TIMEOUT": "2m",
		"CRM_ASSIST_DATA_DIR":        "  ",
		"GEMINI_API_KEY":             "AIzaSyD-test-key",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "gemini-2.5-pro", cfg.Model.Name)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "stdout", cfg.Telemetry.Exporter)
	assert.Equal(t, 12, cfg.Sessions.MaxSessions)
	assert.Equal(t, 2*time.Minute, cfg.Engine.GatewayTimeout)
	assert.Equal(t, "", cfg.CRM.DataDir, "blank overrides are ignored")

	require.NoError(t, cfg.RequireAPIKey())
	key, err := cfg.Model.APIKey.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "AIzaSyD-test-key", key)
}

func TestLoad_EnvParseError(t *testing.T) {
	_, err := load("", env(map[string]string{"CRM_ASSIST_MAX_SESSIONS": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRM_ASSIST_MAX_SESSIONS")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad exporter", "telemetry:\n  exporter: jaeger\n", "Exporter"},
		{"otlp without endpoint", "telemetry:\n  exporter: otlp\n  endpoint: \"\"\n", "Endpoint"},
		{"bad level", "log:\n  level: loud\n", "Level"},
		{"zero queue", "engine:\n  queue_size: 0\n", "QueueSize"},
		{"ratio above one", "telemetry:\n  sample_ratio: 1.5\n", "SampleRatio"},
		{"bad addr", "server:\n  addr: \"not an address\"\n", "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeFile(t, tt.yaml), env(nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSecret(t *testing.T) {
	var zero Secret
	assert.False(t, zero.IsSet())
	v, err := zero.Reveal()
	require.NoError(t, err)
	assert.Empty(t, v)

	s := NewSecret("hunter2")
	assert.True(t, s.IsSet())
	assert.Equal(t, redacted, s.String())

	out, err := yaml.Marshal(struct {
		Key Secret `yaml:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	var fromFile struct {
		Key Secret `yaml:"key"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("key: \" abc \"\n"), &fromFile))
	got, err := fromFile.Key.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "CRM Assistant Configuration", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"server", "model", "engine", "sessions", "crm", "telemetry", "log"} {
		assert.Contains(t, props, key)
	}
	assert.NotContains(t, doc, "required")
}
