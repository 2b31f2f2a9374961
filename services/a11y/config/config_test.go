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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
)

func env(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Cache.MaxWindows)
	assert.Equal(t, 3*time.Second, cfg.Provider.ConnectTimeout)
	assert.Equal(t, element.PrefetchRecursiveChildren, cfg.Cache.PrefetchMode())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a11y.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  target: provider:9000
  connect_timeout: 1s
cache:
  max_windows: 3
  mode: 12
logging:
  level: debug
`), 0o644))

	t.Setenv("A11Y_CACHE_MAX_WINDOWS", "7")
	t.Setenv("A11Y_LOG_JSON", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "provider:9000", cfg.Provider.Target)
	assert.Equal(t, time.Second, cfg.Provider.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Provider.LoadTimeout)
	assert.Equal(t, 7, cfg.Cache.MaxWindows)
	assert.Equal(t, element.PrefetchChildren|element.PrefetchRecursiveChildren, cfg.Cache.PrefetchMode())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a11y.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache: ["), 0o644))
		_, err := Load(path)
		require.Error(t, err)
	})
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, env(map[string]string{
		"A11Y_PROVIDER_RETRY_INTERVAL": "0s",
		"A11Y_CACHE_MODE":              "0x3",
		"A11Y_EVENTS_URL":              " ws://localhost:7444/v1/events ",
		"A11Y_DEBUG_ENABLED":           "1",
	}))
	require.NoError(t, err)
	assert.Zero(t, cfg.Provider.RetryInterval)
	assert.Equal(t, int32(3), cfg.Cache.Mode)
	assert.Equal(t, "ws://localhost:7444/v1/events", cfg.Events.URL)
	assert.True(t, cfg.Debug.Enabled)

	cfg = Default()
	err = applyEnv(&cfg, env(map[string]string{
		"A11Y_PROVIDER_CONNECT_TIMEOUT": "soon",
		"A11Y_CACHE_MAX_WINDOWS":        "many",
	}))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "A11Y_PROVIDER_CONNECT_TIMEOUT")
	assert.Contains(t, err.Error(), "A11Y_CACHE_MAX_WINDOWS")
	assert.Equal(t, 3*time.Second, cfg.Provider.ConnectTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty target", func(c *Config) { c.Provider.Target = "" }},
		{"zero connect timeout", func(c *Config) { c.Provider.ConnectTimeout = 0 }},
		{"zero windows", func(c *Config) { c.Cache.MaxWindows = 0 }},
		{"unknown mode bits", func(c *Config) { c.Cache.Mode = 0x40 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.Exporter = "otlp" }},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }},
		{"bad events url", func(c *Config) { c.Events.URL = "::" }},
		{"debug without listen", func(c *Config) { c.Debug.Enabled = true; c.Debug.Listen = "" }},
		{"bad grpc listen", func(c *Config) { c.Server.GRPCListen = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.Cache.Mode = -1
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, element.PrefetchRecursiveChildren, cfg.Cache.PrefetchMode())
}
