// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the a11ysync configuration from YAML with A11Y_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/a11ysync/services/a11y/cache"
	"github.com/AleutianAI/a11ysync/services/a11y/client"
	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/AleutianAI/a11ysync/services/a11y/events"
	"github.com/AleutianAI/a11ysync/services/a11y/fixture"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "A11Y_"

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full configuration shared by the a11ysync binaries.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Debug     DebugConfig     `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
}

// ProviderConfig describes how the client reaches the element provider.
type ProviderConfig struct {
	// Target is the gRPC dial target of the provider.
	Target string `yaml:"target" validate:"required"`

	// ConnectTimeout bounds how long a query waits for a connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`

	// LoadTimeout bounds a background connection attempt.
	LoadTimeout time.Duration `yaml:"load_timeout" validate:"gt=0"`

	// RetryInterval throttles reconnect attempts. Zero disables it.
	RetryInterval time.Duration `yaml:"retry_interval" validate:"gte=0"`
}

// CacheConfig sizes the window cache.
type CacheConfig struct {
	MaxWindows int `yaml:"max_windows" validate:"gte=1,lte=64"`

	// Mode is the prefetch mask forwarded on every fetch.
	Mode int32 `yaml:"mode" validate:"prefetch"`
}

// EventsConfig configures the structural-change feed.
type EventsConfig struct {
	// URL is the websocket endpoint of the provider's event feed. Empty
	// disables event-driven invalidation.
	URL string `yaml:"url" validate:"omitempty,url"`

	ReconnectDelay time.Duration `yaml:"reconnect_delay" validate:"gt=0"`
	BufferSize     int           `yaml:"buffer_size" validate:"gte=1"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
	Quiet bool   `yaml:"quiet"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" validate:"required"`

	// Exporter selects the trace exporter.
	Exporter string `yaml:"exporter" validate:"oneof=otlp stdout none"`

	// OTLPEndpoint is used when Exporter is otlp.
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Exporter otlp"`

	// SampleRate is the trace sampling ratio.
	SampleRate float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// DebugConfig configures the inspection HTTP API.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"omitempty,hostname_port"`
}

// ServerConfig configures the reference provider process.
type ServerConfig struct {
	Fixture      string        `yaml:"fixture"`
	GRPCListen   string        `yaml:"grpc_listen" validate:"omitempty,hostname_port"`
	EventsListen string        `yaml:"events_listen" validate:"omitempty,hostname_port"`
	Debounce     time.Duration `yaml:"debounce" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Target:         "localhost:7443",
			ConnectTimeout: client.DefaultConnectTimeout,
			LoadTimeout:    client.DefaultLoadTimeout,
			RetryInterval:  client.DefaultRetryInterval,
		},
		Cache: CacheConfig{
			MaxWindows: cache.DefaultMaxWindows,
			Mode:       int32(client.DefaultCacheMode),
		},
		Events: EventsConfig{
			ReconnectDelay: events.DefaultReconnectDelay,
			BufferSize:     events.DefaultBufferSize,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "a11ysync",
			Exporter:    "none",
			SampleRate:  1.0,
		},
		Debug: DebugConfig{
			Listen: "localhost:7480",
		},
		Server: ServerConfig{
			GRPCListen:   "localhost:7443",
			EventsListen: "localhost:7444",
			Debounce:     fixture.DefaultDebounce,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("prefetch", validatePrefetch)
	return v
}

// validatePrefetch accepts -1 (default) or a mask within
// element.PrefetchMask.
func validatePrefetch(fl validator.FieldLevel) bool {
	mode := fl.Field().Int()
	if mode == -1 {
		return true
	}
	return mode >= 0 && element.PrefetchMode(mode)&^element.PrefetchMask == 0
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then A11Y_* environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Debug.Enabled && c.Debug.Listen == "" {
		return fmt.Errorf("%w: debug.listen is required when debug is enabled", ErrInvalidConfig)
	}
	return nil
}

// PrefetchMode returns the normalized cache mode.
func (c CacheConfig) PrefetchMode() element.PrefetchMode {
	if c.Mode < 0 {
		return client.DefaultCacheMode
	}
	return element.NormalizePrefetchMode(c.Mode)
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from the environment. Malformed values are
// errors rather than silently ignored.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("PROVIDER_TARGET", &cfg.Provider.Target)
	e.duration("PROVIDER_CONNECT_TIMEOUT", &cfg.Provider.ConnectTimeout)
	e.duration("PROVIDER_LOAD_TIMEOUT", &cfg.Provider.LoadTimeout)
	e.duration("PROVIDER_RETRY_INTERVAL", &cfg.Provider.RetryInterval)

	e.integer("CACHE_MAX_WINDOWS", &cfg.Cache.MaxWindows)
	e.i32("CACHE_MODE", &cfg.Cache.Mode)

	e.str("EVENTS_URL", &cfg.Events.URL)
	e.duration("EVENTS_RECONNECT_DELAY", &cfg.Events.ReconnectDelay)
	e.integer("EVENTS_BUFFER_SIZE", &cfg.Events.BufferSize)

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.boolean("LOG_JSON", &cfg.Logging.JSON)
	e.str("LOG_DIR", &cfg.Logging.Dir)
	e.boolean("LOG_QUIET", &cfg.Logging.Quiet)

	e.str("TELEMETRY_SERVICE_NAME", &cfg.Telemetry.ServiceName)
	e.str("TELEMETRY_EXPORTER", &cfg.Telemetry.Exporter)
	e.str("OTEL_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	e.float("TELEMETRY_SAMPLE_RATE", &cfg.Telemetry.SampleRate)

	e.boolean("DEBUG_ENABLED", &cfg.Debug.Enabled)
	e.str("DEBUG_LISTEN", &cfg.Debug.Listen)

	e.str("SERVER_FIXTURE", &cfg.Server.Fixture)
	e.str("SERVER_GRPC_LISTEN", &cfg.Server.GRPCListen)
	e.str("SERVER_EVENTS_LISTEN", &cfg.Server.EventsListen)
	e.duration("SERVER_DEBOUNCE", &cfg.Server.Debounce)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%w: %s%s=%q: %w", ErrInvalidConfig, EnvPrefix, key, v, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = i
	}
}

func (e *envReader) i32(key string, dst *int32) {
	if v, ok := e.get(key); ok {
		i, err := strconv.ParseInt(v, 0, 32)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = int32(i)
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}
