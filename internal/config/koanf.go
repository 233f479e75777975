// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when no explicit path is given.
var DefaultConfigPaths = []string{
	"skyfence.yaml",
	"skyfence.yml",
	"/etc/skyfence/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "SKYFENCE_CONFIG"

// Load builds the configuration from defaults, the YAML file at path (or the
// first of DefaultConfigPaths that exists when path is empty) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as a single env string.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps flat environment variable names onto config keys.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"feed_url":         "feed.url",
	"feed_interval":    "feed.interval",
	"feed_timeout":     "feed.timeout",
	"feed_enrich_wait": "feed.enrich_wait",
	"site_id":          "feed.site_id",

	"route_enabled":         "route.enabled",
	"route_token_url":       "route.token_url",
	"route_api_url":         "route.api_url",
	"route_client_id":       "route.client_id",
	"route_client_secret":   "route.client_secret",
	"route_daily_budget":    "route.daily_budget",
	"route_enforce_budget":  "route.enforce_budget",
	"route_positive_ttl":    "route.positive_ttl",
	"route_negative_retry":  "route.negative_retry",
	"route_backoff_base":    "route.backoff_base",
	"route_backoff_max":     "route.backoff_max",
	"route_request_timeout": "route.request_timeout",

	"photo_enabled": "photo.enabled",
	"photo_api_url": "photo.api_url",
	"photo_ttl":     "photo.ttl",

	"aircraft_csv": "reference.aircraft_csv",
	"airports_csv": "reference.airports_csv",

	"geofence_enabled":           "geofence.enabled",
	"geofence_exit_on_disappear": "geofence.exit_on_disappear",
	"geofence_template":          "geofence.template",

	"alerts_cache_ttl": "alerts.cache_ttl",
	"alerts_cooldown":  "alerts.cooldown",

	"webhook_timeout":    "webhooks.timeout",
	"webhook_rate_limit": "webhooks.rate_limit",

	"smtp_enabled":  "email.enabled",
	"smtp_host":     "email.host",
	"smtp_port":     "email.port",
	"smtp_username": "email.username",
	"smtp_password": "email.password",
	"smtp_from":     "email.from",
	"smtp_use_tls":  "email.use_tls",

	"nats_enabled":        "nats.enabled",
	"nats_embedded":       "nats.embedded",
	"nats_url":            "nats.url",
	"nats_host":           "nats.host",
	"nats_port":           "nats.port",
	"nats_store_dir":      "nats.store_dir",
	"nats_subject_prefix": "nats.subject_prefix",

	"audit_path":        "audit.path",
	"audit_buffer_size": "audit.buffer_size",
	"audit_retention":   "audit.retention",

	"http_addr":         "server.addr",
	"cors_origins":      "server.cors_origins",
	"rate_limit_reqs":   "server.rate_limit_reqs",
	"rate_limit_window": "server.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps e.g. ROUTE_DAILY_BUDGET to route.daily_budget.
// Returning "" drops the variable.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
