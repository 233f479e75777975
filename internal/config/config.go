// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package config loads Skyfence configuration.
//
// Values are layered with koanf in increasing priority: built-in defaults,
// an optional YAML file, then environment variables. The merged result is
// checked with go-playground/validator struct tags and a handful of
// cross-field rules in Validate.
package config

import "time"

// MinPollInterval is the floor applied to feed.interval.
const MinPollInterval = 2 * time.Second

// Config is the root configuration.
type Config struct {
	Feed      FeedConfig      `koanf:"feed"`
	Route     RouteConfig     `koanf:"route"`
	Photo     PhotoConfig     `koanf:"photo"`
	Reference ReferenceConfig `koanf:"reference"`
	Geofence  GeofenceConfig  `koanf:"geofence"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Webhooks  WebhooksConfig  `koanf:"webhooks"`
	Email     EmailConfig     `koanf:"email"`
	NATS      NATSConfig      `koanf:"nats"`
	Audit     AuditConfig     `koanf:"audit"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// FeedConfig describes the aircraft JSON feed.
type FeedConfig struct {
	URL      string        `koanf:"url" validate:"required,url"`
	Interval time.Duration `koanf:"interval"`
	SiteID   string        `koanf:"site_id" validate:"required"`
	Timeout  time.Duration `koanf:"timeout" validate:"gte=0"`

	// EnrichWait bounds how long a cycle waits for its enrichment batch
	// before publishing. A route task queued behind the sequential gate can
	// hold a cycle for the whole wait, so a long wait stretches the poll
	// period while a short one publishes more tracks unenriched. Late
	// results are still written back for the next cycle.
	EnrichWait time.Duration `koanf:"enrich_wait" validate:"gte=0"`
}

// RouteConfig configures the OAuth-protected route lookup service.
type RouteConfig struct {
	Enabled        bool          `koanf:"enabled"`
	TokenURL       string        `koanf:"token_url" validate:"omitempty,url"`
	APIURL         string        `koanf:"api_url" validate:"omitempty,url"`
	ClientID       string        `koanf:"client_id"`
	ClientSecret   string        `koanf:"client_secret"`
	DailyBudget    int           `koanf:"daily_budget" validate:"gte=1"`
	EnforceBudget  bool          `koanf:"enforce_budget"`
	PositiveTTL    time.Duration `koanf:"positive_ttl" validate:"gt=0"`
	NegativeRetry  time.Duration `koanf:"negative_retry" validate:"gt=0"`
	BackoffBase    time.Duration `koanf:"backoff_base" validate:"gt=0"`
	BackoffMax     time.Duration `koanf:"backoff_max" validate:"gt=0"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	CacheSize      int           `koanf:"cache_size" validate:"gte=1"`
}

// PhotoConfig configures the unauthenticated photo lookup service.
type PhotoConfig struct {
	Enabled        bool          `koanf:"enabled"`
	APIURL         string        `koanf:"api_url" validate:"omitempty,url"`
	TTL            time.Duration `koanf:"ttl" validate:"gt=0"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	CacheSize      int           `koanf:"cache_size" validate:"gte=1"`
}

// ReferenceConfig points at the delimited lookup tables.
type ReferenceConfig struct {
	AircraftCSV string `koanf:"aircraft_csv"`
	AirportsCSV string `koanf:"airports_csv"`
}

// GeofenceConfig configures geofence evaluation and the geofences seeded at startup.
type GeofenceConfig struct {
	Enabled         bool            `koanf:"enabled"`
	ExitOnDisappear bool            `koanf:"exit_on_disappear"`
	Template        string          `koanf:"template"`
	Geofences       []GeofenceEntry `koanf:"geofences" validate:"dive"`
}

// GeofenceEntry is one polygon geofence. Points are [lat, lon] pairs.
type GeofenceEntry struct {
	ID            string       `koanf:"id" validate:"required"`
	Name          string       `koanf:"name"`
	Enabled       bool         `koanf:"enabled"`
	Domain        string       `koanf:"domain" validate:"omitempty,oneof=aircraft message any"`
	TriggerOnExit bool         `koanf:"trigger_on_exit"`
	Template      string       `koanf:"template"`
	Points        [][2]float64 `koanf:"points"`
}

// AlertsConfig configures the alert rule engine.
type AlertsConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	Cooldown time.Duration `koanf:"cooldown" validate:"gte=0"`
	Rules    []RuleEntry   `koanf:"rules" validate:"dive"`
}

// RuleEntry is one alert rule as written in YAML.
type RuleEntry struct {
	ID          string   `koanf:"id" validate:"required"`
	Name        string   `koanf:"name"`
	Enabled     bool     `koanf:"enabled"`
	Domain      string   `koanf:"domain" validate:"omitempty,oneof=aircraft message"`
	Mode        string   `koanf:"mode" validate:"omitempty,oneof=any all ANY ALL"`
	Hex         string   `koanf:"hex"`
	Callsign    string   `koanf:"callsign"`
	Reg         string   `koanf:"registration"`
	Country     string   `koanf:"country"`
	Category    string   `koanf:"category"`
	Origin      string   `koanf:"origin"`
	Destination string   `koanf:"destination"`
	Exact       bool     `koanf:"exact"`
	MinAlt      *float64 `koanf:"min_alt"`
	MaxAlt      *float64 `koanf:"max_alt"`
	MinSpeed    *float64 `koanf:"min_speed"`
	MaxSpeed    *float64 `koanf:"max_speed"`
	Visual      bool     `koanf:"visual"`
	Audible     bool     `koanf:"audible"`
	MapStyle    string   `koanf:"map_style"`
	Emails      []string `koanf:"emails" validate:"dive,email"`
	Webhooks    []string `koanf:"webhooks"`
	Template    string   `koanf:"template"`
}

// WebhooksConfig maps webhook identifiers (referenced by rules) to URLs.
type WebhooksConfig struct {
	Endpoints map[string]string `koanf:"endpoints" validate:"dive,url"`
	Timeout   time.Duration     `koanf:"timeout" validate:"gt=0"`
	RateLimit float64           `koanf:"rate_limit" validate:"gte=0"`
}

// EmailConfig configures the SMTP transport.
type EmailConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"gte=0,lte=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from" validate:"omitempty,email"`
	UseTLS   bool   `koanf:"use_tls"`
}

// NATSConfig configures track and event publishing over NATS.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Embedded      bool   `koanf:"embedded"`
	URL           string `koanf:"url"`
	Host          string `koanf:"host"`
	Port          int    `koanf:"port" validate:"gte=0,lte=65535"`
	StoreDir      string `koanf:"store_dir"`
	SubjectPrefix string `koanf:"subject_prefix" validate:"required"`
}

// AuditConfig configures the alert audit trail. An empty Path keeps records in memory.
type AuditConfig struct {
	Path       string        `koanf:"path"`
	BufferSize int           `koanf:"buffer_size" validate:"gte=1"`
	Retention  time.Duration `koanf:"retention" validate:"gte=0"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig is mapped onto logging.Config at startup.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the values applied before the file and env layers.
func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:      "http://127.0.0.1:8080/data/aircraft.json",
			Interval: 5 * time.Second,
			SiteID:   "default",
			Timeout:  10 * time.Second,

			EnrichWait: 30 * time.Second,
		},
		Route: RouteConfig{
			DailyBudget:    1000,
			PositiveTTL:    12 * time.Hour,
			NegativeRetry:  30 * time.Minute,
			BackoffBase:    time.Minute,
			BackoffMax:     30 * time.Minute,
			RequestTimeout: 10 * time.Second,
			CacheSize:      10000,
		},
		Photo: PhotoConfig{
			APIURL:         "https://api.planespotters.net/pub/photos/hex",
			TTL:            24 * time.Hour,
			RequestTimeout: 10 * time.Second,
			CacheSize:      10000,
		},
		Geofence: GeofenceConfig{
			Enabled: true,
		},
		Alerts: AlertsConfig{
			CacheTTL: 30 * time.Second,
			Cooldown: 10 * time.Minute,
		},
		Webhooks: WebhooksConfig{
			Timeout:   10 * time.Second,
			RateLimit: 5,
		},
		Email: EmailConfig{
			Port:   587,
			UseTLS: true,
		},
		NATS: NATSConfig{
			Embedded:      true,
			URL:           "nats://127.0.0.1:4222",
			Host:          "127.0.0.1",
			Port:          4222,
			SubjectPrefix: "skyfence",
		},
		Audit: AuditConfig{
			BufferSize: 1000,
			Retention:  30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:            ":3857",
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// EffectivePollInterval returns feed.interval raised to MinPollInterval.
func (c *Config) EffectivePollInterval() time.Duration {
	if c.Feed.Interval < MinPollInterval {
		return MinPollInterval
	}
	return c.Feed.Interval
}

// RouteCredentialsPresent reports whether the route lookup can authenticate.
func (c *Config) RouteCredentialsPresent() bool {
	return c.Route.ClientID != "" && c.Route.ClientSecret != "" && c.Route.TokenURL != "" && c.Route.APIURL != ""
}
