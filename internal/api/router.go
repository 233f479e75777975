// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package api serves the status surface: health, poller status, track
// snapshots, manual poll and log clear, the audit trail, Prometheus
// metrics and the websocket live feed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/skyfence/internal/audit"
	"github.com/tomtom215/skyfence/internal/feed"
	"github.com/tomtom215/skyfence/internal/middleware"
	"github.com/tomtom215/skyfence/internal/models"
)

// PollerControl is the subset of *feed.Poller the API drives.
type PollerControl interface {
	Status() feed.Status
	Kick() bool
}

// TrackStore is the subset of *track.Store the API reads and clears.
type TrackStore interface {
	Live() []models.Track
	Log() []models.Track
	Counts() (live, log int)
	ClearLog()
}

// AuditLog is satisfied by *audit.Logger.
type AuditLog interface {
	Log(event *audit.Event) error
	Store() audit.Store
}

// ViewerHub is satisfied by *websocket.Hub.
type ViewerHub interface {
	Join(ctx context.Context, conn *websocket.Conn) bool
	ClientCount() int
}

// Config controls CORS and rate limiting.
type Config struct {
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Deps are the collaborators behind the handlers. Audit and Hub are optional.
type Deps struct {
	Poller PollerControl
	Tracks TrackStore
	Audit  AuditLog
	Hub    ViewerHub
}

// Router owns the handler set.
type Router struct {
	cfg      Config
	deps     Deps
	upgrader websocket.Upgrader
	started  time.Time
}

// NewRouter builds a Router. Zero rate limit settings mean 100 per minute.
func NewRouter(cfg Config, deps Deps) *Router {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	rt := &Router{cfg: cfg, deps: deps, started: time.Now()}
	rt.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     rt.checkOrigin,
	}
	return rt
}

// Handler returns the chi mux.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         86400,
	}))

	r.Get("/healthz", rt.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			}),
		))
		r.Use(middleware.PrometheusMetrics)

		r.Get("/ws", rt.serveWebSocket)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", rt.status)
			r.Get("/tracks", rt.tracks)
			r.Delete("/tracks/log", rt.clearLog)
			r.Post("/poll", rt.poll)
			r.Get("/audit", rt.auditEvents)
		})
	})

	return r
}
