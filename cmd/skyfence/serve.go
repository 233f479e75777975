// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tomtom215/skyfence/internal/alerts"
	"github.com/tomtom215/skyfence/internal/api"
	"github.com/tomtom215/skyfence/internal/audit"
	"github.com/tomtom215/skyfence/internal/config"
	"github.com/tomtom215/skyfence/internal/enrich"
	"github.com/tomtom215/skyfence/internal/eventbus"
	"github.com/tomtom215/skyfence/internal/feed"
	"github.com/tomtom215/skyfence/internal/geofence"
	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/notify"
	"github.com/tomtom215/skyfence/internal/ratelimit"
	"github.com/tomtom215/skyfence/internal/reference"
	"github.com/tomtom215/skyfence/internal/supervisor"
	"github.com/tomtom215/skyfence/internal/supervisor/services"
	"github.com/tomtom215/skyfence/internal/track"
	ws "github.com/tomtom215/skyfence/internal/websocket"
)

// drainTimeout bounds how long shutdown waits for detached enrichment and
// alert dispatch.
const drainTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller, alert engine and status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			return a.run(ctx)
		},
	}
}

// app is the assembled service graph.
type app struct {
	cfg     *config.Config
	tree    *supervisor.Tree
	poller  *feed.Poller
	engine  *alerts.Engine
	closers []func() error
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	a.tree = supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	logging.Info().
		Str("version", Version).
		Str("feed_url", cfg.Feed.URL).
		Dur("interval", cfg.EffectivePollInterval()).
		Str("site_id", cfg.Feed.SiteID).
		Msg("starting skyfence")

	store := track.NewStore()

	ref := reference.NewRegistry()
	if err := loadReference(ref, cfg.Reference); err != nil {
		return nil, err
	}
	aircraft, airports := ref.Sizes()
	logging.Info().Int("aircraft", aircraft).Int("airports", airports).Msg("reference tables loaded")

	hub := ws.NewHub(func() ws.Message {
		return ws.Message{Type: ws.MessageTypeTracks, Data: store.Live()}
	})
	a.tree.AddAPIService(hub)

	sinks := []eventbus.Sink{eventbus.NewHubSink(hub)}
	if cfg.NATS.Enabled {
		sink, err := a.wireNATS(hub)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	bus := eventbus.New(sinks...)

	auditLog, err := a.wireAudit()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewSequential(ratelimit.Config{
		DailyBudget: cfg.Route.DailyBudget,
		Enforce:     cfg.Route.EnforceBudget,
		BackoffBase: cfg.Route.BackoffBase,
		BackoffMax:  cfg.Route.BackoffMax,
	})
	route := enrich.NewRouteEnricher(enrich.RouteConfig{
		Enabled:        cfg.Route.Enabled,
		TokenURL:       cfg.Route.TokenURL,
		APIURL:         cfg.Route.APIURL,
		ClientID:       cfg.Route.ClientID,
		ClientSecret:   cfg.Route.ClientSecret,
		PositiveTTL:    cfg.Route.PositiveTTL,
		NegativeRetry:  cfg.Route.NegativeRetry,
		RequestTimeout: cfg.Route.RequestTimeout,
		CacheSize:      cfg.Route.CacheSize,
	}, limiter, store, ref)
	if cfg.Route.Enabled && !route.Active() {
		logging.Warn().Msg("route lookups enabled but credentials are incomplete; routes stay feed-only")
	}
	photo := enrich.NewPhotoEnricher(enrich.PhotoConfig{
		Enabled:        cfg.Photo.Enabled,
		APIURL:         cfg.Photo.APIURL,
		TTL:            cfg.Photo.TTL,
		RequestTimeout: cfg.Photo.RequestTimeout,
		CacheSize:      cfg.Photo.CacheSize,
	}, store)

	registry := geofence.NewRegistry(geofencesFromConfig(cfg.Geofence.Geofences)...)
	evaluator := geofence.NewEvaluator(geofence.Config{
		Enabled:         cfg.Geofence.Enabled,
		ExitOnDisappear: cfg.Geofence.ExitOnDisappear,
		Template:        cfg.Geofence.Template,
		SiteID:          cfg.Feed.SiteID,
	}, registry)
	if err := evaluator.Load(ctx); err != nil {
		return nil, err
	}
	a.tree.AddDataService(evaluator)

	a.engine = alerts.NewEngine(alerts.Config{
		CacheTTL: cfg.Alerts.CacheTTL,
		Cooldown: cfg.Alerts.Cooldown,
	}, alerts.NewMemoryRuleStore(rulesFromConfig(cfg.Alerts.Rules)...), alerts.Dispatchers{
		Publisher: bus,
		Webhooks: notify.NewWebhookDispatcher(notify.WebhookConfig{
			Endpoints: cfg.Webhooks.Endpoints,
			Timeout:   cfg.Webhooks.Timeout,
			RateLimit: webhookSpacing(cfg.Webhooks.RateLimit),
		}),
		Email: notify.NewMailer(notify.EmailConfig{
			Enabled:  cfg.Email.Enabled,
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			UseTLS:   cfg.Email.UseTLS,
		}),
		Audit: auditLog,
	})

	a.poller = feed.NewPoller(feed.Config{
		Interval:   cfg.EffectivePollInterval(),
		EnrichWait: cfg.Feed.EnrichWait,
	}, feed.Deps{
		Fetcher:   feed.NewClient(cfg.Feed.URL, cfg.Feed.Timeout),
		Store:     store,
		Reference: ref,
		Route:     route,
		Photo:     photo,
		Geofences: evaluator,
		Alerts:    a.engine,
		Bus:       bus,
		Audit:     auditLog,
		Limiter:   limiter,
	})
	a.tree.AddDataService(a.poller)

	router := api.NewRouter(api.Config{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, api.Deps{
		Poller: a.poller,
		Tracks: store,
		Audit:  auditLog,
		Hub:    hub,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	a.tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", cfg.Server.Addr).Msg("status API configured")

	return a, nil
}

// wireNATS starts the embedded server when configured and returns the NATS
// sink. The bridge relays events from other instances to local viewers.
func (a *app) wireNATS(hub eventbus.Broadcaster) (*eventbus.NATSSink, error) {
	cfg := a.cfg.NATS
	url := cfg.URL

	if cfg.Embedded {
		scfg := eventbus.ServerConfig{Host: cfg.Host, Port: cfg.Port, StoreDir: cfg.StoreDir}
		srv, err := eventbus.StartEmbedded(scfg)
		if err != nil {
			return nil, fmt.Errorf("embedded NATS: %w", err)
		}
		url = srv.ClientURL()

		// The first Serve adopts the server started here; restarts start a
		// fresh one on the same port and clients reconnect.
		var pending atomic.Pointer[eventbus.EmbeddedServer]
		pending.Store(srv)
		a.onClose(func() error {
			if s := pending.Swap(nil); s != nil {
				s.Shutdown()
			}
			return nil
		})
		a.tree.AddMessagingService(services.NewEmbeddedServerService("nats-server", func() (services.EmbeddedServer, error) {
			if s := pending.Swap(nil); s != nil {
				return s, nil
			}
			return eventbus.StartEmbedded(scfg)
		}))
		logging.Info().Str("url", url).Msg("embedded NATS server started")
	}

	logger := eventbus.WatermillLogger()
	pub, err := eventbus.NewPublisher(url, logger)
	if err != nil {
		return nil, err
	}
	sink := eventbus.NewNATSSink(pub, cfg.SubjectPrefix, a.cfg.Feed.SiteID+"-"+uuid.NewString()[:8])
	a.onClose(sink.Close)

	sub, err := eventbus.NewSubscriber(url, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(sub.Close)
	a.tree.AddMessagingService(eventbus.NewBridge(sub, hub, cfg.SubjectPrefix, sink.Origin()))

	logging.Info().Str("url", url).Str("prefix", cfg.SubjectPrefix).Msg("NATS event bus enabled")
	return sink, nil
}

func (a *app) wireAudit() (*audit.Logger, error) {
	cfg := a.cfg.Audit

	var store audit.Store
	if cfg.Path != "" {
		bs, err := audit.OpenBadgerStore(cfg.Path, cfg.Retention)
		if err != nil {
			return nil, err
		}
		store = bs
		// Registered before the logger so it closes after the final flush.
		a.onClose(bs.Close)
		logging.Info().Str("path", cfg.Path).Msg("audit log persisted to badger")
	} else {
		store = audit.NewMemoryStore(10000)
	}

	l := audit.NewLogger(store, audit.Config{BufferSize: cfg.BufferSize})
	a.onClose(l.Close)

	if cfg.Retention > 0 {
		a.tree.AddDataService(services.NewPeriodicService("audit-retention", time.Hour, func(ctx context.Context) error {
			n, err := store.Delete(ctx, time.Now().Add(-cfg.Retention))
			if err != nil {
				return err
			}
			if n > 0 {
				logging.Info().Int64("deleted", n).Msg("expired audit events removed")
			}
			return nil
		}))
	}
	return l, nil
}

// run serves the tree until ctx ends, then drains background work and
// releases resources.
func (a *app) run(ctx context.Context) error {
	logging.Info().Msg("starting supervisor tree")
	err := <-a.tree.ServeBackground(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree stopped")
	}

	if unstopped, rerr := a.tree.UnstoppedServiceReport(); rerr == nil && len(unstopped) > 0 {
		for _, u := range unstopped {
			logging.Warn().Str("service", u.Name).Msg("service did not stop in time")
		}
	}

	drained := make(chan struct{})
	go func() {
		a.poller.Wait()
		a.engine.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logging.Warn().Dur("timeout", drainTimeout).Msg("background work still running at shutdown")
	}

	a.close()
	logging.Info().Msg("skyfence stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Warn().Err(err).Msg("error during shutdown")
		}
	}
	a.closers = nil
}
