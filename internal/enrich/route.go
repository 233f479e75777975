// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/skyfence/internal/cache"
	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
	"github.com/tomtom215/skyfence/internal/models"
	"github.com/tomtom215/skyfence/internal/ratelimit"
)

// TrackWriter applies enrichment results to stored tracks. *track.Store
// satisfies it.
type TrackWriter interface {
	Apply(hex string, patch func(current models.Track) models.Track) bool
}

// AirportResolver maps an airport code to its metadata. *reference.Registry
// satisfies it.
type AirportResolver interface {
	ResolveAirport(code string) models.Airport
}

// Limiter is the sequential gate route calls pass through.
// *ratelimit.Sequential satisfies it.
type Limiter interface {
	Acquire(ctx context.Context) (func(), error)
	Retry(ctx context.Context) error
	InCooldown() bool
	Backoff() time.Duration
	Success()
	Status() ratelimit.Status
}

// RouteConfig configures a RouteEnricher.
type RouteConfig struct {
	Enabled        bool
	TokenURL       string
	APIURL         string
	ClientID       string
	ClientSecret   string
	PositiveTTL    time.Duration
	NegativeRetry  time.Duration
	RequestTimeout time.Duration
	CacheSize      int

	// Lookback bounds the flight history requested per aircraft.
	Lookback time.Duration
}

// routeEntry is one cached lookup result. Empty marks a lookup that found no
// route; such entries are retried after NegativeRetry rather than PositiveTTL.
type routeEntry struct {
	Origin      string
	Destination string
	Empty       bool
	FetchedAt   time.Time
	RetryAfter  time.Time
}

// flightLeg is one element of the flights-by-aircraft response.
type flightLeg struct {
	ICAO24                 string  `json:"icao24"`
	Callsign               string  `json:"callsign"`
	FirstSeen              int64   `json:"firstSeen"`
	LastSeen               int64   `json:"lastSeen"`
	EstDepartureAirport    *string `json:"estDepartureAirport"`
	EstArrivalAirport      *string `json:"estArrivalAirport"`
	DepartureHorizDistance *int    `json:"estDepartureAirportHorizDistance"`
	ArrivalHorizDistance   *int    `json:"estArrivalAirportHorizDistance"`
	DepartureCandidates    int     `json:"departureAirportCandidatesCount"`
	ArrivalCandidates      int     `json:"arrivalAirportCandidatesCount"`
}

// RouteStats counts route enricher outcomes since start.
type RouteStats struct {
	Calls       int64            `json:"calls"`
	CacheHits   int64            `json:"cache_hits"`
	Resolved    int64            `json:"resolved"`
	Empty       int64            `json:"empty"`
	Failures    int64            `json:"failures"`
	RateLimited int64            `json:"rate_limited"`
	Limiter     ratelimit.Status `json:"limiter"`
}

// RouteEnricher resolves origin and destination through an OAuth2
// client-credentials protected flights API.
type RouteEnricher struct {
	cfg      RouteConfig
	client   *http.Client
	tokens   *tokenCache
	limiter  Limiter
	cache    *cache.LRU[routeEntry]
	writer   TrackWriter
	airports AirportResolver
	now      func() time.Time

	calls       atomic.Int64
	cacheHits   atomic.Int64
	resolved    atomic.Int64
	empty       atomic.Int64
	failures    atomic.Int64
	rateLimited atomic.Int64
}

// NewRouteEnricher builds a route enricher. limiter is shared by every
// caller so that the daily budget is global.
func NewRouteEnricher(cfg RouteConfig, limiter Limiter, writer TrackWriter, airports AirportResolver) *RouteEnricher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	ttl := cfg.PositiveTTL
	if cfg.NegativeRetry > ttl {
		ttl = cfg.NegativeRetry
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}
	e := &RouteEnricher{
		cfg:      cfg,
		client:   client,
		limiter:  limiter,
		cache:    cache.NewLRU[routeEntry](cfg.CacheSize, ttl),
		writer:   writer,
		airports: airports,
		now:      time.Now,
	}
	e.tokens = newTokenCache(cfg.ClientID, cfg.ClientSecret, cfg.TokenURL, client, e.clock)
	return e
}

func (e *RouteEnricher) clock() time.Time { return e.now() }

// SetClock replaces the time source for cache decisions. Tests only.
func (e *RouteEnricher) SetClock(now func() time.Time) {
	e.now = now
	e.cache.WithClock(now)
}

// Active reports whether lookups can be made at all.
func (e *RouteEnricher) Active() bool {
	return e.cfg.Enabled && e.cfg.ClientID != "" && e.cfg.ClientSecret != "" &&
		e.cfg.TokenURL != "" && e.cfg.APIURL != ""
}

// Enrich resolves the route for t and writes it back. It returns nil when
// nothing needed doing, and an error describing why a lookup was skipped or
// failed otherwise. Errors are informational; the track is simply retried on
// a later cycle.
func (e *RouteEnricher) Enrich(ctx context.Context, t models.Track) error {
	if !e.Active() {
		return nil
	}
	hex := models.NormalizeHex(t.Hex)
	if hex == "" {
		return nil
	}

	now := e.now()
	if entry, ok := e.cache.Get(hex); ok && now.Before(entry.RetryAfter) {
		e.cacheHits.Add(1)
		metrics.RecordEnrichment("route", "cached")
		if !entry.Empty {
			e.apply(hex, entry)
		}
		return nil
	}

	if e.limiter.InCooldown() {
		metrics.RecordEnrichment("route", "skipped")
		return ratelimit.ErrCooldown
	}

	release, err := e.limiter.Acquire(ctx)
	if err != nil {
		metrics.RecordEnrichment("route", "skipped")
		return err
	}
	defer release()

	e.calls.Add(1)
	legs, err := e.lookup(ctx, hex)
	e.publishLimiterMetrics()

	switch {
	case errors.Is(err, ErrRateLimited):
		window := e.limiter.Backoff()
		e.rateLimited.Add(1)
		metrics.EnrichmentRateLimited.Inc()
		metrics.RouteCooldownSeconds.Set(window.Seconds())
		metrics.RecordEnrichment("route", "rate_limited")
		logging.Warn().Str("hex", hex).Dur("cooldown", window).Msg("route lookup rate limited, backing off")
		return err
	case err != nil:
		e.failures.Add(1)
		metrics.RecordEnrichment("route", "error")
		logging.Warn().Err(err).Str("hex", hex).Msg("route lookup failed")
		return err
	}

	e.limiter.Success()
	metrics.RouteCooldownSeconds.Set(0)

	entry := routeEntry{FetchedAt: now}
	if leg, ok := latestLeg(legs); ok {
		entry.Origin = airportCode(leg.EstDepartureAirport)
		entry.Destination = airportCode(leg.EstArrivalAirport)
	}
	if entry.Origin == "" && entry.Destination == "" {
		entry.Empty = true
		entry.RetryAfter = now.Add(e.cfg.NegativeRetry)
		e.empty.Add(1)
		metrics.RecordEnrichment("route", "empty")
	} else {
		entry.RetryAfter = now.Add(e.cfg.PositiveTTL)
		e.resolved.Add(1)
		metrics.RecordEnrichment("route", "success")
	}
	e.cache.Set(hex, entry)

	if !entry.Empty {
		e.apply(hex, entry)
	}
	return nil
}

// apply fills only empty route fields, tags provenance and resolves airport
// metadata for whatever codes the track ends up with.
func (e *RouteEnricher) apply(hex string, entry routeEntry) {
	e.writer.Apply(hex, func(cur models.Track) models.Track {
		var p models.Track
		filled := false
		if cur.Origin == "" && entry.Origin != "" {
			p.Origin = entry.Origin
			cur.Origin = entry.Origin
			filled = true
		}
		if cur.Destination == "" && entry.Destination != "" {
			p.Destination = entry.Destination
			cur.Destination = entry.Destination
			filled = true
		}
		if filled {
			p.RouteSource = models.RouteSourceExternal
		}
		if e.airports != nil {
			if cur.Origin != "" && cur.OriginAirport.IsZero() {
				p.OriginAirport = e.airports.ResolveAirport(cur.Origin)
			}
			if cur.Destination != "" && cur.DestinationAirport.IsZero() {
				p.DestinationAirport = e.airports.ResolveAirport(cur.Destination)
			}
		}
		return p
	})
}

// lookup fetches flight legs for hex. A 401/403 triggers exactly one forced
// token refresh and retry; the retry is spaced and counted by the limiter.
func (e *RouteEnricher) lookup(ctx context.Context, hex string) ([]flightLeg, error) {
	token, err := e.tokens.Token(ctx, false)
	if err != nil {
		return nil, err
	}

	legs, status, err := e.getFlights(ctx, token, hex)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		logging.Debug().Int("status", status).Msg("route token rejected, refreshing once")
		token, err = e.tokens.Token(ctx, true)
		if err != nil {
			return nil, err
		}
		if err := e.limiter.Retry(ctx); err != nil {
			return nil, err
		}
		legs, status, err = e.getFlights(ctx, token, hex)
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			e.tokens.Invalidate()
			return nil, ErrUnauthorized
		}
	}
	return legs, err
}

func (e *RouteEnricher) getFlights(ctx context.Context, token, hex string) ([]flightLeg, int, error) {
	end := e.now().Unix()
	begin := e.now().Add(-e.cfg.Lookback).Unix()

	q := url.Values{}
	q.Set("icao24", strings.TrimPrefix(hex, "~"))
	q.Set("begin", strconv.FormatInt(begin, 10))
	q.Set("end", strconv.FormatInt(end, 10))
	reqURL := strings.TrimRight(e.cfg.APIURL, "/") + "/flights/aircraft?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("route request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		// No flights in the window.
		return nil, resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resp.StatusCode, &HTTPStatusError{Service: "route", StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, resp.StatusCode, &HTTPStatusError{Service: "route", StatusCode: resp.StatusCode}
	}

	var legs []flightLeg
	if err := json.NewDecoder(resp.Body).Decode(&legs); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode route response: %w", err)
	}
	return legs, resp.StatusCode, nil
}

func (e *RouteEnricher) publishLimiterMetrics() {
	st := e.limiter.Status()
	metrics.RouteBudgetUsed.Set(float64(st.Used))
	if st.Used > st.Budget {
		metrics.RouteBudgetExceeded.Inc()
	}
}

// Stats returns counters and the limiter status.
func (e *RouteEnricher) Stats() RouteStats {
	return RouteStats{
		Calls:       e.calls.Load(),
		CacheHits:   e.cacheHits.Load(),
		Resolved:    e.resolved.Load(),
		Empty:       e.empty.Load(),
		Failures:    e.failures.Load(),
		RateLimited: e.rateLimited.Load(),
		Limiter:     e.limiter.Status(),
	}
}

// latestLeg picks the most recent leg by last-seen, then first-seen.
func latestLeg(legs []flightLeg) (flightLeg, bool) {
	if len(legs) == 0 {
		return flightLeg{}, false
	}
	best := legs[0]
	for _, l := range legs[1:] {
		if l.LastSeen > best.LastSeen || (l.LastSeen == best.LastSeen && l.FirstSeen > best.FirstSeen) {
			best = l
		}
	}
	return best, true
}

func airportCode(p *string) string {
	if p == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(*p))
}
