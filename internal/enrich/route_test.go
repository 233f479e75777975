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
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/skyfence/internal/models"
	"github.com/tomtom215/skyfence/internal/ratelimit"
	"github.com/tomtom215/skyfence/internal/reference"
	"github.com/tomtom215/skyfence/internal/track"
)

type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *mutableClock) Sleep(_ context.Context, d time.Duration) error {
	c.Advance(d)
	return nil
}

// stubLimiter admits every call and records backoffs.
type stubLimiter struct {
	mu        sync.Mutex
	acquires  int
	retries   int
	backoffs  int
	successes int
}

func (l *stubLimiter) Acquire(context.Context) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	return func() {}, nil
}

func (l *stubLimiter) Retry(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retries++
	return nil
}

func (l *stubLimiter) InCooldown() bool { return false }

func (l *stubLimiter) Backoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoffs++
	return time.Minute
}

func (l *stubLimiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes++
}

func (l *stubLimiter) Status() ratelimit.Status { return ratelimit.Status{} }

// routeServer fakes the token endpoint and the flights endpoint.
type routeServer struct {
	*httptest.Server
	tokenCalls  atomic.Int32
	flightCalls atomic.Int32

	// flights returns status and body for a bearer token and icao24.
	flights func(token, icao24 string) (int, string)
}

func newRouteServer(t *testing.T, flights func(token, icao24 string) (int, string)) *routeServer {
	t.Helper()
	rs := &routeServer{flights: flights}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("token request form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "skyfence" {
			t.Errorf("unexpected token form: %v", r.Form)
		}
		n := rs.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok%d","token_type":"bearer","expires_in":3600}`, n)
	})
	mux.HandleFunc("/api/flights/aircraft", func(w http.ResponseWriter, r *http.Request) {
		rs.flightCalls.Add(1)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		status, body := rs.flights(token, r.URL.Query().Get("icao24"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func routeConfig(rs *routeServer) RouteConfig {
	return RouteConfig{
		Enabled:       true,
		TokenURL:      rs.URL + "/token",
		APIURL:        rs.URL + "/api",
		ClientID:      "skyfence",
		ClientSecret:  "secret",
		PositiveTTL:   12 * time.Hour,
		NegativeRetry: 30 * time.Minute,
		CacheSize:     100,
	}
}

const twoLegs = `[
 {"icao24":"4ca1b2","firstSeen":1000,"lastSeen":2000,"estDepartureAirport":"EGLL","estArrivalAirport":"EIDW"},
 {"icao24":"4ca1b2","firstSeen":3000,"lastSeen":4000,"estDepartureAirport":"EIDW","estArrivalAirport":"KJFK",
  "estDepartureAirportHorizDistance":500,"departureAirportCandidatesCount":1}
]`

func seededStore(tracks ...models.Track) *track.Store {
	s := track.NewStore()
	merged := make([]models.Track, 0, len(tracks))
	for _, t := range tracks {
		merged = append(merged, s.Upsert(t))
	}
	s.ReplaceLive(merged)
	return s
}

func airports(t *testing.T) *reference.Registry {
	t.Helper()
	r := reference.NewRegistry()
	err := r.LoadAirports(strings.NewReader("ident,iata_code,name\nEIDW,DUB,Dublin\nKJFK,JFK,Kennedy\nEGKK,LGW,Gatwick\n"))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRouteEnricherResolvesLatestLeg(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusOK, twoLegs })
	store := seededStore(models.Track{Hex: "4ca1b2", Lat: 1, Lon: 1})
	e := NewRouteEnricher(routeConfig(rs), &stubLimiter{}, store, airports(t))

	if err := e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"}); err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	got, _ := store.Get("4ca1b2")
	if got.Origin != "EIDW" || got.Destination != "KJFK" {
		t.Errorf("route = %s-%s, want EIDW-KJFK", got.Origin, got.Destination)
	}
	if got.RouteSource != models.RouteSourceExternal {
		t.Errorf("RouteSource = %q, want external", got.RouteSource)
	}
	if got.OriginAirport.Name != "Dublin" || got.DestinationAirport.IATA != "JFK" {
		t.Errorf("airports = %+v / %+v", got.OriginAirport, got.DestinationAirport)
	}
	log := store.Log()
	if len(log) != 1 || log[0].Destination != "KJFK" {
		t.Errorf("session log copy not updated: %+v", log)
	}
}

func TestRouteEnricherFillsOnlyMissingFields(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusOK, twoLegs })
	store := seededStore(models.Track{Hex: "4ca1b2", Lat: 1, Lon: 1, Origin: "EGKK", RouteSource: models.RouteSourceFeed})
	e := NewRouteEnricher(routeConfig(rs), &stubLimiter{}, store, airports(t))

	if err := e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"}); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get("4ca1b2")
	if got.Origin != "EGKK" {
		t.Errorf("Origin = %q, feed value must be kept", got.Origin)
	}
	if got.Destination != "KJFK" {
		t.Errorf("Destination = %q, want KJFK", got.Destination)
	}
	if got.OriginAirport.Name != "Gatwick" {
		t.Errorf("OriginAirport = %+v, want resolved for the kept code", got.OriginAirport)
	}
}

func TestRouteEnricherNegativeCacheRetry(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusNotFound, "" })
	store := seededStore(models.Track{Hex: "abc123", Lat: 1, Lon: 1})
	clock := &mutableClock{t: time.Now()}
	cfg := routeConfig(rs)
	e := NewRouteEnricher(cfg, &stubLimiter{}, store, nil)
	e.SetClock(clock.Now)

	tr := models.Track{Hex: "abc123"}
	if err := e.Enrich(context.Background(), tr); err != nil {
		t.Fatalf("first Enrich() error = %v", err)
	}
	if n := rs.flightCalls.Load(); n != 1 {
		t.Fatalf("flight calls = %d, want 1", n)
	}

	clock.Advance(cfg.NegativeRetry - time.Minute)
	_ = e.Enrich(context.Background(), tr)
	if n := rs.flightCalls.Load(); n != 1 {
		t.Errorf("flight calls before retry-after = %d, want 1", n)
	}

	clock.Advance(2 * time.Minute)
	_ = e.Enrich(context.Background(), tr)
	_ = e.Enrich(context.Background(), tr)
	if n := rs.flightCalls.Load(); n != 2 {
		t.Errorf("flight calls after retry-after = %d, want exactly 2", n)
	}
	if st := e.Stats(); st.Empty != 2 || st.CacheHits != 2 {
		t.Errorf("Stats = %+v, want Empty=2 CacheHits=2", st)
	}
}

func TestRouteEnricherPositiveCacheAppliesWithoutCall(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusOK, twoLegs })
	e := NewRouteEnricher(routeConfig(rs), &stubLimiter{}, seededStore(models.Track{Hex: "4ca1b2", Lat: 1, Lon: 1}), nil)
	_ = e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"})

	// The track left and came back without a route; the cache refills it.
	store2 := seededStore(models.Track{Hex: "4ca1b2", Lat: 2, Lon: 2})
	e.writer = store2
	if err := e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"}); err != nil {
		t.Fatal(err)
	}
	if n := rs.flightCalls.Load(); n != 1 {
		t.Errorf("flight calls = %d, want 1", n)
	}
	if got, _ := store2.Get("4ca1b2"); got.Destination != "KJFK" {
		t.Errorf("cached route not applied: %+v", got)
	}
}

func TestRouteEnricherForcedRefreshOnce(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(token, string) (int, string) {
		if token == "tok1" {
			return http.StatusUnauthorized, ""
		}
		return http.StatusOK, twoLegs
	})
	store := seededStore(models.Track{Hex: "4ca1b2", Lat: 1, Lon: 1})
	lim := &stubLimiter{}
	e := NewRouteEnricher(routeConfig(rs), lim, store, nil)

	if err := e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"}); err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if lim.acquires != 1 || lim.retries != 1 {
		t.Errorf("acquires = %d retries = %d, want the retry to pass the limiter", lim.acquires, lim.retries)
	}
	if n := rs.tokenCalls.Load(); n != 2 {
		t.Errorf("token calls = %d, want 2", n)
	}
	if n := rs.flightCalls.Load(); n != 2 {
		t.Errorf("flight calls = %d, want 2", n)
	}
	if got, _ := store.Get("4ca1b2"); got.Destination != "KJFK" {
		t.Errorf("Destination = %q after retry", got.Destination)
	}
}

func TestRouteEnricherPersistentForbiddenStopsAfterOneRetry(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusForbidden, "" })
	e := NewRouteEnricher(routeConfig(rs), &stubLimiter{}, seededStore(), nil)

	err := e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Enrich() error = %v, want ErrUnauthorized", err)
	}
	if n := rs.flightCalls.Load(); n != 2 {
		t.Errorf("flight calls = %d, want 2", n)
	}
	if n := rs.tokenCalls.Load(); n != 2 {
		t.Errorf("token calls = %d, want 2", n)
	}
	if st := e.Stats(); st.Failures != 1 {
		t.Errorf("Failures = %d, want 1", st.Failures)
	}
}

func TestRouteEnricherReusesToken(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusOK, "[]" })
	e := NewRouteEnricher(routeConfig(rs), &stubLimiter{}, seededStore(), nil)

	for _, hex := range []string{"aaa111", "bbb222", "ccc333"} {
		if err := e.Enrich(context.Background(), models.Track{Hex: hex}); err != nil {
			t.Fatal(err)
		}
	}
	if n := rs.tokenCalls.Load(); n != 1 {
		t.Errorf("token calls = %d, want 1", n)
	}
}

func TestRouteEnricherRateLimitTriggersGlobalCooldown(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusTooManyRequests, "" })
	y, m, d := time.Now().Date()
	clock := &mutableClock{t: time.Date(y, m, d, 12, 0, 0, 0, time.Local)}
	limiter := ratelimit.NewSequential(ratelimit.Config{
		DailyBudget: 1000,
		BackoffBase: time.Minute,
		BackoffMax:  10 * time.Minute,
		Now:         clock.Now,
		Sleep:       clock.Sleep,
	})
	e := NewRouteEnricher(routeConfig(rs), limiter, seededStore(), nil)
	e.SetClock(clock.Now)

	if err := e.Enrich(context.Background(), models.Track{Hex: "aaa111"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Enrich() error = %v, want ErrRateLimited", err)
	}
	// A different aircraft is blocked too: the cooldown is global.
	if err := e.Enrich(context.Background(), models.Track{Hex: "bbb222"}); !errors.Is(err, ratelimit.ErrCooldown) {
		t.Errorf("Enrich() during cooldown = %v, want ErrCooldown", err)
	}
	if n := rs.flightCalls.Load(); n != 1 {
		t.Errorf("flight calls = %d, want 1", n)
	}

	// The 429 was not cached per aircraft: once cooldown passes it is retried.
	clock.Advance(2 * time.Minute)
	_ = e.Enrich(context.Background(), models.Track{Hex: "aaa111"})
	if n := rs.flightCalls.Load(); n != 2 {
		t.Errorf("flight calls after cooldown = %d, want 2", n)
	}
	if st := limiter.Status(); st.BackoffWindow != 2*time.Minute {
		t.Errorf("BackoffWindow = %v, want doubled to 2m", st.BackoffWindow)
	}
}

func TestRouteEnricherInactive(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusOK, twoLegs })

	cfg := routeConfig(rs)
	cfg.ClientSecret = ""
	limiter := &stubLimiter{}
	e := NewRouteEnricher(cfg, limiter, seededStore(), nil)

	if err := e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"}); err != nil {
		t.Errorf("Enrich() error = %v, want nil no-op", err)
	}
	if rs.tokenCalls.Load() != 0 || rs.flightCalls.Load() != 0 || limiter.acquires != 0 {
		t.Error("inactive enricher must not call out or take a limiter slot")
	}
}

func TestRouteEnricherServerErrorNotCached(t *testing.T) {
	t.Parallel()
	rs := newRouteServer(t, func(string, string) (int, string) { return http.StatusBadGateway, "" })
	e := NewRouteEnricher(routeConfig(rs), &stubLimiter{}, seededStore(), nil)

	var statusErr *HTTPStatusError
	if err := e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"}); !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("Enrich() error = %v, want HTTPStatusError 502", err)
	}
	_ = e.Enrich(context.Background(), models.Track{Hex: "4ca1b2"})
	if n := rs.flightCalls.Load(); n != 2 {
		t.Errorf("flight calls = %d, want 2 (failures retry next cycle)", n)
	}
}

func TestLatestLeg(t *testing.T) {
	t.Parallel()
	dep := func(s string) *string { return &s }
	legs := []flightLeg{
		{FirstSeen: 10, LastSeen: 50, EstDepartureAirport: dep("A")},
		{FirstSeen: 20, LastSeen: 90, EstDepartureAirport: dep("B")},
		{FirstSeen: 30, LastSeen: 90, EstDepartureAirport: dep("C")},
	}
	got, ok := latestLeg(legs)
	if !ok || airportCode(got.EstDepartureAirport) != "C" {
		t.Errorf("latestLeg() = %+v", got)
	}
	if _, ok := latestLeg(nil); ok {
		t.Error("latestLeg(nil) ok = true")
	}
}
