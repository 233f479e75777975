// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/skyfence/internal/eventbus"
	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
	"github.com/tomtom215/skyfence/internal/models"
	"github.com/tomtom215/skyfence/internal/ratelimit"
	"github.com/tomtom215/skyfence/internal/track"
)

// MinInterval is the floor applied to the configured poll interval.
const MinInterval = 2 * time.Second

// ErrAlreadyRunning is returned by Start and Serve when a loop is active.
var ErrAlreadyRunning = errors.New("poller already running")

// Fetcher returns one raw feed document. *Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Referencer fills static fields from local tables. *reference.Registry
// satisfies it.
type Referencer interface {
	Enrich(t *models.Track)
}

// Enricher is a route or photo enricher.
type Enricher interface {
	Active() bool
	Enrich(ctx context.Context, t models.Track) error
}

// GeofenceEvaluator is satisfied by *geofence.Evaluator.
type GeofenceEvaluator interface {
	Evaluate(tracks []models.Track) []models.GeofenceEvent
}

// AlertEvaluator is satisfied by *alerts.Engine.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, tracks []models.Track) []models.AlertEvent
}

// GeofenceRecorder persists geofence transitions. *audit.Logger satisfies it.
type GeofenceRecorder interface {
	RecordGeofence(ctx context.Context, ev models.GeofenceEvent) error
}

// LimiterStatus exposes route limiter state. *ratelimit.Sequential satisfies it.
type LimiterStatus interface {
	Status() ratelimit.Status
}

// Deps are the collaborators of a Poller. Fetcher and Store are required;
// anything else may be nil.
type Deps struct {
	Fetcher   Fetcher
	Store     *track.Store
	Reference Referencer
	Route     Enricher
	Photo     Enricher
	Geofences GeofenceEvaluator
	Alerts    AlertEvaluator
	Bus       eventbus.Publisher
	Audit     GeofenceRecorder
	Limiter   LimiterStatus
}

// Config configures a Poller.
type Config struct {
	Interval time.Duration

	// EnrichWait bounds how long a cycle waits for its enrichment batch
	// before publishing. Tasks still running keep going and write back into
	// the store when they finish.
	EnrichWait time.Duration

	// EnrichConcurrency caps concurrent enrichment tasks.
	EnrichConcurrency int

	Now func() time.Time
}

// Status is a snapshot of poller state.
type Status struct {
	Running        bool              `json:"running"`
	Interval       time.Duration     `json:"interval"`
	Cycles         int64             `json:"cycles"`
	Failures       int64             `json:"failures"`
	LastCycleAt    time.Time         `json:"last_cycle_at,omitempty"`
	LastSuccessAt  time.Time         `json:"last_success_at,omitempty"`
	LastDuration   time.Duration     `json:"last_duration"`
	LastError      string            `json:"last_error,omitempty"`
	LastErrorAt    time.Time         `json:"last_error_at,omitempty"`
	LastDropped    int               `json:"last_dropped"`
	LiveTracks     int               `json:"live_tracks"`
	LogTracks      int               `json:"log_tracks"`
	EnrichInFlight int64             `json:"enrich_in_flight"`
	Limiter        *ratelimit.Status `json:"limiter,omitempty"`
}

// Poller runs ingestion cycles on a fixed interval and on demand.
type Poller struct {
	cfg  Config
	deps Deps

	kick    chan struct{}
	cycleMu sync.Mutex

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	status   Status

	// routeInFlight holds hexes with a route task still running so a slow
	// gate never queues the same aircraft twice.
	routeInFlight sync.Map
	inFlight      atomic.Int64
	tasks         sync.WaitGroup
}

// NewPoller creates a poller. The interval is raised to MinInterval.
func NewPoller(cfg Config, deps Deps) *Poller {
	cfg.Interval = max(cfg.Interval, MinInterval)
	if cfg.EnrichWait <= 0 {
		cfg.EnrichWait = 30 * time.Second
	}
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = 16
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		cfg:    cfg,
		deps:   deps,
		kick:   make(chan struct{}, 1),
		status: Status{Interval: cfg.Interval},
	}
}

// Start runs the loop in the background until Stop or ctx cancellation.
func (p *Poller) Start(ctx context.Context) error {
	stop, err := p.markRunning()
	if err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx, stop)
	}()
	return nil
}

// Stop ends a loop begun with Start and waits for the current cycle.
// Enrichment tasks are left to finish; see Wait.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running || p.stopChan == nil {
		p.mu.Unlock()
		return
	}
	close(p.stopChan)
	p.stopChan = nil
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Msg("feed poller stopped")
}

// Serve runs the loop on the calling goroutine until ctx is cancelled.
func (p *Poller) Serve(ctx context.Context) error {
	stop, err := p.markRunning()
	if err != nil {
		return err
	}
	p.loop(ctx, stop)
	return ctx.Err()
}

func (p *Poller) String() string { return "feed-poller" }

// Wait blocks until enrichment tasks from earlier cycles have finished.
func (p *Poller) Wait() { p.tasks.Wait() }

// Kick requests an immediate cycle. It returns false when one is already
// pending.
func (p *Poller) Kick() bool {
	select {
	case p.kick <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a snapshot.
func (p *Poller) Status() Status {
	p.mu.RLock()
	s := p.status
	s.Running = p.running
	p.mu.RUnlock()

	s.LiveTracks, s.LogTracks = p.deps.Store.Counts()
	s.EnrichInFlight = p.inFlight.Load()
	if p.deps.Limiter != nil {
		ls := p.deps.Limiter.Status()
		s.Limiter = &ls
	}
	return s
}

func (p *Poller) markRunning() (chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, ErrAlreadyRunning
	}
	p.running = true
	p.stopChan = make(chan struct{})
	return p.stopChan, nil
}

func (p *Poller) loop(ctx context.Context, stop <-chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.stopChan = nil
		p.mu.Unlock()
	}()

	logging.Info().Dur("interval", p.cfg.Interval).Msg("feed poller started")
	_ = p.RunOnce(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		case <-p.kick:
			ticker.Reset(p.cfg.Interval)
		}
		_ = p.RunOnce(ctx)
	}
}

// RunOnce runs one full cycle synchronously. Cycles never overlap. The
// returned error is also recorded as the status' last error.
func (p *Poller) RunOnce(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	ctx = logging.ContextWithCycleID(ctx, logging.NewCycleID())
	start := p.cfg.Now()

	dropped, err := p.cycle(ctx, start)
	elapsed := p.cfg.Now().Sub(start)

	live, logged := p.deps.Store.Counts()
	metrics.RecordTrackCounts(live, logged)

	p.mu.Lock()
	p.status.Cycles++
	p.status.LastCycleAt = start
	p.status.LastDuration = elapsed
	if err != nil {
		p.status.Failures++
		p.status.LastError = err.Error()
		p.status.LastErrorAt = start
	} else {
		p.status.LastError = ""
		p.status.LastSuccessAt = start
		p.status.LastDropped = dropped
	}
	p.mu.Unlock()

	if err != nil {
		metrics.RecordPollCycle("error", elapsed)
		logging.Ctx(ctx).Warn().Err(err).Dur("duration", elapsed).Msg("poll cycle failed")
		return err
	}
	metrics.RecordPollCycle("success", elapsed)
	logging.Ctx(ctx).Debug().Int("live", live).Int("dropped", dropped).Dur("duration", elapsed).Msg("poll cycle complete")
	return nil
}

func (p *Poller) cycle(ctx context.Context, now time.Time) (int, error) {
	body, err := p.deps.Fetcher.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	parsed, err := Parse(body, now)
	if err != nil {
		return 0, err
	}
	if parsed.Dropped > 0 {
		metrics.FeedEntriesDropped.Add(float64(parsed.Dropped))
	}

	merged := make([]models.Track, 0, len(parsed.Tracks))
	for _, obs := range parsed.Tracks {
		t := p.deps.Store.Upsert(obs)
		if p.deps.Reference != nil {
			p.deps.Reference.Enrich(&t)
		}
		merged = append(merged, t)
	}
	p.deps.Store.ReplaceLive(merged)

	p.enrich(ctx, merged)

	// Enrichment wrote back into the store; publish what it holds now.
	final := p.deps.Store.Live()

	if p.deps.Geofences != nil {
		for _, ev := range p.deps.Geofences.Evaluate(final) {
			p.publishGeofence(ctx, ev)
		}
	}
	if p.deps.Bus != nil {
		// Bus failures are counted and logged per sink.
		_ = p.deps.Bus.PublishTracks(ctx, final, eventbus.PublishOptions{NoRebroadcast: true})
	}
	if p.deps.Alerts != nil {
		p.deps.Alerts.Evaluate(ctx, final)
	}
	return parsed.Dropped, nil
}

func (p *Poller) publishGeofence(ctx context.Context, ev models.GeofenceEvent) {
	if p.deps.Bus != nil {
		_ = p.deps.Bus.PublishGeofence(ctx, ev)
	}
	if p.deps.Audit != nil {
		if err := p.deps.Audit.RecordGeofence(ctx, ev); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("geofence", ev.GeofenceID).Msg("geofence audit failed")
		}
	}
}

// enrich schedules the cycle's route and photo tasks and waits for them,
// up to EnrichWait. Tasks run detached from ctx so shutdown never cuts a
// lookup short; each carries its own request timeout.
func (p *Poller) enrich(ctx context.Context, tracks []models.Track) {
	routeOn := p.deps.Route != nil && p.deps.Route.Active()
	photoOn := p.deps.Photo != nil && p.deps.Photo.Active()
	if !routeOn && !photoOn {
		return
	}

	taskCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})

	// Scheduling happens off the cycle goroutine: a full photo group blocks
	// in Go, and that must not hold the cycle past EnrichWait. Route tasks
	// get their own unbounded group because the sequential gate already
	// serializes them.
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		defer close(done)
		var routes, photos errgroup.Group
		photos.SetLimit(p.cfg.EnrichConcurrency)

		for i := range tracks {
			t := tracks[i]
			if routeOn && t.NeedsRoute() {
				if _, busy := p.routeInFlight.LoadOrStore(t.Hex, struct{}{}); !busy {
					p.spawn(&routes, "route", t.Hex, func() error {
						defer p.routeInFlight.Delete(t.Hex)
						return p.deps.Route.Enrich(taskCtx, t)
					})
				}
			}
			if photoOn {
				p.spawn(&photos, "photo", t.Hex, func() error {
					return p.deps.Photo.Enrich(taskCtx, t)
				})
			}
		}
		_ = routes.Wait()
		_ = photos.Wait()
	}()

	timer := time.NewTimer(p.cfg.EnrichWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logging.Ctx(ctx).Info().Int64("in_flight", p.inFlight.Load()).
			Msg("enrichment still running, publishing without it")
	}
}

// spawn runs fn as an isolated task: its error or panic is logged and never
// reaches the group, so siblings are not cancelled.
func (p *Poller) spawn(g *errgroup.Group, service, hex string, fn func() error) {
	p.tasks.Add(1)
	p.inFlight.Add(1)
	g.Go(func() error {
		defer p.tasks.Done()
		defer p.inFlight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				metrics.RecordEnrichment(service, "panic")
				logging.Error().Str("service", service).Str("hex", hex).
					Str("panic", fmt.Sprint(r)).Msg("enrichment task panicked")
			}
		}()
		if err := fn(); err != nil {
			logging.Debug().Err(err).Str("service", service).Str("hex", hex).Msg("enrichment skipped")
		}
		return nil
	})
}
