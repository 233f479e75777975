// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package geofence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
	"github.com/tomtom215/skyfence/internal/models"
	"github.com/tomtom215/skyfence/internal/notify"
)

// DefaultTemplate is used when neither the geofence nor the config sets one.
const DefaultTemplate = "{entity} {event}s geofence {geofence}"

const (
	EventEnter = "enter"
	EventExit  = "exit"
)

// Config configures an Evaluator.
type Config struct {
	Enabled bool

	// ExitOnDisappear emits an exit for an entity that drops out of the live
	// set while inside a geofence with TriggerOnExit. Otherwise it is purged
	// silently.
	ExitOnDisappear bool
	Template        string
	SiteID          string

	// ResyncInterval is how often the full geofence list is reloaded on top
	// of the change stream.
	ResyncInterval time.Duration
}

// Evaluator holds the geofence set and the per-(geofence, entity)
// containment state between cycles.
type Evaluator struct {
	cfg    Config
	source Source
	now    func() time.Time

	mu     sync.Mutex
	fences map[string]Geofence
	// state maps geofence id to the entity keys currently inside it.
	state map[string]map[string]bool
}

// NewEvaluator builds an evaluator fed from source. source may be nil when
// geofences are only set through Apply.
func NewEvaluator(cfg Config, source Source) *Evaluator {
	if cfg.SiteID == "" {
		cfg.SiteID = "default"
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 5 * time.Minute
	}
	return &Evaluator{
		cfg:    cfg,
		source: source,
		now:    time.Now,
		fences: make(map[string]Geofence),
		state:  make(map[string]map[string]bool),
	}
}

// SetClock replaces the event timestamp source. Tests only.
func (e *Evaluator) SetClock(now func() time.Time) { e.now = now }

// Load replaces the geofence set with the source's list.
func (e *Evaluator) Load(ctx context.Context) error {
	if e.source == nil {
		return nil
	}
	list, err := e.source.List(ctx)
	if err != nil {
		return fmt.Errorf("list geofences: %w", err)
	}

	fences := make(map[string]Geofence, len(list))
	for _, g := range list {
		fences[g.ID] = cloneFence(g)
	}

	e.mu.Lock()
	e.fences = fences
	for id := range e.state {
		if _, ok := fences[id]; !ok {
			delete(e.state, id)
		}
	}
	e.mu.Unlock()

	logging.Debug().Int("geofences", len(fences)).Msg("geofence set loaded")
	return nil
}

// Apply folds one change into the geofence set.
func (e *Evaluator) Apply(c Change) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch c.Kind {
	case ChangeUpsert:
		e.fences[c.Geofence.ID] = cloneFence(c.Geofence)
	case ChangeDelete:
		delete(e.fences, c.Geofence.ID)
		delete(e.state, c.Geofence.ID)
	}
}

// Serve subscribes to the source's change stream and keeps the geofence set
// current until ctx ends. It implements suture.Service.
func (e *Evaluator) Serve(ctx context.Context) error {
	if e.source == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	// Subscribe before listing so no change between the two is lost.
	changes, err := e.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch geofences: %w", err)
	}
	if err := e.Load(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("geofence change stream closed")
			}
			e.Apply(c)
		case <-ticker.C:
			if err := e.Load(ctx); err != nil {
				logging.Warn().Err(err).Msg("geofence resync failed")
			}
		}
	}
}

func (e *Evaluator) String() string { return "geofence-evaluator" }

// Geofences returns the current set ordered by id.
func (e *Evaluator) Geofences() []Geofence {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.sortedLocked()
	for i := range out {
		out[i] = cloneFence(out[i])
	}
	return out
}

// TrackedEntities returns the number of (geofence, entity) pairs inside.
func (e *Evaluator) TrackedEntities() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trackedLocked()
}

// Evaluate tests every track against every usable geofence and returns the
// transitions since the previous call. Entities missing from tracks are
// forgotten afterwards.
func (e *Evaluator) Evaluate(tracks []models.Track) []models.GeofenceEvent {
	if !e.cfg.Enabled {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.fences) == 0 {
		return nil
	}

	now := e.now()
	fences := e.sortedLocked()
	seen := make(map[string]struct{}, len(tracks))
	var events []models.GeofenceEvent

	for i := range tracks {
		t := &tracks[i]
		key := e.entityKey(t.Hex)
		seen[key] = struct{}{}

		for _, g := range fences {
			if !g.Usable(models.DomainAircraft) {
				delete(e.state, g.ID)
				continue
			}
			inside := g.Contains(t.Lat, t.Lon)
			was := e.state[g.ID][key]

			switch {
			case inside && !was:
				events = append(events, e.event(g, key, entityLabel(t), EventEnter, t.Lat, t.Lon, now))
			case !inside && was && g.TriggerOnExit:
				events = append(events, e.event(g, key, entityLabel(t), EventExit, t.Lat, t.Lon, now))
			}

			if inside {
				m := e.state[g.ID]
				if m == nil {
					m = make(map[string]bool)
					e.state[g.ID] = m
				}
				m[key] = true
			} else if m := e.state[g.ID]; m != nil {
				delete(m, key)
			}
		}
	}

	events = append(events, e.purgeLocked(seen, now)...)

	for _, ev := range events {
		metrics.GeofenceEvents.WithLabelValues(ev.Event).Inc()
	}
	metrics.GeofenceTrackedEntities.Set(float64(e.trackedLocked()))
	return events
}

// purgeLocked drops state for entities not seen this cycle and removes
// empty or orphaned geofence maps.
func (e *Evaluator) purgeLocked(seen map[string]struct{}, now time.Time) []models.GeofenceEvent {
	var events []models.GeofenceEvent
	for id, m := range e.state {
		g, exists := e.fences[id]
		for key, inside := range m {
			if _, ok := seen[key]; ok {
				continue
			}
			if inside && exists && e.cfg.ExitOnDisappear && g.TriggerOnExit {
				hex := key[strings.LastIndexByte(key, ':')+1:]
				events = append(events, e.event(g, key, hex, EventExit, 0, 0, now))
			}
			delete(m, key)
		}
		if len(m) == 0 || !exists {
			delete(e.state, id)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].GeofenceID != events[j].GeofenceID {
			return events[i].GeofenceID < events[j].GeofenceID
		}
		return events[i].EntityKey < events[j].EntityKey
	})
	return events
}

func (e *Evaluator) event(g Geofence, key, label, direction string, lat, lon float64, now time.Time) models.GeofenceEvent {
	name := g.Name
	if name == "" {
		name = g.ID
	}
	tmpl := g.Template
	if tmpl == "" {
		tmpl = e.cfg.Template
	}
	if tmpl == "" {
		tmpl = DefaultTemplate
	}

	msg := notify.Render(tmpl, map[string]string{
		"geofence": name,
		"entity":   label,
		"type":     string(models.DomainAircraft),
		"event":    direction,
	})
	return models.GeofenceEvent{
		ID:           uuid.NewString(),
		GeofenceID:   g.ID,
		GeofenceName: name,
		EntityKey:    key,
		EntityLabel:  label,
		Domain:       models.DomainAircraft,
		Event:        direction,
		Message:      msg,
		Lat:          lat,
		Lon:          lon,
		Timestamp:    now,
	}
}

func (e *Evaluator) entityKey(hex string) string {
	return e.cfg.SiteID + ":" + models.NormalizeHex(hex)
}

func (e *Evaluator) sortedLocked() []Geofence {
	out := make([]Geofence, 0, len(e.fences))
	for _, g := range e.fences {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Evaluator) trackedLocked() int {
	n := 0
	for _, m := range e.state {
		n += len(m)
	}
	return n
}

func entityLabel(t *models.Track) string {
	switch {
	case strings.TrimSpace(t.Callsign) != "":
		return strings.TrimSpace(t.Callsign)
	case t.Registration != "":
		return t.Registration
	default:
		return t.Hex
	}
}
