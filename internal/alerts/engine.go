// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package alerts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
	"github.com/tomtom215/skyfence/internal/models"
	"github.com/tomtom215/skyfence/internal/notify"
)

// DefaultTemplate renders a match when the rule sets no template.
const DefaultTemplate = "{rule}: {callsign} ({hex}) at {altitude} ft"

// EventPublisher broadcasts alert events to viewers.
type EventPublisher interface {
	PublishAlert(ctx context.Context, ev models.AlertEvent) error
}

// WebhookSender posts to an identified webhook.
type WebhookSender interface {
	Send(ctx context.Context, id, eventType string, data any) error
}

// EmailSender delivers one message to one recipient.
type EmailSender interface {
	Enabled() bool
	Send(ctx context.Context, to, subject, body string) error
}

// AuditRecorder persists an alert record.
type AuditRecorder interface {
	RecordAlert(ctx context.Context, ev models.AlertEvent) error
}

// Dispatchers are the fan-out channels. Nil channels are skipped.
type Dispatchers struct {
	Publisher EventPublisher
	Webhooks  WebhookSender
	Email     EmailSender
	Audit     AuditRecorder
}

// Config configures an Engine.
type Config struct {
	// CacheTTL is how long a rule set read from the store is reused.
	CacheTTL time.Duration

	// Cooldown suppresses repeat alerts for the same rule and aircraft.
	// Zero alerts on every matching cycle.
	Cooldown time.Duration

	// DispatchTimeout bounds each fan-out call.
	DispatchTimeout time.Duration
}

// Engine evaluates rules against tracks.
type Engine struct {
	cfg   Config
	store RuleStore
	out   Dispatchers
	now   func() time.Time

	cacheMu  sync.Mutex
	cached   []Rule
	cachedAt time.Time

	firedMu   sync.Mutex
	lastFired map[string]time.Time

	wg sync.WaitGroup
}

// NewEngine creates an engine reading rules from store.
func NewEngine(cfg Config, store RuleStore, out Dispatchers) *Engine {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		out:       out,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
	}
}

// SetClock replaces the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Invalidate drops the cached rule set so the next Evaluate rereads it.
func (e *Engine) Invalidate() {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cached = nil
	e.cachedAt = time.Time{}
}

// Evaluate matches every track against every applicable rule, starts the
// fan-out for each match and returns the fired events. Fan-out runs in the
// background; Evaluate never waits for delivery.
func (e *Engine) Evaluate(ctx context.Context, tracks []models.Track) []models.AlertEvent {
	rules := e.rules(ctx)
	if len(rules) == 0 || len(tracks) == 0 {
		return nil
	}

	now := e.now()
	e.expireCooldowns(now)

	var fired []models.AlertEvent
	for i := range tracks {
		t := &tracks[i]
		for j := range rules {
			r := &rules[j]
			if !r.Match(t) || !e.admit(r.ID, t.Hex, now) {
				continue
			}
			ev := models.AlertEvent{
				ID:        uuid.NewString(),
				RuleID:    r.ID,
				RuleName:  r.Name,
				Hex:       t.Hex,
				Message:   RenderMessage(r, t),
				Visual:    r.Visual,
				Audible:   r.Audible,
				MapStyle:  r.MapStyle,
				Track:     t.Clone(),
				Timestamp: now,
			}
			metrics.AlertsFired.WithLabelValues(r.ID).Inc()
			logging.Info().Str("rule", r.ID).Str("hex", t.Hex).Msg(ev.Message)

			e.dispatch(ctx, cloneRule(*r), ev)
			fired = append(fired, ev)
		}
	}
	return fired
}

// Wait blocks until every fan-out started so far has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// rules returns the applicable rules, rereading the store when the cache has
// expired. A failing store keeps the previous set.
func (e *Engine) rules(ctx context.Context) []Rule {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	now := e.now()
	if e.cached != nil && now.Sub(e.cachedAt) < e.cfg.CacheTTL {
		return e.cached
	}

	all, err := e.store.Rules(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to load alert rules, using cached set")
		return e.cached
	}
	applicable := make([]Rule, 0, len(all))
	for _, r := range all {
		if r.Applies() {
			applicable = append(applicable, r)
		}
	}
	e.cached = applicable
	e.cachedAt = now
	return applicable
}

// admit applies the per-(rule, aircraft) cooldown.
func (e *Engine) admit(ruleID, hex string, now time.Time) bool {
	if e.cfg.Cooldown <= 0 {
		return true
	}
	key := ruleID + "|" + hex

	e.firedMu.Lock()
	defer e.firedMu.Unlock()
	if last, ok := e.lastFired[key]; ok && now.Sub(last) < e.cfg.Cooldown {
		return false
	}
	e.lastFired[key] = now
	return true
}

func (e *Engine) expireCooldowns(now time.Time) {
	if e.cfg.Cooldown <= 0 {
		return
	}
	e.firedMu.Lock()
	defer e.firedMu.Unlock()
	for key, last := range e.lastFired {
		if now.Sub(last) >= e.cfg.Cooldown {
			delete(e.lastFired, key)
		}
	}
}

// dispatch fans ev out with every channel, and every recipient, in its own
// goroutine. Failures are logged and counted, never returned.
func (e *Engine) dispatch(ctx context.Context, r Rule, ev models.AlertEvent) {
	base := context.WithoutCancel(ctx)

	run := func(channel string, fn func(ctx context.Context) error) {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer func() {
				if p := recover(); p != nil {
					metrics.AlertDispatchErrors.WithLabelValues(channel).Inc()
					logging.Error().Interface("panic", p).Str("channel", channel).Msg("alert dispatch panicked")
				}
			}()

			cctx, cancel := context.WithTimeout(base, e.cfg.DispatchTimeout)
			defer cancel()
			if err := fn(cctx); err != nil {
				metrics.AlertDispatchErrors.WithLabelValues(channel).Inc()
				logging.Warn().Err(err).Str("channel", channel).Str("rule", ev.RuleID).Str("hex", ev.Hex).
					Msg("alert dispatch failed")
			}
		}()
	}

	if e.out.Publisher != nil {
		run("bus", func(ctx context.Context) error { return e.out.Publisher.PublishAlert(ctx, ev) })
	}
	if e.out.Webhooks != nil {
		for _, id := range r.Webhooks {
			run("webhook", func(ctx context.Context) error { return e.out.Webhooks.Send(ctx, id, "alert", ev) })
		}
	}
	if e.out.Email != nil && e.out.Email.Enabled() {
		subject := "Skyfence alert: " + ruleLabel(&r)
		body := emailBody(ev)
		for _, to := range r.Emails {
			run("email", func(ctx context.Context) error { return e.out.Email.Send(ctx, to, subject, body) })
		}
	}
	if e.out.Audit != nil {
		run("audit", func(ctx context.Context) error { return e.out.Audit.RecordAlert(ctx, ev) })
	}
}

// RenderMessage renders r's template, or DefaultTemplate, for t.
func RenderMessage(r *Rule, t *models.Track) string {
	tmpl := r.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	callsign := strings.TrimSpace(t.Callsign)
	if callsign == "" {
		callsign = t.Hex
	}
	return notify.Render(tmpl, map[string]string{
		"rule":         ruleLabel(r),
		"hex":          t.Hex,
		"callsign":     callsign,
		"registration": t.Registration,
		"type":         t.AircraftType,
		"origin":       t.Origin,
		"destination":  t.Destination,
		"altitude":     formatNumber(t.Altitude, 0),
		"speed":        formatNumber(t.GroundSpeed, 0),
		"heading":      formatNumber(t.Heading, 0),
		"lat":          strconv.FormatFloat(t.Lat, 'f', 4, 64),
		"lon":          strconv.FormatFloat(t.Lon, 'f', 4, 64),
	})
}

func formatNumber(v *float64, prec int) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func ruleLabel(r *Rule) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func emailBody(ev models.AlertEvent) string {
	var b strings.Builder
	b.WriteString(ev.Message)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Aircraft: %s\n", ev.Hex)
	if ev.Track.Registration != "" {
		fmt.Fprintf(&b, "Registration: %s\n", ev.Track.Registration)
	}
	if ev.Track.Origin != "" || ev.Track.Destination != "" {
		fmt.Fprintf(&b, "Route: %s - %s\n", ev.Track.Origin, ev.Track.Destination)
	}
	fmt.Fprintf(&b, "Position: %.4f, %.4f\n", ev.Track.Lat, ev.Track.Lon)
	fmt.Fprintf(&b, "Time: %s\n", ev.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}
