// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package geofence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/skyfence/internal/models"
)

func homeFence(triggerOnExit bool) Geofence {
	return Geofence{
		ID:            "home",
		Name:          "Home",
		Enabled:       true,
		Domain:        models.DomainAircraft,
		TriggerOnExit: triggerOnExit,
		Polygon:       square,
	}
}

func newTestEvaluator(cfg Config, fences ...Geofence) *Evaluator {
	cfg.Enabled = true
	e := NewEvaluator(cfg, nil)
	for _, g := range fences {
		e.Apply(Change{Kind: ChangeUpsert, Geofence: g})
	}
	return e
}

func at(lat, lon float64) []models.Track {
	return []models.Track{{Hex: "4ca1b2", Callsign: "BAW123 ", Lat: lat, Lon: lon}}
}

func directions(events []models.GeofenceEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Event)
	}
	return out
}

func TestEvaluatorHysteresis(t *testing.T) {
	t.Parallel()

	// inside, inside, outside, outside, inside, outside
	path := [][2]float64{{5, 5}, {6, 6}, {15, 15}, {16, 16}, {5, 5}, {15, 15}}

	tests := []struct {
		name          string
		triggerOnExit bool
		want          []string
	}{
		{"enter and exit", true, []string{EventEnter, "", EventExit, "", EventEnter, EventExit}},
		{"enter only", false, []string{EventEnter, "", "", "", EventEnter, ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEvaluator(Config{}, homeFence(tt.triggerOnExit))
			for i, p := range path {
				events := e.Evaluate(at(p[0], p[1]))
				want := tt.want[i]
				if want == "" {
					if len(events) != 0 {
						t.Errorf("step %d: events = %v, want none", i, directions(events))
					}
					continue
				}
				if len(events) != 1 || events[0].Event != want {
					t.Errorf("step %d: events = %v, want [%s]", i, directions(events), want)
				}
			}
		})
	}
}

func TestEvaluatorEventFields(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEvaluator(Config{SiteID: "north"}, homeFence(true))
	e.SetClock(func() time.Time { return fixed })

	events := e.Evaluate(at(5, 5))
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.EntityKey != "north:4ca1b2" {
		t.Errorf("EntityKey = %q", ev.EntityKey)
	}
	if ev.EntityLabel != "BAW123" {
		t.Errorf("EntityLabel = %q", ev.EntityLabel)
	}
	if ev.Message != "BAW123 enters geofence Home" {
		t.Errorf("Message = %q", ev.Message)
	}
	if ev.ID == "" || !ev.Timestamp.Equal(fixed) || ev.Lat != 5 || ev.Domain != models.DomainAircraft {
		t.Errorf("event = %+v", ev)
	}
}

func TestEvaluatorTemplates(t *testing.T) {
	t.Parallel()

	g := homeFence(true)
	g.Template = "{EVENT}: {Entity} in {geofence} ({type})"
	e := newTestEvaluator(Config{Template: "global {entity}"}, g)
	if ev := e.Evaluate(at(5, 5)); len(ev) != 1 || ev[0].Message != "enter: BAW123 in Home (aircraft)" {
		t.Errorf("geofence template: %+v", ev)
	}

	e = newTestEvaluator(Config{Template: "global {entity} {event}"}, homeFence(true))
	if ev := e.Evaluate(at(5, 5)); len(ev) != 1 || ev[0].Message != "global BAW123 enter" {
		t.Errorf("config template: %+v", ev)
	}
}

func TestEvaluatorPurgesDisappearedWithoutExit(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(Config{}, homeFence(true))

	e.Evaluate(at(5, 5))
	if n := e.TrackedEntities(); n != 1 {
		t.Fatalf("TrackedEntities = %d, want 1", n)
	}

	if events := e.Evaluate(nil); len(events) != 0 {
		t.Errorf("disappearance events = %v, want none", directions(events))
	}
	if n := e.TrackedEntities(); n != 0 {
		t.Errorf("TrackedEntities after purge = %d, want 0", n)
	}
	if len(e.state) != 0 {
		t.Errorf("empty geofence map not removed: %v", e.state)
	}

	// Coming back inside is a fresh enter.
	if events := e.Evaluate(at(5, 5)); len(events) != 1 || events[0].Event != EventEnter {
		t.Errorf("re-entry events = %v", directions(events))
	}
}

func TestEvaluatorExitOnDisappear(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(Config{ExitOnDisappear: true}, homeFence(true))

	e.Evaluate(at(5, 5))
	events := e.Evaluate([]models.Track{{Hex: "abcdef", Lat: 50, Lon: 50}})
	if len(events) != 1 || events[0].Event != EventExit {
		t.Fatalf("events = %v, want [exit]", directions(events))
	}
	if events[0].EntityLabel != "4ca1b2" {
		t.Errorf("EntityLabel = %q, want hex", events[0].EntityLabel)
	}

	// Without TriggerOnExit nothing is synthesized.
	e = newTestEvaluator(Config{ExitOnDisappear: true}, homeFence(false))
	e.Evaluate(at(5, 5))
	if events := e.Evaluate(nil); len(events) != 0 {
		t.Errorf("events = %v, want none", directions(events))
	}
}

func TestEvaluatorSkips(t *testing.T) {
	t.Parallel()

	disabled := NewEvaluator(Config{}, nil)
	disabled.Apply(Change{Kind: ChangeUpsert, Geofence: homeFence(true)})
	if ev := disabled.Evaluate(at(5, 5)); ev != nil {
		t.Errorf("disabled evaluator events = %v", ev)
	}

	if ev := newTestEvaluator(Config{}).Evaluate(at(5, 5)); ev != nil {
		t.Errorf("no geofences events = %v", ev)
	}

	msg := homeFence(true)
	msg.Domain = models.DomainMessage
	if ev := newTestEvaluator(Config{}, msg).Evaluate(at(5, 5)); len(ev) != 0 {
		t.Errorf("message-domain geofence fired: %v", ev)
	}
}

func TestEvaluatorDeleteDropsState(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(Config{}, homeFence(true))
	e.Evaluate(at(5, 5))

	e.Apply(Change{Kind: ChangeDelete, Geofence: Geofence{ID: "home"}})
	if n := e.TrackedEntities(); n != 0 {
		t.Errorf("TrackedEntities = %d, want 0", n)
	}
	if len(e.Geofences()) != 0 {
		t.Error("geofence not removed")
	}
}

func TestEvaluatorServeFollowsRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(homeFence(true))
	e := NewEvaluator(Config{Enabled: true}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()

	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for len(e.Geofences()) != n {
			if time.Now().After(deadline) {
				t.Fatalf("geofence count = %d, want %d", len(e.Geofences()), n)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	waitFor(1)
	second := homeFence(false)
	second.ID = "field"
	reg.Upsert(second)
	waitFor(2)
	reg.Delete("home")
	waitFor(1)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
