// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package alerts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/skyfence/internal/models"
)

// recorder is a fake for every dispatch channel.
type recorder struct {
	mu        sync.Mutex
	published []models.AlertEvent
	webhooks  []string
	emails    []string
	audited   []string

	failEmail string
	gate      chan struct{} // when set, webhooks block until closed
}

func (r *recorder) PublishAlert(_ context.Context, ev models.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, ev)
	return nil
}

func (r *recorder) Send(ctx context.Context, id, eventType string, _ any) error {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks = append(r.webhooks, id+":"+eventType)
	return nil
}

func (r *recorder) RecordAlert(_ context.Context, ev models.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audited = append(r.audited, ev.RuleID)
	return errors.New("audit store down")
}

type fakeMailer struct{ r *recorder }

func (m fakeMailer) Enabled() bool { return true }

func (m fakeMailer) Send(_ context.Context, to, _, _ string) error {
	if to == m.r.failEmail {
		return errors.New("mailbox unavailable")
	}
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	m.r.emails = append(m.r.emails, to)
	return nil
}

func dispatchers(r *recorder) Dispatchers {
	return Dispatchers{Publisher: r, Webhooks: r, Email: fakeMailer{r}, Audit: r}
}

var heavyRule = Rule{
	ID:          "heavy",
	Name:        "High flyer",
	Enabled:     true,
	MinAltitude: f(10000),
	Visual:      true,
	MapStyle:    "red",
	Emails:      []string{"bad@example.com", "ops@example.com"},
	Webhooks:    []string{"ops", "slack"},
}

func tracks() []models.Track {
	return []models.Track{
		{Hex: "4ca1b2", Callsign: "BAW123", Altitude: f(12000)},
		{Hex: "abc123", Callsign: "LOW1", Altitude: f(8000)},
		{Hex: "def456", Callsign: "NOALT"},
	}
}

func TestEngineFiresAndFansOut(t *testing.T) {
	t.Parallel()
	rec := &recorder{failEmail: "bad@example.com"}
	e := NewEngine(Config{}, NewMemoryRuleStore(heavyRule), dispatchers(rec))

	fired := e.Evaluate(context.Background(), tracks())
	if len(fired) != 1 || fired[0].Hex != "4ca1b2" {
		t.Fatalf("fired = %+v, want only 4ca1b2", fired)
	}
	if fired[0].ID == "" || !fired[0].Visual || fired[0].MapStyle != "red" || fired[0].RuleName != "High flyer" {
		t.Errorf("event = %+v", fired[0])
	}
	e.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.published) != 1 {
		t.Errorf("published = %d, want 1", len(rec.published))
	}
	sort.Strings(rec.webhooks)
	if len(rec.webhooks) != 2 || rec.webhooks[0] != "ops:alert" || rec.webhooks[1] != "slack:alert" {
		t.Errorf("webhooks = %v", rec.webhooks)
	}
	// One recipient failing does not stop the other.
	if len(rec.emails) != 1 || rec.emails[0] != "ops@example.com" {
		t.Errorf("emails = %v", rec.emails)
	}
	// A failing audit store is attempted and swallowed.
	if len(rec.audited) != 1 {
		t.Errorf("audited = %v", rec.audited)
	}
}

func TestEngineDoesNotWaitForSlowChannels(t *testing.T) {
	t.Parallel()
	rec := &recorder{gate: make(chan struct{})}
	e := NewEngine(Config{}, NewMemoryRuleStore(heavyRule), dispatchers(rec))

	done := make(chan []models.AlertEvent, 1)
	go func() { done <- e.Evaluate(context.Background(), tracks()) }()

	select {
	case fired := <-done:
		if len(fired) != 1 {
			t.Errorf("fired = %d, want 1", len(fired))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Evaluate blocked on a slow webhook")
	}

	// The other channels completed while webhooks were still held.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.published) + len(rec.emails)
		rec.mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bus and email deliveries = %d, want 3", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(rec.gate)
	e.Wait()
	if len(rec.webhooks) != 2 {
		t.Errorf("webhooks = %v", rec.webhooks)
	}
}

func TestEngineCooldown(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(Config{Cooldown: 10 * time.Minute}, NewMemoryRuleStore(heavyRule), Dispatchers{})
	e.SetClock(func() time.Time { return now })

	if n := len(e.Evaluate(context.Background(), tracks())); n != 1 {
		t.Fatalf("first cycle fired %d, want 1", n)
	}
	now = now.Add(5 * time.Minute)
	if n := len(e.Evaluate(context.Background(), tracks())); n != 0 {
		t.Errorf("within cooldown fired %d, want 0", n)
	}
	now = now.Add(6 * time.Minute)
	if n := len(e.Evaluate(context.Background(), tracks())); n != 1 {
		t.Errorf("after cooldown fired %d, want 1", n)
	}
}

func TestEngineNoCooldownFiresEveryCycle(t *testing.T) {
	t.Parallel()
	e := NewEngine(Config{}, NewMemoryRuleStore(heavyRule), Dispatchers{})
	for i := 0; i < 3; i++ {
		if n := len(e.Evaluate(context.Background(), tracks())); n != 1 {
			t.Errorf("cycle %d fired %d, want 1", i, n)
		}
	}
}

func TestEngineRuleCache(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryRuleStore(heavyRule)
	e := NewEngine(Config{CacheTTL: time.Minute}, store, Dispatchers{})
	e.SetClock(func() time.Time { return now })

	e.Evaluate(context.Background(), tracks())
	store.Delete("heavy")

	now = now.Add(30 * time.Second)
	if n := len(e.Evaluate(context.Background(), tracks())); n != 1 {
		t.Errorf("cached rules fired %d, want 1", n)
	}
	now = now.Add(time.Minute)
	if n := len(e.Evaluate(context.Background(), tracks())); n != 0 {
		t.Errorf("expired cache fired %d, want 0", n)
	}

	store.Put(heavyRule)
	e.Invalidate()
	if n := len(e.Evaluate(context.Background(), tracks())); n != 1 {
		t.Errorf("after Invalidate fired %d, want 1", n)
	}
}

type failingStore struct {
	mu   sync.Mutex
	fail bool
	*MemoryRuleStore
}

func (s *failingStore) Rules(ctx context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("rule store unavailable")
	}
	return s.MemoryRuleStore.Rules(ctx)
}

func TestEngineKeepsRulesWhenStoreFails(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &failingStore{MemoryRuleStore: NewMemoryRuleStore(heavyRule)}
	e := NewEngine(Config{CacheTTL: time.Second}, store, Dispatchers{})
	e.SetClock(func() time.Time { return now })

	e.Evaluate(context.Background(), tracks())
	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()
	now = now.Add(time.Hour)

	if n := len(e.Evaluate(context.Background(), tracks())); n != 1 {
		t.Errorf("fired %d with failing store, want 1 from the previous set", n)
	}
}

func TestEngineSkipsDisabledAndMessageRules(t *testing.T) {
	t.Parallel()
	disabled := heavyRule
	disabled.ID = "off"
	disabled.Enabled = false
	message := heavyRule
	message.ID = "msg"
	message.Domain = models.DomainMessage

	e := NewEngine(Config{}, NewMemoryRuleStore(disabled, message), Dispatchers{})
	if fired := e.Evaluate(context.Background(), tracks()); len(fired) != 0 {
		t.Errorf("fired = %+v, want none", fired)
	}
}
