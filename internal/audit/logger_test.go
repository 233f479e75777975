// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/models"
)

func TestLoggerRecordAlert(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(100)
	l := NewLogger(store, Config{BufferSize: 10})

	alt := 12000.0
	ctx := logging.ContextWithCycleID(context.Background(), "cyc00001")
	err := l.RecordAlert(ctx, models.AlertEvent{
		ID:        "a1",
		RuleID:    "heavy",
		Hex:       "4ca1b2",
		Message:   "BAW123 at 12000",
		Track:     models.Track{Hex: "4ca1b2", Callsign: "BAW123", Altitude: &alt},
		Timestamp: base,
	})
	if err != nil {
		t.Fatalf("RecordAlert() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	e, err := store.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Type != EventTypeAlertFired || e.RuleID != "heavy" || e.Subject != "4ca1b2" || e.RequestID != "cyc00001" {
		t.Errorf("event = %+v", e)
	}
	var meta map[string]any
	if err := json.Unmarshal(e.Metadata, &meta); err != nil || meta["callsign"] != "BAW123" || meta["altitude"] != 12000.0 {
		t.Errorf("metadata = %s (%v)", e.Metadata, err)
	}
}

func TestLoggerRecordGeofence(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(100)
	l := NewLogger(store, Config{})

	_ = l.RecordGeofence(context.Background(), models.GeofenceEvent{ID: "g1", Event: "exit", EntityKey: "default:4ca1b2"})
	_ = l.RecordGeofence(context.Background(), models.GeofenceEvent{ID: "g2", Event: "enter", EntityKey: "default:4ca1b2"})
	_ = l.Close()

	exits, _ := store.Query(context.Background(), QueryFilter{Types: []EventType{EventTypeGeofenceExit}})
	if len(exits) != 1 || exits[0].ID != "g1" {
		t.Errorf("exits = %v", ids(exits))
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestLoggerFillsDefaults(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(100)
	l := NewLogger(store, Config{})

	ev := &Event{Type: EventTypeLogCleared}
	if err := l.Log(ev); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Errorf("defaults not filled: %+v", ev)
	}
	if _, err := store.Get(context.Background(), ev.ID); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}

// blockingStore holds every Save until release is closed.
type blockingStore struct {
	*MemoryStore
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, e *Event) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.MemoryStore.Save(ctx, e)
}

func TestLoggerDropsWhenFull(t *testing.T) {
	t.Parallel()
	store := &blockingStore{MemoryStore: NewMemoryStore(100), release: make(chan struct{}), started: make(chan struct{})}
	l := NewLogger(store, Config{BufferSize: 1})

	// First event is taken by the writer and blocks in Save.
	_ = l.Log(&Event{Type: EventTypeAlertFired})
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never picked up the first event")
	}
	// Second fills the buffer; third is dropped.
	if err := l.Log(&Event{Type: EventTypeAlertFired}); err != nil {
		t.Fatalf("second Log() error = %v", err)
	}
	if err := l.Log(&Event{Type: EventTypeAlertFired}); !errors.Is(err, ErrBufferFull) {
		t.Errorf("third Log() error = %v, want ErrBufferFull", err)
	}
	if l.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", l.Dropped())
	}

	close(store.release)
	_ = l.Close()
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
	if err := l.Log(&Event{}); !errors.Is(err, ErrBufferFull) {
		t.Errorf("Log() after Close error = %v, want ErrBufferFull", err)
	}
}
