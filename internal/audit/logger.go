// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/models"
)

// ErrBufferFull is returned when an event is dropped because the async
// buffer is full or the logger is closed.
var ErrBufferFull = errors.New("audit buffer full")

// Config holds configuration for the audit logger.
type Config struct {
	// BufferSize is the size of the async write buffer.
	BufferSize int

	// LogToStdout also writes events to the application log.
	LogToStdout bool
}

// Logger writes audit events to a Store from a background goroutine so
// callers never wait on storage.
type Logger struct {
	config    Config
	store     Store
	eventChan chan *Event
	stopChan  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Int64
}

// NewLogger creates a logger and starts its writer.
func NewLogger(store Store, config Config) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()
	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	if l.config.LogToStdout {
		if data, err := json.Marshal(event); err == nil {
			logging.Info().RawJSON("event", data).Msg("audit event")
		}
	}
	if l.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, event); err != nil {
		logging.Error().Err(err).Str("event_id", event.ID).Msg("failed to save audit event")
	}
}

// Log queues event. It fills in ID and Timestamp when unset.
func (l *Logger) Log(event *Event) error {
	if l.closed.Load() {
		l.dropped.Add(1)
		return ErrBufferFull
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case l.eventChan <- event:
		return nil
	default:
		l.dropped.Add(1)
		logging.Warn().Str("event_id", event.ID).Msg("audit event buffer full, dropping event")
		return ErrBufferFull
	}
}

// RecordAlert queues an audit record for a fired alert rule.
func (l *Logger) RecordAlert(ctx context.Context, ev models.AlertEvent) error {
	meta, err := json.Marshal(struct {
		Callsign     string   `json:"callsign,omitempty"`
		Registration string   `json:"registration,omitempty"`
		Lat          float64  `json:"lat"`
		Lon          float64  `json:"lon"`
		Altitude     *float64 `json:"altitude,omitempty"`
		Origin       string   `json:"origin,omitempty"`
		Destination  string   `json:"destination,omitempty"`
	}{
		Callsign:     ev.Track.Callsign,
		Registration: ev.Track.Registration,
		Lat:          ev.Track.Lat,
		Lon:          ev.Track.Lon,
		Altitude:     ev.Track.Altitude,
		Origin:       ev.Track.Origin,
		Destination:  ev.Track.Destination,
	})
	if err != nil {
		return err
	}
	return l.Log(&Event{
		ID:          ev.ID,
		Timestamp:   ev.Timestamp,
		Type:        EventTypeAlertFired,
		Subject:     ev.Hex,
		RuleID:      ev.RuleID,
		Description: ev.Message,
		Metadata:    meta,
		RequestID:   logging.CycleIDFromContext(ctx),
	})
}

// RecordGeofence queues an audit record for a geofence transition.
func (l *Logger) RecordGeofence(ctx context.Context, ev models.GeofenceEvent) error {
	typ := EventTypeGeofenceEnter
	if ev.Event == "exit" {
		typ = EventTypeGeofenceExit
	}
	meta, err := json.Marshal(map[string]any{
		"geofence_id":   ev.GeofenceID,
		"geofence_name": ev.GeofenceName,
		"lat":           ev.Lat,
		"lon":           ev.Lon,
	})
	if err != nil {
		return err
	}
	return l.Log(&Event{
		ID:          ev.ID,
		Timestamp:   ev.Timestamp,
		Type:        typ,
		Subject:     ev.EntityKey,
		Description: ev.Message,
		Metadata:    meta,
		RequestID:   logging.CycleIDFromContext(ctx),
	})
}

// Store returns the backing store.
func (l *Logger) Store() Store { return l.store }

// Dropped returns the number of events dropped since start.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Close stops accepting events, drains the buffer and waits for the writer.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopChan)
	})
	l.wg.Wait()
	return nil
}
