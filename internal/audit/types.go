// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package audit keeps a durable trail of fired alerts, geofence transitions
// and operator actions.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	EventTypeAlertFired    EventType = "alert.fired"
	EventTypeGeofenceEnter EventType = "geofence.enter"
	EventTypeGeofenceExit  EventType = "geofence.exit"
	EventTypeLogCleared    EventType = "tracks.log_cleared"
	EventTypePollRequested EventType = "poller.kicked"
)

// ErrNotFound is returned by Store.Get for an unknown id.
var ErrNotFound = errors.New("audit event not found")

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Subject is the aircraft hex or entity key the event is about.
	Subject string `json:"subject,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`

	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
}

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	Types     []EventType
	Subject   string
	RuleID    string
	StartTime *time.Time
	EndTime   *time.Time

	// Limit defaults to 100.
	Limit  int
	Offset int
}

// Store persists audit events. Query returns newest first.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// Matches reports whether e passes f, ignoring Limit and Offset.
func (f *QueryFilter) Matches(e *Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.RuleID != "" && e.RuleID != f.RuleID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

func (f *QueryFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}
