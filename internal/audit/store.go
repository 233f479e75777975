// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. Data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	maxLen int
}

// NewMemoryStore creates a store holding at most maxLen events.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		events: make([]Event, 0, min(maxLen, 1024)),
		maxLen: maxLen,
	}
}

// Save appends event, dropping the oldest tenth when full.
func (s *MemoryStore) Save(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxLen {
		drop := max(s.maxLen/10, 1)
		s.events = append(s.events[:0], s.events[drop:]...)
	}
	s.events = append(s.events, *event)
	return nil
}

// Get returns the event with id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.events {
		if s.events[i].ID == id {
			e := s.events[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Query returns matching events, newest first.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.limit()
	skipped := 0
	var out []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := &s.events[i]
		if !filter.Matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, *e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Delete removes events older than olderThan.
func (s *MemoryStore) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.Timestamp.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
