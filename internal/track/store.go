// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package track owns the in-memory track state: the live set produced by the
// most recent poll cycle and the session log of every aircraft seen since the
// last manual clear.
//
// All mutation goes through Store methods, which enforce the field merge rule
// from models.Merge. Readers receive copies.
package track

import (
	"sort"
	"sync"

	"github.com/tomtom215/skyfence/internal/models"
)

// Store holds the live set and the session log, keyed by normalized hex.
type Store struct {
	mu   sync.RWMutex
	live map[string]models.Track
	log  map[string]models.Track
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		live: make(map[string]models.Track),
		log:  make(map[string]models.Track),
	}
}

// Upsert merges an observation against the existing record for the same hex
// (live set first, then the session log) and returns the merged track. It
// does not touch either set; the caller collects the results of a cycle and
// hands them to ReplaceLive.
func (s *Store) Upsert(obs models.Track) models.Track {
	obs.Hex = models.NormalizeHex(obs.Hex)

	s.mu.RLock()
	prev, ok := s.live[obs.Hex]
	if !ok {
		prev, ok = s.log[obs.Hex]
	}
	s.mu.RUnlock()

	if !ok {
		return models.Merge(models.Track{}, obs)
	}
	return models.Merge(prev, obs)
}

// ReplaceLive swaps in this cycle's tracks as the live set and unions them
// into the session log. Nothing is removed from the log. Each track is merged
// over the current live copy, so enrichment applied between Upsert and
// ReplaceLive survives the swap.
func (s *Store) ReplaceLive(tracks []models.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]models.Track, len(tracks))
	for i := range tracks {
		t := tracks[i]
		if prev, ok := s.live[t.Hex]; ok {
			live[t.Hex] = models.Merge(prev, t)
		} else {
			live[t.Hex] = t.Clone()
		}
	}

	s.live = live
	for hex, t := range live {
		if prev, ok := s.log[hex]; ok {
			s.log[hex] = models.Merge(prev, t)
		} else {
			s.log[hex] = t.Clone()
		}
	}
}

// Apply writes enrichment results back into the live and the session log
// copy of hex. It is used after the cycle that requested the enrichment may
// already have published. patch receives the current stored copy and returns
// the fields to set; the result is merged, so empty fields in the patch never
// clear anything. Returns false when hex is in neither set.
func (s *Store) Apply(hex string, patch func(current models.Track) models.Track) bool {
	hex = models.NormalizeHex(hex)

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	if t, ok := s.live[hex]; ok {
		s.live[hex] = applyPatch(t, patch)
		found = true
	}
	if t, ok := s.log[hex]; ok {
		s.log[hex] = applyPatch(t, patch)
		found = true
	}
	return found
}

func applyPatch(t models.Track, patch func(models.Track) models.Track) models.Track {
	p := patch(t.Clone())
	p.Hex = t.Hex
	return models.Merge(t, p)
}

// Get returns the live copy of hex, falling back to the session log.
func (s *Store) Get(hex string) (models.Track, bool) {
	hex = models.NormalizeHex(hex)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.live[hex]; ok {
		return t.Clone(), true
	}
	if t, ok := s.log[hex]; ok {
		return t.Clone(), true
	}
	return models.Track{}, false
}

// Live returns the live set ordered by hex.
func (s *Store) Live() []models.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.live)
}

// Log returns the session log ordered by hex.
func (s *Store) Log() []models.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.log)
}

// Counts returns the sizes of the live set and the session log.
func (s *Store) Counts() (live, log int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live), len(s.log)
}

// ClearLog resets the session log to the current live set.
func (s *Store) ClearLog() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = make(map[string]models.Track, len(s.live))
	for hex, t := range s.live {
		s.log[hex] = t.Clone()
	}
}

func snapshot(m map[string]models.Track) []models.Track {
	out := make([]models.Track, 0, len(m))
	for _, t := range m {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex < out[j].Hex })
	return out
}
