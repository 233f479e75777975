// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package alerts

import (
	"context"
	"sort"
	"sync"
)

// RuleStore supplies the current rule set.
type RuleStore interface {
	Rules(ctx context.Context) ([]Rule, error)
}

// MemoryRuleStore is an in-memory RuleStore.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewMemoryRuleStore returns a store seeded with rules.
func NewMemoryRuleStore(rules ...Rule) *MemoryRuleStore {
	s := &MemoryRuleStore{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		s.rules[r.ID] = cloneRule(r)
	}
	return s
}

// Rules returns all rules ordered by id.
func (s *MemoryRuleStore) Rules(_ context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put adds or replaces r.
func (s *MemoryRuleStore) Put(r Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = cloneRule(r)
}

// Delete removes the rule with id.
func (s *MemoryRuleStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
}

func cloneRule(r Rule) Rule {
	r.Emails = append([]string(nil), r.Emails...)
	r.Webhooks = append([]string(nil), r.Webhooks...)
	return r
}
