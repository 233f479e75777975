// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package geofence

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/skyfence/internal/logging"
)

// ChangeKind is the type of a geofence change.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeDelete ChangeKind = "delete"
)

// Change is one entry of a geofence change stream. For deletes only
// Geofence.ID is meaningful.
type Change struct {
	Kind     ChangeKind
	Geofence Geofence
}

// Source lists geofences and streams later changes.
type Source interface {
	List(ctx context.Context) ([]Geofence, error)
	Watch(ctx context.Context) (<-chan Change, error)
}

const watchBuffer = 64

// Registry is an in-memory Source. Watch channels are closed when their
// context ends.
type Registry struct {
	mu       sync.RWMutex
	fences   map[string]Geofence
	watchers map[chan Change]struct{}
}

// NewRegistry returns a registry seeded with fences.
func NewRegistry(fences ...Geofence) *Registry {
	r := &Registry{
		fences:   make(map[string]Geofence, len(fences)),
		watchers: make(map[chan Change]struct{}),
	}
	for _, g := range fences {
		r.fences[g.ID] = cloneFence(g)
	}
	return r
}

// List returns all geofences ordered by id.
func (r *Registry) List(_ context.Context) ([]Geofence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Geofence, 0, len(r.fences))
	for _, g := range r.fences {
		out = append(out, cloneFence(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Watch subscribes to changes made after the call.
func (r *Registry) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, watchBuffer)

	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers, ch)
		close(ch)
		r.mu.Unlock()
	}()
	return ch, nil
}

// Upsert adds or replaces g.
func (r *Registry) Upsert(g Geofence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fences[g.ID] = cloneFence(g)
	r.notifyLocked(Change{Kind: ChangeUpsert, Geofence: cloneFence(g)})
}

// Delete removes the geofence with id. It reports whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fences[id]; !ok {
		return false
	}
	delete(r.fences, id)
	r.notifyLocked(Change{Kind: ChangeDelete, Geofence: Geofence{ID: id}})
	return true
}

func (r *Registry) notifyLocked(c Change) {
	for ch := range r.watchers {
		select {
		case ch <- c:
		default:
			logging.Warn().Str("geofence", c.Geofence.ID).Msg("geofence watcher full, dropping change")
		}
	}
}

func cloneFence(g Geofence) Geofence {
	g.Polygon = append([]Point(nil), g.Polygon...)
	return g
}
