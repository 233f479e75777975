// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package eventbus distributes finalized tracks and alert/geofence events to
// local viewers and, optionally, to NATS subscribers.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
	"github.com/tomtom215/skyfence/internal/models"
)

// Event kinds carried in message metadata and websocket envelopes.
const (
	KindTracks   = "tracks"
	KindAlert    = "alert"
	KindGeofence = "geofence"
)

// PublishOptions tags a publication.
type PublishOptions struct {
	// NoRebroadcast marks data that bridges must not feed back into the
	// local viewers; it already reached them directly.
	NoRebroadcast bool
}

// Publisher is what the poller and alert engine publish through.
type Publisher interface {
	PublishTracks(ctx context.Context, tracks []models.Track, opts PublishOptions) error
	PublishAlert(ctx context.Context, ev models.AlertEvent) error
	PublishGeofence(ctx context.Context, ev models.GeofenceEvent) error
}

// Sink is one named destination behind a Bus.
type Sink interface {
	Publisher
	Name() string
}

// Bus fans every publication out to all sinks. A failing sink never stops
// the others.
type Bus struct {
	sinks []Sink
}

// New returns a Bus over sinks. A Bus with no sinks discards everything.
func New(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// PublishTracks implements Publisher.
func (b *Bus) PublishTracks(ctx context.Context, tracks []models.Track, opts PublishOptions) error {
	return b.each(KindTracks, func(s Sink) error { return s.PublishTracks(ctx, tracks, opts) })
}

// PublishAlert implements Publisher.
func (b *Bus) PublishAlert(ctx context.Context, ev models.AlertEvent) error {
	return b.each(KindAlert, func(s Sink) error { return s.PublishAlert(ctx, ev) })
}

// PublishGeofence implements Publisher.
func (b *Bus) PublishGeofence(ctx context.Context, ev models.GeofenceEvent) error {
	return b.each(KindGeofence, func(s Sink) error { return s.PublishGeofence(ctx, ev) })
}

func (b *Bus) each(kind string, fn func(Sink) error) error {
	var errs []error
	for _, s := range b.sinks {
		if err := fn(s); err != nil {
			metrics.BusPublishErrors.WithLabelValues(s.Name()).Inc()
			logging.Warn().Err(err).Str("sink", s.Name()).Str("kind", kind).Msg("event publish failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
