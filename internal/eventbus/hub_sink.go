// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package eventbus

import (
	"context"

	"github.com/tomtom215/skyfence/internal/models"
)

// Broadcaster is satisfied by *websocket.Hub.
type Broadcaster interface {
	BroadcastJSON(messageType string, data any)
}

// HubSink delivers publications to local websocket viewers.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink wraps hub.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

// PublishTracks always reaches local viewers; NoRebroadcast only concerns bridges.
func (s *HubSink) PublishTracks(_ context.Context, tracks []models.Track, _ PublishOptions) error {
	s.hub.BroadcastJSON(KindTracks, tracks)
	return nil
}

func (s *HubSink) PublishAlert(_ context.Context, ev models.AlertEvent) error {
	s.hub.BroadcastJSON(KindAlert, ev)
	return nil
}

func (s *HubSink) PublishGeofence(_ context.Context, ev models.GeofenceEvent) error {
	s.hub.BroadcastJSON(KindGeofence, ev)
	return nil
}
