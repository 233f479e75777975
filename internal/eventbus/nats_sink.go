// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
	"github.com/tomtom215/skyfence/internal/models"
)

// NATSSink publishes to <prefix>.tracks and <prefix>.events.
type NATSSink struct {
	pub     message.Publisher
	prefix  string
	origin  string
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewNATSSink publishes through pub. origin identifies this instance so its
// own bridge can skip what it sent.
func NewNATSSink(pub message.Publisher, prefix, origin string) *NATSSink {
	const name = "nats"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return &NATSSink{
		pub:    pub,
		prefix: prefix,
		origin: origin,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("NATS circuit breaker state change")
				var v float64
				switch to {
				case gobreaker.StateHalfOpen:
					v = 1
				case gobreaker.StateOpen:
					v = 2
				}
				metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
			},
		}),
	}
}

func (s *NATSSink) Name() string { return "nats" }

// Origin is the instance tag stamped on every message.
func (s *NATSSink) Origin() string { return s.origin }

func (s *NATSSink) PublishTracks(ctx context.Context, tracks []models.Track, opts PublishOptions) error {
	return s.publish(ctx, TracksTopic(s.prefix), KindTracks, tracks, opts.NoRebroadcast)
}

func (s *NATSSink) PublishAlert(ctx context.Context, ev models.AlertEvent) error {
	return s.publish(ctx, EventsTopic(s.prefix), KindAlert, ev, false)
}

func (s *NATSSink) PublishGeofence(ctx context.Context, ev models.GeofenceEvent) error {
	return s.publish(ctx, EventsTopic(s.prefix), KindGeofence, ev, false)
}

func (s *NATSSink) publish(ctx context.Context, topic, kind string, data any, noRebroadcast bool) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(MetaKind, kind)
	msg.Metadata.Set(MetaOrigin, s.origin)
	msg.Metadata.Set(MetaNoRebroadcast, strconv.FormatBool(noRebroadcast))
	msg.SetContext(ctx)

	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.pub.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying publisher.
func (s *NATSSink) Close() error {
	return s.pub.Close()
}
