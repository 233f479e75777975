// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/skyfence/internal/logging"
)

// Bridge forwards NATS publications from other instances to local viewers.
// Messages flagged no_rebroadcast, and messages this instance sent itself,
// are acknowledged and dropped.
type Bridge struct {
	sub    message.Subscriber
	hub    Broadcaster
	prefix string
	origin string
}

// NewBridge creates a bridge from sub's subjects under prefix into hub.
func NewBridge(sub message.Subscriber, hub Broadcaster, prefix, origin string) *Bridge {
	return &Bridge{sub: sub, hub: hub, prefix: prefix, origin: origin}
}

// Serve subscribes and forwards until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context) error {
	tracks, err := b.sub.Subscribe(ctx, TracksTopic(b.prefix))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TracksTopic(b.prefix), err)
	}
	events, err := b.sub.Subscribe(ctx, EventsTopic(b.prefix))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", EventsTopic(b.prefix), err)
	}
	logging.Info().Str("prefix", b.prefix).Msg("NATS bridge subscribed")

	for {
		var msg *message.Message
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok = <-tracks:
		case msg, ok = <-events:
		}
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.New("NATS subscription closed")
		}
		b.handle(msg)
	}
}

func (b *Bridge) String() string { return "nats-bridge" }

// handle reports whether msg was forwarded. It always acks.
func (b *Bridge) handle(msg *message.Message) bool {
	defer msg.Ack()

	if msg.Metadata.Get(MetaNoRebroadcast) == "true" || msg.Metadata.Get(MetaOrigin) == b.origin {
		return false
	}
	kind := msg.Metadata.Get(MetaKind)
	switch kind {
	case KindTracks, KindAlert, KindGeofence:
	default:
		logging.Debug().Str("kind", kind).Str("uuid", msg.UUID).Msg("bridge skipped unknown kind")
		return false
	}
	if !json.Valid(msg.Payload) {
		logging.Warn().Str("kind", kind).Str("uuid", msg.UUID).Msg("bridge skipped invalid payload")
		return false
	}
	b.hub.BroadcastJSON(kind, json.RawMessage(msg.Payload))
	return true
}
