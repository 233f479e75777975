// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package eventbus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/skyfence/internal/logging"
)

// Message metadata keys. The NATS marshaler carries them as headers.
const (
	MetaKind          = "kind"
	MetaOrigin        = "origin"
	MetaNoRebroadcast = "no_rebroadcast"
)

// TracksTopic is the subject finalized live sets are published on.
func TracksTopic(prefix string) string { return prefix + ".tracks" }

// EventsTopic is the subject alert and geofence events are published on.
func EventsTopic(prefix string) string { return prefix + ".events" }

// WatermillLogger routes watermill logging through the zerolog global.
func WatermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

func connectOptions(name string) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name(name),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Str("conn", name).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("conn", name).Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
}

// NewPublisher connects a core NATS watermill publisher. Track batches are
// ephemeral, so JetStream persistence is not used.
func NewPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: connectOptions("skyfence-publisher"),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}

// NewSubscriber connects a core NATS watermill subscriber.
func NewSubscriber(url string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     5 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		NatsOptions:      connectOptions("skyfence-subscriber"),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	return sub, nil
}
