// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	cycleIDKey   contextKey = "cycle_id"
	requestIDKey contextKey = "request_id"
)

// NewCycleID returns a short id used to correlate every log line of one poll cycle.
func NewCycleID() string {
	return uuid.New().String()[:8]
}

// NewRequestID returns a full UUID for HTTP request tracing.
func NewRequestID() string {
	return uuid.New().String()
}

// ContextWithCycleID attaches a poll cycle id to ctx.
func ContextWithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// ContextWithRequestID attaches an HTTP request id to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// CycleIDFromContext returns the cycle id or "".
func CycleIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey).(string)
	return id
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Ctx returns the global logger with any cycle_id and request_id found in ctx.
//
//	logging.Ctx(ctx).Warn().Err(err).Msg("route lookup failed")
func Ctx(ctx context.Context) *zerolog.Logger {
	lc := Logger().With()
	if id := CycleIDFromContext(ctx); id != "" {
		lc = lc.Str("cycle_id", id)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	l := lc.Logger()
	return &l
}
