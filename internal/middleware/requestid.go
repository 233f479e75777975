// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package middleware holds the chi-compatible HTTP middleware used by the
// status API.
package middleware

import (
	"net/http"

	"github.com/tomtom215/skyfence/internal/logging"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxUpstreamIDLen bounds ids accepted from a proxy.
const maxUpstreamIDLen = 128

// RequestID reuses an upstream X-Request-ID or mints a UUID, echoes it on
// the response and attaches it to the logging context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxUpstreamIDLen {
			id = logging.NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}
