// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package enrich

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when the route service answered 429.
	ErrRateLimited = errors.New("route lookup rate limited")

	// ErrUnauthorized is returned when a request still fails with 401/403
	// after one forced token refresh.
	ErrUnauthorized = errors.New("route lookup unauthorized after token refresh")
)

// HTTPStatusError reports an unexpected response status.
type HTTPStatusError struct {
	Service    string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Service, e.StatusCode)
}
