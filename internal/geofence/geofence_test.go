// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package geofence

import (
	"testing"

	"github.com/tomtom215/skyfence/internal/models"
)

var square = []Point{{0, 0}, {0, 10}, {10, 10}, {10, 0}}

func TestPointInPolygon(t *testing.T) {
	t.Parallel()

	// An L shape: the square with its upper-right quarter removed.
	ell := []Point{{0, 0}, {0, 10}, {5, 10}, {5, 5}, {10, 5}, {10, 0}}

	tests := []struct {
		name     string
		lat, lon float64
		poly     []Point
		want     bool
	}{
		{"square centre", 5, 5, square, true},
		{"square outside", 15, 15, square, false},
		{"square west", 5, -1, square, false},
		{"square south", -1, 5, square, false},
		{"ell inside arm", 2, 8, ell, true},
		{"ell notch", 8, 8, ell, false},
		{"ell corner", 8, 2, ell, true},
		{"degenerate", 0, 0, square[:2], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PointInPolygon(tt.lat, tt.lon, tt.poly); got != tt.want {
				t.Errorf("PointInPolygon(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestGeofenceUsable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		g    Geofence
		want bool
	}{
		{"enabled aircraft", Geofence{Enabled: true, Domain: models.DomainAircraft, Polygon: square}, true},
		{"unset domain", Geofence{Enabled: true, Polygon: square}, true},
		{"any domain", Geofence{Enabled: true, Domain: models.DomainAny, Polygon: square}, true},
		{"message domain", Geofence{Enabled: true, Domain: models.DomainMessage, Polygon: square}, false},
		{"disabled", Geofence{Domain: models.DomainAircraft, Polygon: square}, false},
		{"two vertices", Geofence{Enabled: true, Polygon: square[:2]}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.g.Usable(models.DomainAircraft); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}
