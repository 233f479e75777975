// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package geofence tracks enter and exit transitions of live tracks across
// polygon geofences.
package geofence

import "github.com/tomtom215/skyfence/internal/models"

// Point is a polygon vertex.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geofence is a named polygon with alerting options.
type Geofence struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Enabled       bool          `json:"enabled"`
	Domain        models.Domain `json:"domain"`
	TriggerOnExit bool          `json:"trigger_on_exit"`
	Template      string        `json:"template,omitempty"`
	Polygon       []Point       `json:"polygon"`
}

// Usable reports whether g takes part in evaluation for domain.
func (g Geofence) Usable(domain models.Domain) bool {
	if !g.Enabled || len(g.Polygon) < 3 {
		return false
	}
	return g.Domain == "" || g.Domain == models.DomainAny || g.Domain == domain
}

// Contains reports whether (lat, lon) lies inside g.
func (g Geofence) Contains(lat, lon float64) bool {
	return PointInPolygon(lat, lon, g.Polygon)
}

// PointInPolygon applies the even-odd rule: a ray cast from the point along
// the latitude axis crosses the boundary an odd number of times when the
// point is inside. Points exactly on an edge may land either way.
func PointInPolygon(lat, lon float64, poly []Point) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := range poly {
		a, b := poly[i], poly[j]
		if (a.Lon > lon) != (b.Lon > lon) {
			cross := (b.Lat-a.Lat)*(lon-a.Lon)/(b.Lon-a.Lon) + a.Lat
			if lat < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
