// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package main

import (
	"strings"
	"time"

	"github.com/tomtom215/skyfence/internal/alerts"
	"github.com/tomtom215/skyfence/internal/config"
	"github.com/tomtom215/skyfence/internal/geofence"
	"github.com/tomtom215/skyfence/internal/models"
)

func geofencesFromConfig(entries []config.GeofenceEntry) []geofence.Geofence {
	out := make([]geofence.Geofence, 0, len(entries))
	for _, e := range entries {
		g := geofence.Geofence{
			ID:            e.ID,
			Name:          e.Name,
			Enabled:       e.Enabled,
			Domain:        models.Domain(strings.ToLower(e.Domain)),
			TriggerOnExit: e.TriggerOnExit,
			Template:      e.Template,
			Polygon:       make([]geofence.Point, 0, len(e.Points)),
		}
		if g.Name == "" {
			g.Name = g.ID
		}
		for _, p := range e.Points {
			g.Polygon = append(g.Polygon, geofence.Point{Lat: p[0], Lon: p[1]})
		}
		out = append(out, g)
	}
	return out
}

func rulesFromConfig(entries []config.RuleEntry) []alerts.Rule {
	out := make([]alerts.Rule, 0, len(entries))
	for _, e := range entries {
		r := alerts.Rule{
			ID:           e.ID,
			Name:         e.Name,
			Enabled:      e.Enabled,
			Domain:       models.Domain(strings.ToLower(e.Domain)),
			Mode:         alerts.Mode(strings.ToUpper(e.Mode)),
			Hex:          e.Hex,
			Callsign:     e.Callsign,
			Registration: e.Reg,
			Country:      e.Country,
			Category:     e.Category,
			Origin:       e.Origin,
			Destination:  e.Destination,
			Exact:        e.Exact,
			MinAltitude:  e.MinAlt,
			MaxAltitude:  e.MaxAlt,
			MinSpeed:     e.MinSpeed,
			MaxSpeed:     e.MaxSpeed,
			Visual:       e.Visual,
			Audible:      e.Audible,
			MapStyle:     e.MapStyle,
			Emails:       e.Emails,
			Webhooks:     e.Webhooks,
			Template:     e.Template,
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		if r.Mode == "" {
			r.Mode = alerts.ModeAll
		}
		out = append(out, r)
	}
	return out
}

// webhookSpacing turns a posts-per-second rate into the minimum gap between
// posts. Zero means the dispatcher default.
func webhookSpacing(perSecond float64) time.Duration {
	if perSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / perSecond)
}
