// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package models defines the Track record and the events derived from it.
package models

import (
	"strings"
	"time"
)

// RouteSource records where a track's origin/destination came from.
type RouteSource string

const (
	RouteSourceNone     RouteSource = ""
	RouteSourceFeed     RouteSource = "feed"
	RouteSourceExternal RouteSource = "external"
)

// Airport is the resolved metadata for one end of a route.
type Airport struct {
	Name string `json:"name,omitempty"`
	ICAO string `json:"icao,omitempty"`
	IATA string `json:"iata,omitempty"`
}

// IsZero reports whether no airport field is set.
func (a Airport) IsZero() bool {
	return a.Name == "" && a.ICAO == "" && a.IATA == ""
}

// Photo is a representative aircraft photo.
type Photo struct {
	URL       string `json:"url,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Author    string `json:"author,omitempty"`
	Source    string `json:"source,omitempty"`
}

// IsZero reports whether the photo carries no data.
func (p Photo) IsZero() bool {
	return p.URL == "" && p.Thumbnail == "" && p.Author == "" && p.Source == ""
}

// Track is the live record for one aircraft. Pointer fields are nil when
// unknown so that zero (ground level, stationary, due north) stays distinct
// from "not reported".
type Track struct {
	Hex string `json:"hex"`

	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Altitude    *float64 `json:"altitude,omitempty"`
	GroundSpeed *float64 `json:"ground_speed,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`

	Callsign     string `json:"callsign,omitempty"`
	Registration string `json:"registration,omitempty"`
	Squawk       string `json:"squawk,omitempty"`
	Category     string `json:"category,omitempty"`
	AircraftType string `json:"aircraft_type,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Country      string `json:"country,omitempty"`
	Messages     int64  `json:"messages,omitempty"`

	Origin             string      `json:"origin,omitempty"`
	Destination        string      `json:"destination,omitempty"`
	OriginAirport      Airport     `json:"origin_airport,omitempty"`
	DestinationAirport Airport     `json:"destination_airport,omitempty"`
	RouteSource        RouteSource `json:"route_source,omitempty"`

	Photo Photo `json:"photo,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NormalizeHex trims and lower-cases an ICAO address. A leading '~' marks a
// non-ICAO (TIS-B) address and is kept.
func NormalizeHex(hex string) string {
	return strings.ToLower(strings.TrimSpace(hex))
}

// NeedsRoute reports whether origin or destination is still unknown.
func (t *Track) NeedsRoute() bool {
	return t.Origin == "" || t.Destination == ""
}

// Clone returns a deep copy. Pointer fields are copied so the clone can be
// handed to other goroutines.
func (t *Track) Clone() Track {
	c := *t
	c.Altitude = clonePtr(t.Altitude)
	c.GroundSpeed = clonePtr(t.GroundSpeed)
	c.Heading = clonePtr(t.Heading)
	return c
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Merge folds next into prev. A field of next replaces the previous value
// only when next supplies a non-empty value; anything next leaves empty keeps
// whatever prev had. FirstSeen always comes from prev when prev has one.
// Position is the exception: a timestamped observation always carries its
// coordinates, (0,0) included, while an enrichment patch carries none.
func Merge(prev, next Track) Track {
	out := prev.Clone()

	if next.Hex != "" {
		out.Hex = next.Hex
	}
	if !next.LastSeen.IsZero() || next.Lat != 0 || next.Lon != 0 {
		out.Lat, out.Lon = next.Lat, next.Lon
	}
	mergePtr(&out.Altitude, next.Altitude)
	mergePtr(&out.GroundSpeed, next.GroundSpeed)
	mergePtr(&out.Heading, next.Heading)

	mergeStr(&out.Callsign, next.Callsign)
	mergeStr(&out.Registration, next.Registration)
	mergeStr(&out.Squawk, next.Squawk)
	mergeStr(&out.Category, next.Category)
	mergeStr(&out.AircraftType, next.AircraftType)
	mergeStr(&out.Manufacturer, next.Manufacturer)
	mergeStr(&out.Model, next.Model)
	mergeStr(&out.Country, next.Country)
	if next.Messages != 0 {
		out.Messages = next.Messages
	}

	mergeStr(&out.Origin, next.Origin)
	mergeStr(&out.Destination, next.Destination)
	mergeAirport(&out.OriginAirport, next.OriginAirport)
	mergeAirport(&out.DestinationAirport, next.DestinationAirport)
	if next.RouteSource != RouteSourceNone {
		out.RouteSource = next.RouteSource
	}

	mergeStr(&out.Photo.URL, next.Photo.URL)
	mergeStr(&out.Photo.Thumbnail, next.Photo.Thumbnail)
	mergeStr(&out.Photo.Author, next.Photo.Author)
	mergeStr(&out.Photo.Source, next.Photo.Source)

	if out.FirstSeen.IsZero() {
		out.FirstSeen = next.FirstSeen
	}
	if !next.LastSeen.IsZero() {
		out.LastSeen = next.LastSeen
	}
	return out
}

func mergeStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergePtr(dst **float64, v *float64) {
	if v != nil {
		*dst = clonePtr(v)
	}
}

func mergeAirport(dst *Airport, v Airport) {
	mergeStr(&dst.Name, v.Name)
	mergeStr(&dst.ICAO, v.ICAO)
	mergeStr(&dst.IATA, v.IATA)
}

// Float returns a pointer to v, for building tracks in code and tests.
func Float(v float64) *float64 {
	return &v
}
