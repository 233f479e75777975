// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package reference provides the read-only aircraft and airport lookup tables.
//
// Tables are built from delimited text, published through an atomic pointer
// and never mutated afterwards. A reload builds a fresh table set and swaps
// it in, so readers never observe a half-loaded table.
package reference

import (
	"strings"
	"sync/atomic"

	"github.com/tomtom215/skyfence/internal/models"
)

// Aircraft is one row of the aircraft type table.
type Aircraft struct {
	Hex          string
	Registration string
	TypeCode     string
	Manufacturer string
	Model        string
	Category     string
}

// Airport is one row of the airport table.
type Airport struct {
	ICAO    string
	IATA    string
	Name    string
	Country string
}

type tables struct {
	aircraft map[string]Aircraft
	byICAO   map[string]Airport
	byIATA   map[string]Airport
}

// Registry serves lookups against the most recently loaded tables.
type Registry struct {
	current atomic.Pointer[tables]
}

// NewRegistry returns a registry with empty tables.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&tables{
		aircraft: map[string]Aircraft{},
		byICAO:   map[string]Airport{},
		byIATA:   map[string]Airport{},
	})
	return r
}

// Aircraft looks up an aircraft by ICAO hex.
func (r *Registry) Aircraft(hex string) (Aircraft, bool) {
	a, ok := r.current.Load().aircraft[models.NormalizeHex(hex)]
	return a, ok
}

// Airport looks up an airport by ICAO code, then by IATA code.
func (r *Registry) Airport(code string) (Airport, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Airport{}, false
	}
	t := r.current.Load()
	if a, ok := t.byICAO[code]; ok {
		return a, true
	}
	a, ok := t.byIATA[code]
	return a, ok
}

// Sizes returns the row counts of the aircraft and airport tables.
func (r *Registry) Sizes() (aircraft, airports int) {
	t := r.current.Load()
	return len(t.aircraft), len(t.byICAO)
}

// ResolveAirport returns the metadata for code, or a zero Airport.
func (r *Registry) ResolveAirport(code string) models.Airport {
	a, ok := r.Airport(code)
	if !ok {
		return models.Airport{}
	}
	return models.Airport{Name: a.Name, ICAO: a.ICAO, IATA: a.IATA}
}

// Enrich fills empty track fields from the tables. It never overwrites a
// value the feed supplied and performs no I/O.
func (r *Registry) Enrich(t *models.Track) {
	if a, ok := r.Aircraft(t.Hex); ok {
		fill(&t.Registration, a.Registration)
		fill(&t.AircraftType, a.TypeCode)
		fill(&t.Manufacturer, a.Manufacturer)
		fill(&t.Model, a.Model)
		fill(&t.Category, a.Category)
	}
	fill(&t.Country, CountryForHex(t.Hex))
	r.EnrichAirports(t)
}

// EnrichAirports resolves origin and destination airport metadata.
func (r *Registry) EnrichAirports(t *models.Track) {
	if t.Origin != "" && t.OriginAirport.IsZero() {
		t.OriginAirport = r.ResolveAirport(t.Origin)
	}
	if t.Destination != "" && t.DestinationAirport.IsZero() {
		t.DestinationAirport = r.ResolveAirport(t.Destination)
	}
}

func fill(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
