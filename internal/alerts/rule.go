// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package alerts matches finalized tracks against operator rules and fans
// matches out to the event bus, webhooks, email and the audit trail.
package alerts

import (
	"strings"

	"github.com/tomtom215/skyfence/internal/models"
)

// Mode combines a rule's predicates.
type Mode string

const (
	ModeAll Mode = "ALL"
	ModeAny Mode = "ANY"
)

// Rule is a set of optional predicates plus notification routing. Unset
// predicates are ignored; a rule with none never matches.
type Rule struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	Domain  models.Domain `json:"domain"`
	Mode    Mode          `json:"mode"`

	Hex          string `json:"hex,omitempty"`
	Callsign     string `json:"callsign,omitempty"`
	Registration string `json:"registration,omitempty"`
	Country      string `json:"country,omitempty"`
	Category     string `json:"category,omitempty"`
	Origin       string `json:"origin,omitempty"`
	Destination  string `json:"destination,omitempty"`

	// Exact switches string predicates from substring to equality. Both are
	// case-insensitive.
	Exact bool `json:"exact"`

	MinAltitude *float64 `json:"min_altitude,omitempty"`
	MaxAltitude *float64 `json:"max_altitude,omitempty"`
	MinSpeed    *float64 `json:"min_speed,omitempty"`
	MaxSpeed    *float64 `json:"max_speed,omitempty"`

	Visual   bool     `json:"visual"`
	Audible  bool     `json:"audible"`
	MapStyle string   `json:"map_style,omitempty"`
	Emails   []string `json:"emails,omitempty"`
	Webhooks []string `json:"webhooks,omitempty"`
	Template string   `json:"template,omitempty"`
}

// Applies reports whether r is enabled for aircraft tracks.
func (r *Rule) Applies() bool {
	if !r.Enabled {
		return false
	}
	return r.Domain == "" || r.Domain == models.DomainAircraft || r.Domain == models.DomainAny
}

// Match evaluates r against t.
func (r *Rule) Match(t *models.Track) bool {
	results := r.predicates(t)
	if len(results) == 0 {
		return false
	}

	if strings.EqualFold(string(r.Mode), string(ModeAny)) {
		for _, ok := range results {
			if ok {
				return true
			}
		}
		return false
	}
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// HasPredicates reports whether the rule defines anything to match on. A
// rule without predicates never matches.
func (r *Rule) HasPredicates() bool {
	return len(r.predicates(&models.Track{})) > 0
}

// predicates returns one result per predicate the rule defines. An altitude
// or speed range counts as one predicate.
func (r *Rule) predicates(t *models.Track) []bool {
	var out []bool

	str := func(pattern, value string) {
		if strings.TrimSpace(pattern) == "" {
			return
		}
		out = append(out, matchString(pattern, value, r.Exact))
	}
	str(r.Hex, t.Hex)
	str(r.Callsign, t.Callsign)
	str(r.Registration, t.Registration)
	str(r.Country, t.Country)
	str(r.Category, t.Category)
	str(r.Origin, t.Origin)
	str(r.Destination, t.Destination)

	if r.MinAltitude != nil || r.MaxAltitude != nil {
		out = append(out, inRange(t.Altitude, r.MinAltitude, r.MaxAltitude))
	}
	if r.MinSpeed != nil || r.MaxSpeed != nil {
		out = append(out, inRange(t.GroundSpeed, r.MinSpeed, r.MaxSpeed))
	}
	return out
}

func matchString(pattern, value string, exact bool) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	if exact {
		return value == pattern
	}
	return strings.Contains(value, pattern)
}

// inRange fails when the value is unknown.
func inRange(v, lo, hi *float64) bool {
	if v == nil {
		return false
	}
	if lo != nil && *v < *lo {
		return false
	}
	if hi != nil && *v > *hi {
		return false
	}
	return true
}
