// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package models

import "time"

// Domain scopes geofences and alert rules to a kind of entity.
type Domain string

const (
	DomainAircraft Domain = "aircraft"
	DomainMessage  Domain = "message"
	DomainAny      Domain = "any"
)

// GeofenceEvent is one enter or exit transition.
type GeofenceEvent struct {
	ID           string    `json:"id"`
	GeofenceID   string    `json:"geofence_id"`
	GeofenceName string    `json:"geofence_name"`
	EntityKey    string    `json:"entity_key"`
	EntityLabel  string    `json:"entity_label"`
	Domain       Domain    `json:"domain"`
	Event        string    `json:"event"` // "enter" or "exit"
	Message      string    `json:"message"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Timestamp    time.Time `json:"timestamp"`
}

// AlertEvent is a rule match published to viewers.
type AlertEvent struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Hex       string    `json:"hex"`
	Message   string    `json:"message"`
	Visual    bool      `json:"visual"`
	Audible   bool      `json:"audible"`
	MapStyle  string    `json:"map_style,omitempty"`
	Track     Track     `json:"track"`
	Timestamp time.Time `json:"timestamp"`
}
