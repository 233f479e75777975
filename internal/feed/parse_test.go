// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package feed

import (
	"testing"
	"time"

	"github.com/tomtom215/skyfence/internal/models"
)

var parseNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParse_DropsEntryMissingLon(t *testing.T) {
	t.Parallel()
	body := `{"aircraft":[
		{"hex":"4ca1b2","lat":53.42,"lon":-6.27},
		{"hex":"abc123","lat":51.47}
	]}`
	res, err := Parse([]byte(body), parseNow)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Tracks) != 1 || res.Tracks[0].Hex != "4ca1b2" {
		t.Fatalf("tracks = %+v, want only 4ca1b2", res.Tracks)
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
}

func TestParse_EntryValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry string
		keep  bool
	}{
		{"complete", `{"hex":"4ca1b2","lat":53.4,"lon":-6.2}`, true},
		{"blank hex", `{"hex":"  ","lat":53.4,"lon":-6.2}`, false},
		{"no hex", `{"lat":53.4,"lon":-6.2}`, false},
		{"string lat", `{"hex":"4ca1b2","lat":"53.4","lon":-6.2}`, false},
		{"null lon", `{"hex":"4ca1b2","lat":53.4,"lon":null}`, false},
		{"lat out of range", `{"hex":"4ca1b2","lat":93.1,"lon":-6.2}`, false},
		{"zero position is valid", `{"hex":"4ca1b2","lat":0,"lon":0}`, true},
		{"bad altitude word", `{"hex":"4ca1b2","lat":53.4,"lon":-6.2,"alt_baro":"high"}`, true},
		{"numeric squawk", `{"hex":"4ca1b2","lat":53.4,"lon":-6.2,"squawk":7700}`, true},
		{"string gs", `{"hex":"4ca1b2","lat":53.4,"lon":-6.2,"gs":"fast"}`, true},
		{"fractional messages", `{"hex":"4ca1b2","lat":53.4,"lon":-6.2,"messages":12.5}`, true},
		{"object flight", `{"hex":"4ca1b2","lat":53.4,"lon":-6.2,"flight":{"id":1}}`, true},
		{"not an object", `[1,2]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Parse([]byte(`{"aircraft":[`+tt.entry+`]}`), parseNow)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := len(res.Tracks) == 1; got != tt.keep {
				t.Errorf("kept = %v, want %v (dropped %d)", got, tt.keep, res.Dropped)
			}
		})
	}
}

func TestParse_MalformedOptionalFieldsDefault(t *testing.T) {
	t.Parallel()
	body := `{"aircraft":[{"hex":"4ca1b2","lat":53.4,"lon":-6.2,
		"alt_baro":"high","gs":"fast","track":null,"squawk":7700,"messages":12.5,"category":false}]}`
	res, err := Parse([]byte(body), parseNow)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Tracks) != 1 || res.Dropped != 0 {
		t.Fatalf("tracks = %d dropped = %d, want 1 and 0", len(res.Tracks), res.Dropped)
	}
	tr := res.Tracks[0]
	if tr.Altitude != nil {
		t.Errorf("Altitude = %v, want nil", *tr.Altitude)
	}
	if tr.GroundSpeed != nil {
		t.Errorf("GroundSpeed = %v, want nil", *tr.GroundSpeed)
	}
	if tr.Heading != nil {
		t.Errorf("Heading = %v, want nil", *tr.Heading)
	}
	if tr.Squawk != "7700" {
		t.Errorf("Squawk = %q, want 7700", tr.Squawk)
	}
	if tr.Messages != 12 {
		t.Errorf("Messages = %d, want 12", tr.Messages)
	}
	if tr.Category != "" {
		t.Errorf("Category = %q, want empty", tr.Category)
	}
}

func TestParse_BadBaroFallsBackToGeom(t *testing.T) {
	t.Parallel()
	body := `{"aircraft":[{"hex":"4ca1b2","lat":53.4,"lon":-6.2,"alt_baro":"high","alt_geom":3100}]}`
	res, err := Parse([]byte(body), parseNow)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Tracks) != 1 {
		t.Fatalf("tracks = %d, want 1", len(res.Tracks))
	}
	if alt := res.Tracks[0].Altitude; alt == nil || *alt != 3100 {
		t.Errorf("Altitude = %v, want 3100", alt)
	}
}

func TestParse_RegistrationAliases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry string
		want  string
	}{
		{"r", `{"hex":"a","lat":1,"lon":1,"r":"EI-DVM"}`, "EI-DVM"},
		{"reg", `{"hex":"a","lat":1,"lon":1,"reg":"G-EUPT"}`, "G-EUPT"},
		{"registration", `{"hex":"a","lat":1,"lon":1,"registration":"N123AB"}`, "N123AB"},
		{"first wins", `{"hex":"a","lat":1,"lon":1,"r":"EI-DVM","registration":"N123AB"}`, "EI-DVM"},
		{"blank skipped", `{"hex":"a","lat":1,"lon":1,"r":" ","reg":"G-EUPT"}`, "G-EUPT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Parse([]byte(`{"aircraft":[`+tt.entry+`]}`), parseNow)
			if err != nil || len(res.Tracks) != 1 {
				t.Fatalf("Parse = %+v, %v", res, err)
			}
			if got := res.Tracks[0].Registration; got != tt.want {
				t.Errorf("Registration = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_Fields(t *testing.T) {
	t.Parallel()
	body := `{"aircraft":[{
		"hex":" 4CA1B2 ","flight":"EIN123  ","lat":53.42,"lon":-6.27,
		"alt_baro":"ground","alt_geom":150,"gs":12.5,"track":271,
		"seen":2.5,"category":"A3","squawk":"7000","messages":420,
		"origin":"eidw","destination":"egll"
	}]}`
	res, err := Parse([]byte(body), parseNow)
	if err != nil || len(res.Tracks) != 1 {
		t.Fatalf("Parse = %+v, %v", res, err)
	}
	tr := res.Tracks[0]

	if tr.Hex != "4ca1b2" || tr.Callsign != "EIN123" {
		t.Errorf("hex/callsign = %q/%q", tr.Hex, tr.Callsign)
	}
	if tr.Altitude == nil || *tr.Altitude != 0 {
		t.Errorf("Altitude = %v, want ground (0) from alt_baro", tr.Altitude)
	}
	if tr.GroundSpeed == nil || *tr.GroundSpeed != 12.5 || tr.Heading == nil || *tr.Heading != 271 {
		t.Errorf("speed/heading = %v/%v", tr.GroundSpeed, tr.Heading)
	}
	if tr.Origin != "EIDW" || tr.Destination != "EGLL" || tr.RouteSource != models.RouteSourceFeed {
		t.Errorf("route = %s-%s (%q)", tr.Origin, tr.Destination, tr.RouteSource)
	}
	if want := parseNow.Add(-2500 * time.Millisecond); !tr.LastSeen.Equal(want) {
		t.Errorf("LastSeen = %v, want %v", tr.LastSeen, want)
	}
	if !tr.FirstSeen.Equal(parseNow) {
		t.Errorf("FirstSeen = %v", tr.FirstSeen)
	}
	if tr.Messages != 420 || tr.Squawk != "7000" || tr.Category != "A3" {
		t.Errorf("misc fields = %+v", tr)
	}
}

func TestParse_GeometricAltitudeFallback(t *testing.T) {
	t.Parallel()
	res, err := Parse([]byte(`{"aircraft":[{"hex":"a","lat":1,"lon":1,"alt_geom":3025}]}`), parseNow)
	if err != nil || len(res.Tracks) != 1 {
		t.Fatalf("Parse = %+v, %v", res, err)
	}
	if a := res.Tracks[0].Altitude; a == nil || *a != 3025 {
		t.Errorf("Altitude = %v, want 3025", a)
	}
	if res.Tracks[0].RouteSource != models.RouteSourceNone {
		t.Errorf("RouteSource = %q without feed route", res.Tracks[0].RouteSource)
	}
}

func TestParse_DuplicateHexKeepsFirst(t *testing.T) {
	t.Parallel()
	res, err := Parse([]byte(`{"aircraft":[
		{"hex":"a","lat":1,"lon":1,"flight":"ONE"},
		{"hex":"A","lat":2,"lon":2,"flight":"TWO"}
	]}`), parseNow)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Tracks) != 1 || res.Tracks[0].Callsign != "ONE" || res.Dropped != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestParse_MalformedDocument(t *testing.T) {
	t.Parallel()
	for _, body := range []string{`{"aircraft":`, `not json`, `{"aircraft":{}}`} {
		if _, err := Parse([]byte(body), parseNow); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", body)
		}
	}
}
