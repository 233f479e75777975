// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package feed

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/skyfence/internal/models"
)

// document is the top level of the feed.
type document struct {
	Aircraft []json.RawMessage `json:"aircraft"`
}

// entry is one aircraft as the feed reports it. Only hex, lat and lon decode
// strictly; a type mismatch there drops the entry. Every other field is
// tolerant and decodes to unset when the value has the wrong shape.
type entry struct {
	Hex          string      `json:"hex"`
	Lat          *float64    `json:"lat"`
	Lon          *float64    `json:"lon"`
	Flight       optText     `json:"flight"`
	AltBaro      optAltitude `json:"alt_baro"`
	AltGeom      optAltitude `json:"alt_geom"`
	GroundSpeed  optNumber   `json:"gs"`
	Track        optNumber   `json:"track"`
	Seen         optNumber   `json:"seen"`
	Category     optText     `json:"category"`
	Squawk       optText     `json:"squawk"`
	R            optText     `json:"r"`
	Reg          optText     `json:"reg"`
	Registration optText     `json:"registration"`
	Origin       optText     `json:"origin"`
	Destination  optText     `json:"destination"`
	Country      optText     `json:"country"`
	Messages     optCount    `json:"messages"`
}

var jsonNull = []byte("null")

// optNumber is a numeric field. Anything but a number leaves it unset.
type optNumber struct {
	v  float64
	ok bool
}

func (n *optNumber) UnmarshalJSON(b []byte) error {
	*n = optNumber{}
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, jsonNull) {
		return nil
	}
	var f float64
	if json.Unmarshal(b, &f) == nil {
		n.v, n.ok = f, true
	}
	return nil
}

func (n optNumber) ptr() *float64 {
	if !n.ok {
		return nil
	}
	return models.Float(n.v)
}

// optAltitude accepts a number of feet or the literal "ground", which is 0.
// Any other word leaves it unset.
type optAltitude struct {
	optNumber
}

func (a *optAltitude) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		a.optNumber = optNumber{}
		var s string
		if json.Unmarshal(b, &s) == nil && strings.EqualFold(strings.TrimSpace(s), "ground") {
			a.v, a.ok = 0, true
		}
		return nil
	}
	return a.optNumber.UnmarshalJSON(b)
}

// optText is a string field. A bare number keeps its literal text, so a
// numeric squawk still reads as "7700"; other shapes decode to empty.
type optText string

func (t *optText) UnmarshalJSON(b []byte) error {
	*t = ""
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch {
	case b[0] == '"':
		var s string
		if json.Unmarshal(b, &s) == nil {
			*t = optText(strings.TrimSpace(s))
		}
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		*t = optText(b)
	}
	return nil
}

// optCount is a counter. Fractions truncate; non-numbers decode to 0.
type optCount int64

func (c *optCount) UnmarshalJSON(b []byte) error {
	var n optNumber
	_ = n.UnmarshalJSON(b)
	*c = 0
	if n.ok && n.v >= 0 && n.v < math.MaxInt64 {
		*c = optCount(n.v)
	}
	return nil
}

// ParseResult is the outcome of parsing one feed document.
type ParseResult struct {
	Tracks  []models.Track
	Dropped int
}

// Parse decodes a feed document into observations stamped at now. A
// malformed document is an error; a malformed or incomplete entry is only
// counted in Dropped.
func Parse(body []byte, now time.Time) (ParseResult, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return ParseResult{}, fmt.Errorf("decode feed: %w", err)
	}

	res := ParseResult{Tracks: make([]models.Track, 0, len(doc.Aircraft))}
	seen := make(map[string]struct{}, len(doc.Aircraft))
	for _, raw := range doc.Aircraft {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			res.Dropped++
			continue
		}
		t, ok := e.track(now)
		if !ok {
			res.Dropped++
			continue
		}
		// A duplicate hex in one document keeps the first occurrence.
		if _, dup := seen[t.Hex]; dup {
			res.Dropped++
			continue
		}
		seen[t.Hex] = struct{}{}
		res.Tracks = append(res.Tracks, t)
	}
	return res, nil
}

func (e *entry) track(now time.Time) (models.Track, bool) {
	hex := models.NormalizeHex(e.Hex)
	if hex == "" || e.Lat == nil || e.Lon == nil {
		return models.Track{}, false
	}
	lat, lon := *e.Lat, *e.Lon
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return models.Track{}, false
	}

	t := models.Track{
		Hex:          hex,
		Lat:          lat,
		Lon:          lon,
		GroundSpeed:  e.GroundSpeed.ptr(),
		Heading:      e.Track.ptr(),
		Callsign:     string(e.Flight),
		Registration: firstNonEmpty(string(e.R), string(e.Reg), string(e.Registration)),
		Squawk:       string(e.Squawk),
		Category:     string(e.Category),
		Country:      string(e.Country),
		Messages:     int64(e.Messages),
		Origin:       strings.ToUpper(string(e.Origin)),
		Destination:  strings.ToUpper(string(e.Destination)),
		FirstSeen:    now,
		LastSeen:     now,
	}
	switch {
	case e.AltBaro.ok:
		t.Altitude = e.AltBaro.ptr()
	case e.AltGeom.ok:
		t.Altitude = e.AltGeom.ptr()
	}
	if t.Origin != "" || t.Destination != "" {
		t.RouteSource = models.RouteSourceFeed
	}
	if e.Seen.ok && e.Seen.v > 0 {
		t.LastSeen = now.Add(-time.Duration(e.Seen.v * float64(time.Second)))
	}
	return t, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
