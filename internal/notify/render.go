// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package notify renders alert messages and delivers them to webhook and
// email recipients. Delivery is best effort: callers log failures and move on.
package notify

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_]+)\}`)

// Render substitutes {name} placeholders in tmpl from vars. Placeholder names
// match case-insensitively; vars keys must be lower case. Unknown
// placeholders are left in place.
func Render(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := strings.ToLower(m[1 : len(m)-1])
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}
