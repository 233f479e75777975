// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package enrich resolves data the feed does not carry by calling external
// services: flight routes (origin/destination) and aircraft photos.
//
// Both enrichers are best effort. They cache positive and negative results,
// write what they find back into the track store through Store.Apply, and
// never overwrite a value the track already has.
//
// Route lookups are budgeted. Every call passes through a single
// ratelimit.Sequential gate that spaces calls evenly over the day and backs
// off globally on HTTP 429. Photo lookups run in parallel behind a circuit
// breaker so a dead endpoint fails fast.
package enrich
