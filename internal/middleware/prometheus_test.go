// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/skyfence/internal/metrics"
)

func TestPrometheusMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/probe/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.CollectAndCount(metrics.APIRequestDuration)
	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	// Three distinct paths collapse onto one series.
	if got := testutil.CollectAndCount(metrics.APIRequestDuration); got != before+1 {
		t.Errorf("series = %d, want %d", got, before+1)
	}
}

func TestRoutePattern_Unmatched(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := RoutePattern(req); got != "unmatched" {
		t.Errorf("RoutePattern = %q", got)
	}
}
