// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package api

import (
	"net/http"
	"slices"

	"github.com/tomtom215/skyfence/internal/logging"
)

// checkOrigin admits browsers whose Origin is on the CORS list. A "*" entry
// admits any non-empty Origin.
func (rt *Router) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	return slices.Contains(rt.cfg.CORSOrigins, "*") || slices.Contains(rt.cfg.CORSOrigins, origin)
}

func (rt *Router) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Hub == nil {
		respondError(w, http.StatusNotFound, "LIVE_FEED_DISABLED", "live feed is not enabled")
		return
	}
	// Upgrade writes its own error response.
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade rejected")
		return
	}
	if !rt.deps.Hub.Join(r.Context(), conn) {
		logging.Ctx(r.Context()).Debug().Msg("websocket hub closed, viewer turned away")
	}
}
