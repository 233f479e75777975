// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package api

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/skyfence/internal/audit"
	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/models"
	"github.com/tomtom215/skyfence/internal/validation"
)

const defaultAuditLimit = 100

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	Status        string        `json:"status"`
	PollerRunning bool          `json:"poller_running"`
	LastSuccessAt time.Time     `json:"last_success_at,omitempty"`
	Uptime        time.Duration `json:"uptime"`
	Viewers       int           `json:"viewers"`
}

// TrackList is the /api/v1/tracks payload.
type TrackList struct {
	Scope  string         `json:"scope"`
	Count  int            `json:"count"`
	Tracks []models.Track `json:"tracks"`
}

// health is 200 while the poller runs and 503 otherwise.
func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	st := rt.deps.Poller.Status()
	h := HealthStatus{
		Status:        "ok",
		PollerRunning: st.Running,
		LastSuccessAt: st.LastSuccessAt,
		Uptime:        time.Since(rt.started),
	}
	if rt.deps.Hub != nil {
		h.Viewers = rt.deps.Hub.ClientCount()
	}
	code := http.StatusOK
	if !st.Running {
		h.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, h)
}

func (rt *Router) status(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, rt.deps.Poller.Status())
}

func (rt *Router) tracks(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	var list []models.Track
	switch scope {
	case "", "live":
		scope = "live"
		list = rt.deps.Tracks.Live()
	case "log":
		list = rt.deps.Tracks.Log()
	default:
		respondError(w, http.StatusBadRequest, "INVALID_SCOPE", "scope must be live or log")
		return
	}
	slices.SortFunc(list, func(a, b models.Track) int { return strings.Compare(a.Hex, b.Hex) })
	if list == nil {
		list = []models.Track{}
	}
	respondJSON(w, http.StatusOK, TrackList{Scope: scope, Count: len(list), Tracks: list})
}

func (rt *Router) clearLog(w http.ResponseWriter, r *http.Request) {
	_, before := rt.deps.Tracks.Counts()
	rt.deps.Tracks.ClearLog()
	live, after := rt.deps.Tracks.Counts()

	logging.Ctx(r.Context()).Info().Int("before", before).Int("after", after).Msg("session log cleared")
	rt.audit(r, &audit.Event{
		Type:        audit.EventTypeLogCleared,
		Description: "session log reset to live set (" + strconv.Itoa(before) + " -> " + strconv.Itoa(after) + ")",
	})
	respondJSON(w, http.StatusOK, map[string]int{"live": live, "log": after, "removed": before - after})
}

func (rt *Router) poll(w http.ResponseWriter, r *http.Request) {
	if !rt.deps.Poller.Status().Running {
		respondError(w, http.StatusServiceUnavailable, "POLLER_STOPPED", "poller is not running")
		return
	}
	queued := rt.deps.Poller.Kick()
	if queued {
		rt.audit(r, &audit.Event{Type: audit.EventTypePollRequested, Description: "manual poll requested"})
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

// AuditQuery holds the /api/v1/audit query parameters.
type AuditQuery struct {
	Types   []string `query:"type" validate:"dive,oneof=alert.fired geofence.enter geofence.exit tracks.log_cleared poller.kicked"`
	Subject string   `query:"subject" validate:"omitempty,icaohex"`
	RuleID  string   `query:"rule"`
	Limit   int      `query:"limit" validate:"min=1,max=1000"`
	Offset  int      `query:"offset" validate:"min=0"`
}

func parseAuditQuery(r *http.Request) (AuditQuery, error) {
	q := r.URL.Query()
	aq := AuditQuery{
		Types:   q["type"],
		Subject: models.NormalizeHex(q.Get("subject")),
		RuleID:  q.Get("rule"),
		Limit:   defaultAuditLimit,
	}
	var err error
	if raw := q.Get("limit"); raw != "" {
		if aq.Limit, err = strconv.Atoi(raw); err != nil {
			return aq, fmt.Errorf("limit %q is not an integer", raw)
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if aq.Offset, err = strconv.Atoi(raw); err != nil {
			return aq, fmt.Errorf("offset %q is not an integer", raw)
		}
	}
	return aq, nil
}

func (rt *Router) auditEvents(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Audit == nil {
		respondError(w, http.StatusNotFound, "AUDIT_DISABLED", "audit log is not enabled")
		return
	}

	aq, err := parseAuditQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}
	if verr := validation.ValidateStruct(&aq); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
		return
	}

	filter := audit.QueryFilter{Subject: aq.Subject, RuleID: aq.RuleID, Limit: aq.Limit, Offset: aq.Offset}
	for _, t := range aq.Types {
		filter.Types = append(filter.Types, audit.EventType(t))
	}
	events, err := rt.deps.Audit.Store().Query(r.Context(), filter)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("audit query failed")
		respondError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "audit query failed")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (rt *Router) audit(r *http.Request, ev *audit.Event) {
	if rt.deps.Audit == nil {
		return
	}
	ev.RequestID = logging.RequestIDFromContext(r.Context())
	if err := rt.deps.Audit.Log(ev); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("type", string(ev.Type)).Msg("audit event dropped")
	}
}
