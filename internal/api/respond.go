// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/skyfence/internal/logging"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status    string     `json:"status"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	write(w, status, &Response{Status: "success", Data: data, Timestamp: time.Now().UTC()})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	write(w, status, &Response{
		Status:    "error",
		Error:     &ErrorBody{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}

func write(w http.ResponseWriter, status int, resp *Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal API response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Debug().Err(err).Msg("failed to write API response")
	}
}
