// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
)

// ErrUnknownWebhook is returned for an identifier with no configured URL.
var ErrUnknownWebhook = errors.New("unknown webhook identifier")

// WebhookConfig configures a WebhookDispatcher.
type WebhookConfig struct {
	// Endpoints maps a webhook identifier, as referenced by rules, to its URL.
	Endpoints map[string]string
	Headers   map[string]string
	Timeout   time.Duration

	// RateLimit is the minimum spacing between posts to one endpoint.
	RateLimit time.Duration
}

// WebhookPayload is the JSON body posted to every endpoint.
type WebhookPayload struct {
	EventType string    `json:"event_type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type endpoint struct {
	url     string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[int]
}

// WebhookDispatcher posts JSON payloads to identified endpoints, each with
// its own spacing limiter and circuit breaker.
type WebhookDispatcher struct {
	client    *http.Client
	headers   map[string]string
	endpoints map[string]*endpoint
}

// NewWebhookDispatcher builds a dispatcher for cfg.Endpoints.
func NewWebhookDispatcher(cfg WebhookConfig) *WebhookDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 500 * time.Millisecond
	}

	d := &WebhookDispatcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		headers:   make(map[string]string, len(cfg.Headers)),
		endpoints: make(map[string]*endpoint, len(cfg.Endpoints)),
	}
	for k, v := range cfg.Headers {
		d.headers[k] = v
	}
	for id, url := range cfg.Endpoints {
		d.endpoints[id] = &endpoint{
			url:     url,
			limiter: rate.NewLimiter(rate.Every(cfg.RateLimit), 1),
			breaker: newWebhookBreaker("webhook:" + id),
		}
	}
	return d
}

// IDs returns the configured identifiers, sorted.
func (d *WebhookDispatcher) IDs() []string {
	ids := make([]string, 0, len(d.endpoints))
	for id := range d.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send posts data to the endpoint registered under id.
func (d *WebhookDispatcher) Send(ctx context.Context, id, eventType string, data any) error {
	ep, ok := d.endpoints[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWebhook, id)
	}

	if err := ep.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(WebhookPayload{
		EventType: eventType,
		Source:    "skyfence",
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = ep.breaker.Execute(func() (int, error) {
		return d.post(ctx, ep.url, body)
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", id, err)
	}
	return nil
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func newWebhookBreaker(name string) *gobreaker.CircuitBreaker[int] {
	return gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("webhook circuit breaker state change")
			var v float64
			switch to {
			case gobreaker.StateHalfOpen:
				v = 1
			case gobreaker.StateOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
		},
	})
}
