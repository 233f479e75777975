// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package services

import (
	"context"
	"time"

	"github.com/tomtom215/skyfence/internal/logging"
)

// PeriodicService runs a task on a fixed interval. Task errors are logged
// and never stop the service.
type PeriodicService struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
}

// NewPeriodicService runs task every interval, starting one interval after
// Serve begins.
func NewPeriodicService(name string, interval time.Duration, task func(ctx context.Context) error) *PeriodicService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &PeriodicService{name: name, interval: interval, task: task}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.task(ctx); err != nil {
				logging.Warn().Err(err).Str("service", p.name).Msg("periodic task failed")
			}
		}
	}
}

func (p *PeriodicService) String() string { return p.name }
