// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrServerStopped is returned when a supervised server exits on its own.
var ErrServerStopped = errors.New("server stopped unexpectedly")

// EmbeddedServer is satisfied by *eventbus.EmbeddedServer.
type EmbeddedServer interface {
	Running() bool
	Shutdown()
}

// EmbeddedServerService starts an in-process server, watches it, and shuts
// it down with the tree. A server that dies is reported so the supervisor
// restarts it.
type EmbeddedServerService struct {
	name       string
	start      func() (EmbeddedServer, error)
	checkEvery time.Duration
}

// NewEmbeddedServerService supervises servers produced by start.
func NewEmbeddedServerService(name string, start func() (EmbeddedServer, error)) *EmbeddedServerService {
	return &EmbeddedServerService{name: name, start: start, checkEvery: 5 * time.Second}
}

// Serve implements suture.Service.
func (s *EmbeddedServerService) Serve(ctx context.Context) error {
	srv, err := s.start()
	if err != nil {
		return fmt.Errorf("%s start: %w", s.name, err)
	}
	defer srv.Shutdown()

	ticker := time.NewTicker(s.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !srv.Running() {
				return fmt.Errorf("%s: %w", s.name, ErrServerStopped)
			}
		}
	}
}

func (s *EmbeddedServerService) String() string { return s.name }
