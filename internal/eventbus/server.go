// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package eventbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded NATS server. Port -1 picks a free port.
type ServerConfig struct {
	Host     string
	Port     int
	StoreDir string
	// JetStream is only needed by external consumers that want durable
	// streams; Skyfence itself publishes on core subjects.
	JetStream bool
}

// EmbeddedServer is an in-process NATS server for single-node deployments.
type EmbeddedServer struct {
	server *server.Server
}

// StartEmbedded starts a server and waits until it accepts clients.
func StartEmbedded(cfg ServerConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "skyfence",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  cfg.JetStream,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 8 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("NATS server not ready within timeout")
	}
	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Running reports whether the server is up.
func (s *EmbeddedServer) Running() bool {
	return s.server.Running()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
