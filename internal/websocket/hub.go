// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package websocket pushes live track batches and alert/geofence events to
// connected map viewers.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
)

// Message types sent to viewers.
const (
	MessageTypeTracks   = "tracks"
	MessageTypeAlert    = "alert"
	MessageTypeGeofence = "geofence"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the envelope written to every viewer.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SnapshotFunc returns the message a newly connected viewer receives first.
type SnapshotFunc func() Message

// Hub owns the connected clients. All client bookkeeping happens on the
// goroutine running Serve.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	doneOnce   sync.Once
	snapshot   SnapshotFunc
	mu         sync.RWMutex
}

// NewHub creates a Hub. snapshot may be nil.
func NewHub(snapshot SnapshotFunc) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		snapshot:   snapshot,
	}
}

// Serve runs the hub until ctx is cancelled. Lifecycle events are drained
// before broadcasts so a message never races a registration.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.Register:
			h.add(c)
			continue
		case c := <-h.Unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.Register:
			h.add(c)
		case c := <-h.Unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) String() string { return "websocket-hub" }

// Join registers a connection with the running hub and starts its pumps.
func (h *Hub) Join(ctx context.Context, conn *websocket.Conn) bool {
	c := NewClient(h, conn)
	select {
	case h.Register <- c:
		c.Start()
		return true
	case <-h.done:
	case <-ctx.Done():
	}
	_ = conn.Close()
	return false
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(n))

	if h.snapshot != nil {
		select {
		case c.send <- h.snapshot():
		default:
		}
	}
	logging.Debug().Uint64("client", c.id).Int("total_clients", n).Msg("viewer connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(n))
	logging.Debug().Uint64("client", c.id).Int("total_clients", n).Msg("viewer disconnected")
}

// sortedClients must be called with h.mu held.
func (h *Hub) sortedClients() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// broadcastToClients drops any client whose send buffer is full.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	var slow []*Client
	for _, c := range h.sortedClients() {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		close(c.send)
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if len(slow) > 0 {
		metrics.WebSocketConnections.Set(float64(n))
		logging.Warn().Int("dropped", len(slow)).Msg("dropped slow websocket viewers")
	}
}

func (h *Hub) shutdown() {
	h.doneOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	clients := h.sortedClients()
	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(0)

	logging.Info().
		Str("component", "websocket-hub").
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// BroadcastJSON queues a message for every viewer. It never blocks.
func (h *Hub) BroadcastJSON(messageType string, data any) {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
