// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startHub runs a hub behind an httptest server and returns its ws:// URL.
func startHub(t *testing.T, snapshot SnapshotFunc) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = hub.Serve(ctx)
	}()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Join(context.Background(), conn)
	}))
	t.Cleanup(func() {
		cancel()
		<-served
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHub_SnapshotThenBroadcast(t *testing.T) {
	t.Parallel()
	hub, url, _ := startHub(t, func() Message {
		return Message{Type: MessageTypeTracks, Data: []string{"4ca1b2"}}
	})

	conn := dial(t, url)
	first := readMessage(t, conn)
	if first["type"] != MessageTypeTracks {
		t.Fatalf("first message type = %v, want tracks snapshot", first["type"])
	}
	waitClients(t, hub, 1)

	hub.BroadcastJSON(MessageTypeAlert, map[string]string{"rule_id": "r1"})
	msg := readMessage(t, conn)
	if msg["type"] != MessageTypeAlert {
		t.Fatalf("type = %v, want alert", msg["type"])
	}
	data, _ := msg["data"].(map[string]any)
	if data["rule_id"] != "r1" {
		t.Errorf("data = %v", msg["data"])
	}
}

func TestHub_PingPong(t *testing.T) {
	t.Parallel()
	hub, url, _ := startHub(t, nil)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg["type"] != MessageTypePong {
		t.Errorf("type = %v, want pong", msg["type"])
	}
}

func TestHub_ViewerDisconnectUnregisters(t *testing.T) {
	t.Parallel()
	hub, url, _ := startHub(t, nil)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_ShutdownClosesViewers(t *testing.T) {
	t.Parallel()
	hub, url, cancel := startHub(t, nil)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read after shutdown = %v, want close frame", err)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after shutdown", hub.ClientCount())
	}
}

func TestHub_SlowViewerDropped(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Serve(ctx) }()

	// No pumps: the send buffer is never drained.
	c := &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan Message, 1)}
	hub.Register <- c
	waitClients(t, hub, 1)
	hub.BroadcastJSON(MessageTypeTracks, nil)
	hub.BroadcastJSON(MessageTypeTracks, nil)

	waitClients(t, hub, 0)
	if _, ok := <-c.send; !ok {
		t.Fatal("first message should still be buffered")
	}
	if _, ok := <-c.send; ok {
		t.Fatal("send channel should be closed")
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	t.Parallel()
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.BroadcastJSON(MessageTypeTracks, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BroadcastJSON blocked without a running hub")
	}
}
