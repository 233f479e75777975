// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package geofence

import (
	"context"
	"testing"
	"time"
)

func TestRegistryListAndWatch(t *testing.T) {
	t.Parallel()

	b := homeFence(true)
	b.ID = "b"
	a := homeFence(true)
	a.ID = "a"
	reg := NewRegistry(b, a)

	list, err := reg.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("List() = %+v", list)
	}
	list[0].Polygon[0] = Point{99, 99}
	if again, _ := reg.List(context.Background()); again[0].Polygon[0] == (Point{99, 99}) {
		t.Error("List returned shared polygon storage")
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := reg.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	reg.Upsert(homeFence(false))
	if !reg.Delete("a") {
		t.Error("Delete(a) = false")
	}
	if reg.Delete("missing") {
		t.Error("Delete(missing) = true")
	}

	want := []Change{
		{Kind: ChangeUpsert, Geofence: Geofence{ID: "home"}},
		{Kind: ChangeDelete, Geofence: Geofence{ID: "a"}},
	}
	for i, w := range want {
		select {
		case c := <-changes:
			if c.Kind != w.Kind || c.Geofence.ID != w.Geofence.ID {
				t.Errorf("change %d = %s %s, want %s %s", i, c.Kind, c.Geofence.ID, w.Kind, w.Geofence.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("change %d not delivered", i)
		}
	}

	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			t.Error("unexpected change after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
