// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package track

import (
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/skyfence/internal/models"
)

func obs(hex string, lat, lon float64, at time.Time) models.Track {
	return models.Track{Hex: hex, Lat: lat, Lon: lon, FirstSeen: at, LastSeen: at}
}

func TestUpsertMergesAgainstLive(t *testing.T) {
	t.Parallel()
	s := NewStore()
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	first := obs("A1B2C3", 1, 2, t0)
	first.Altitude = models.Float(9000)
	s.ReplaceLive([]models.Track{s.Upsert(first)})

	second := s.Upsert(obs("a1b2c3", 1.1, 2.1, t0.Add(5*time.Second)))
	if second.Altitude == nil || *second.Altitude != 9000 {
		t.Errorf("Altitude = %v, want retained 9000", second.Altitude)
	}
	if !second.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v", second.FirstSeen, t0)
	}
	if second.Hex != "a1b2c3" {
		t.Errorf("Hex = %q, want normalized", second.Hex)
	}
}

func TestReplaceLiveEvictsButLogRetains(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now()

	s.ReplaceLive([]models.Track{s.Upsert(obs("aaa", 1, 1, now)), s.Upsert(obs("bbb", 2, 2, now))})
	s.ReplaceLive([]models.Track{s.Upsert(obs("bbb", 2, 3, now))})

	live, log := s.Counts()
	if live != 1 {
		t.Errorf("live = %d, want 1", live)
	}
	if log != 2 {
		t.Errorf("log = %d, want 2", log)
	}
	if _, ok := s.Get("aaa"); !ok {
		t.Error("evicted track should still be readable from the log")
	}
}

func TestUpsertFallsBackToLog(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now()

	tr := obs("ccc", 1, 1, now)
	tr.Registration = "G-ABCD"
	s.ReplaceLive([]models.Track{s.Upsert(tr)})
	s.ReplaceLive(nil)

	back := s.Upsert(obs("ccc", 5, 5, now.Add(time.Minute)))
	if back.Registration != "G-ABCD" {
		t.Errorf("Registration = %q, want restored from log", back.Registration)
	}
}

func TestApplyWritesBothCopies(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.ReplaceLive([]models.Track{s.Upsert(obs("ddd", 1, 1, time.Now()))})

	ok := s.Apply("DDD", func(cur models.Track) models.Track {
		var p models.Track
		if cur.Photo.URL == "" {
			p.Photo.URL = "https://img/1.jpg"
		}
		return p
	})
	if !ok {
		t.Fatal("Apply() = false, want true")
	}

	if got := s.Live()[0].Photo.URL; got != "https://img/1.jpg" {
		t.Errorf("live photo = %q", got)
	}
	if got := s.Log()[0].Photo.URL; got != "https://img/1.jpg" {
		t.Errorf("log photo = %q", got)
	}
}

func TestApplyBetweenUpsertAndReplaceSurvives(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now()
	s.ReplaceLive([]models.Track{s.Upsert(obs("abc123", 1, 1, now))})

	// A task from the previous cycle writes back while this cycle is still
	// assembling its tracks.
	merged := s.Upsert(obs("abc123", 1.1, 1.1, now.Add(5*time.Second)))
	s.Apply("abc123", func(models.Track) models.Track {
		return models.Track{Photo: models.Photo{URL: "http://p"}}
	})
	s.ReplaceLive([]models.Track{merged})

	live, ok := s.Get("abc123")
	if !ok {
		t.Fatal("abc123 missing from live set")
	}
	if live.Photo.URL != "http://p" {
		t.Errorf("live photo = %q, want http://p", live.Photo.URL)
	}
	if live.Lat != 1.1 {
		t.Errorf("live Lat = %v, want this cycle's 1.1", live.Lat)
	}
	if got := s.Log()[0].Photo.URL; got != "http://p" {
		t.Errorf("log photo = %q, want http://p", got)
	}
}

func TestApplyCannotClearFields(t *testing.T) {
	t.Parallel()
	s := NewStore()
	tr := obs("eee", 1, 1, time.Now())
	tr.Callsign = "EZY1"
	s.ReplaceLive([]models.Track{s.Upsert(tr)})

	s.Apply("eee", func(models.Track) models.Track { return models.Track{} })

	got, _ := s.Get("eee")
	if got.Callsign != "EZY1" {
		t.Errorf("Callsign = %q, want EZY1", got.Callsign)
	}
}

func TestApplyUnknownHex(t *testing.T) {
	t.Parallel()
	s := NewStore()
	if s.Apply("nope", func(models.Track) models.Track { return models.Track{} }) {
		t.Error("Apply() on unknown hex = true")
	}
}

func TestClearLogKeepsLive(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now()
	s.ReplaceLive([]models.Track{s.Upsert(obs("a", 1, 1, now)), s.Upsert(obs("b", 1, 1, now))})
	s.ReplaceLive([]models.Track{s.Upsert(obs("b", 1, 1, now))})

	s.ClearLog()

	live, log := s.Counts()
	if live != 1 || log != 1 {
		t.Errorf("counts = %d/%d, want 1/1", live, log)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	t.Parallel()
	s := NewStore()
	tr := obs("fff", 1, 1, time.Now())
	tr.Altitude = models.Float(100)
	s.ReplaceLive([]models.Track{s.Upsert(tr)})

	snap := s.Live()
	*snap[0].Altitude = 999
	snap[0].Callsign = "HACK"

	got, _ := s.Get("fff")
	if *got.Altitude != 100 || got.Callsign != "" {
		t.Errorf("store mutated through snapshot: %+v", got)
	}
}

func TestConcurrentApplyAndReplace(t *testing.T) {
	t.Parallel()
	s := NewStore()
	now := time.Now()
	s.ReplaceLive([]models.Track{s.Upsert(obs("abc", 1, 1, now))})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Apply("abc", func(models.Track) models.Track { return models.Track{Country: "GB"} })
		}()
		go func() {
			defer wg.Done()
			s.ReplaceLive([]models.Track{s.Upsert(obs("abc", 1, 1, now))})
		}()
	}
	wg.Wait()

	// The log only ever merges, so every Apply is visible there.
	if got := s.Log()[0]; got.Country != "GB" {
		t.Errorf("log Country = %q, want GB", got.Country)
	}
}
