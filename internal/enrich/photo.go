// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/skyfence/internal/cache"
	"github.com/tomtom215/skyfence/internal/logging"
	"github.com/tomtom215/skyfence/internal/metrics"
	"github.com/tomtom215/skyfence/internal/models"
)

// PhotoConfig configures a PhotoEnricher.
type PhotoConfig struct {
	Enabled        bool
	APIURL         string
	TTL            time.Duration
	RequestTimeout time.Duration
	CacheSize      int

	// BreakerTimeout is how long the circuit stays open before probing.
	BreakerTimeout time.Duration
}

type photoEntry struct {
	Photo models.Photo
}

type photoResponse struct {
	Photos []struct {
		Thumbnail struct {
			Src string `json:"src"`
		} `json:"thumbnail"`
		ThumbnailLarge struct {
			Src string `json:"src"`
		} `json:"thumbnail_large"`
		Link         string `json:"link"`
		Photographer string `json:"photographer"`
	} `json:"photos"`
}

// PhotoStats counts photo enricher outcomes since start.
type PhotoStats struct {
	Calls     int64  `json:"calls"`
	CacheHits int64  `json:"cache_hits"`
	Found     int64  `json:"found"`
	Failures  int64  `json:"failures"`
	Breaker   string `json:"breaker"`
}

// PhotoEnricher looks up a representative photo per aircraft.
type PhotoEnricher struct {
	cfg     PhotoConfig
	client  *http.Client
	cache   *cache.LRU[photoEntry]
	breaker *gobreaker.CircuitBreaker[models.Photo]
	writer  TrackWriter

	calls     atomic.Int64
	cacheHits atomic.Int64
	found     atomic.Int64
	failures  atomic.Int64
}

// NewPhotoEnricher builds a photo enricher.
func NewPhotoEnricher(cfg PhotoConfig, writer TrackWriter) *PhotoEnricher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 2 * time.Minute
	}
	return &PhotoEnricher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		cache:   cache.NewLRU[photoEntry](cfg.CacheSize, cfg.TTL),
		breaker: newBreaker[models.Photo]("photo-api", cfg.BreakerTimeout),
		writer:  writer,
	}
}

// SetClock replaces the cache time source. Tests only.
func (e *PhotoEnricher) SetClock(now func() time.Time) {
	e.cache.WithClock(now)
}

// Active reports whether photo lookups are enabled.
func (e *PhotoEnricher) Active() bool {
	return e.cfg.Enabled && e.cfg.APIURL != ""
}

// Enrich resolves a photo for t and writes it back. Failures are cached as
// empty records so a missing photo is retried once per TTL, not every cycle.
func (e *PhotoEnricher) Enrich(ctx context.Context, t models.Track) error {
	if !e.Active() {
		return nil
	}
	hex := models.NormalizeHex(t.Hex)
	if hex == "" {
		return nil
	}

	if entry, ok := e.cache.Get(hex); ok {
		e.cacheHits.Add(1)
		metrics.RecordEnrichment("photo", "cached")
		if !entry.Photo.IsZero() {
			e.apply(hex, entry.Photo)
		}
		return nil
	}

	e.calls.Add(1)
	photo, err := e.breaker.Execute(func() (models.Photo, error) {
		return e.fetch(ctx, hex)
	})
	if err != nil {
		e.cache.Set(hex, photoEntry{})
		e.failures.Add(1)
		metrics.RecordEnrichment("photo", "error")
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Debug().Str("hex", hex).Msg("photo lookup rejected by open circuit")
		} else {
			logging.Debug().Err(err).Str("hex", hex).Msg("photo lookup failed")
		}
		return err
	}
	if photo.IsZero() {
		e.cache.Set(hex, photoEntry{})
		metrics.RecordEnrichment("photo", "empty")
		return nil
	}

	e.found.Add(1)
	metrics.RecordEnrichment("photo", "success")
	e.cache.Set(hex, photoEntry{Photo: photo})
	e.apply(hex, photo)
	return nil
}

func (e *PhotoEnricher) apply(hex string, photo models.Photo) {
	e.writer.Apply(hex, func(cur models.Track) models.Track {
		var p models.Track
		if cur.Photo.URL == "" {
			p.Photo.URL = photo.URL
		}
		if cur.Photo.Thumbnail == "" {
			p.Photo.Thumbnail = photo.Thumbnail
		}
		if cur.Photo.Author == "" {
			p.Photo.Author = photo.Author
		}
		if cur.Photo.Source == "" {
			p.Photo.Source = photo.Source
		}
		return p
	})
}

func (e *PhotoEnricher) fetch(ctx context.Context, hex string) (models.Photo, error) {
	reqURL := strings.TrimRight(e.cfg.APIURL, "/") + "/" + strings.TrimPrefix(hex, "~")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return models.Photo{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return models.Photo{}, fmt.Errorf("photo request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Photo{}, &HTTPStatusError{Service: "photo", StatusCode: resp.StatusCode}
	}

	var body photoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Photo{}, fmt.Errorf("decode photo response: %w", err)
	}
	if len(body.Photos) == 0 {
		// Counted as a breaker success: the service answered.
		return models.Photo{}, nil
	}

	first := body.Photos[0]
	photo := models.Photo{
		URL:       first.ThumbnailLarge.Src,
		Thumbnail: first.Thumbnail.Src,
		Author:    first.Photographer,
		Source:    first.Link,
	}
	if photo.URL == "" {
		photo.URL = photo.Thumbnail
	}
	return photo, nil
}

// Stats returns counters and the breaker state.
func (e *PhotoEnricher) Stats() PhotoStats {
	return PhotoStats{
		Calls:     e.calls.Load(),
		CacheHits: e.cacheHits.Load(),
		Found:     e.found.Load(),
		Failures:  e.failures.Load(),
		Breaker:   e.breaker.State().String(),
	}
}
