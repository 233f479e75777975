// Skyfence - ADS-B Track Ingestion, Enrichment and Geofence Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/skyfence

// Package ratelimit provides the sequential limiter that protects the route
// lookup budget.
//
// A Sequential limiter admits one caller at a time and keeps successive
// calls at least Spacing apart, where Spacing defaults to 24h divided by the
// daily budget. It also counts calls per local calendar day and tracks a
// global cooldown that grows exponentially on repeated rate-limit responses.
//
//	release, err := limiter.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer release()
//	resp, err := client.Do(req)
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/skyfence/internal/logging"
)

var (
	// ErrCooldown is returned while a rate-limit backoff window is active.
	ErrCooldown = errors.New("rate limit cooldown active")

	// ErrBudgetExhausted is returned when the daily budget is used up and
	// enforcement is enabled.
	ErrBudgetExhausted = errors.New("daily call budget exhausted")
)

// Config configures a Sequential limiter.
type Config struct {
	// DailyBudget is the number of calls allowed per local calendar day.
	DailyBudget int

	// Enforce makes the budget a hard limit. When false the budget is
	// advisory: calls past it proceed and are only flagged in Status.
	Enforce bool

	// Spacing overrides the minimum interval between calls. Zero derives it
	// from DailyBudget.
	Spacing time.Duration

	// BackoffBase is the first cooldown window after a rate-limit response.
	BackoffBase time.Duration

	// BackoffMax caps the doubling cooldown window.
	BackoffMax time.Duration

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Status is a point-in-time view of limiter state.
type Status struct {
	Used          int           `json:"used"`
	Budget        int           `json:"budget"`
	Exhausted     bool          `json:"exhausted"`
	Enforced      bool          `json:"enforced"`
	Spacing       time.Duration `json:"spacing"`
	WindowStart   time.Time     `json:"window_start"`
	CooldownUntil time.Time     `json:"cooldown_until,omitempty"`
	BackoffWindow time.Duration `json:"backoff_window"`
	Consecutive   int           `json:"consecutive_rate_limits"`
}

// Sequential is a single-flight gate with minimum spacing, a daily budget
// and exponential cooldown.
type Sequential struct {
	cfg     Config
	slot    chan struct{}
	limiter *rate.Limiter

	mu            sync.Mutex
	windowStart   time.Time
	used          int
	warned        bool
	cooldownUntil time.Time
	backoff       time.Duration
	consecutive   int
}

// NewSequential builds a limiter from cfg.
func NewSequential(cfg Config) *Sequential {
	if cfg.DailyBudget <= 0 {
		cfg.DailyBudget = 1
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = 24 * time.Hour / time.Duration(cfg.DailyBudget)
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	s := &Sequential{
		cfg:     cfg,
		slot:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Every(cfg.Spacing), 1),
	}
	s.windowStart = startOfDay(cfg.Now())
	return s
}

// Acquire waits for the single call slot and the spacing window, counts the
// call against the daily budget and returns a release func that must be
// called once the protected call has finished.
func (s *Sequential) Acquire(ctx context.Context) (func(), error) {
	if s.InCooldown() {
		return nil, ErrCooldown
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	release := func() { once.Do(func() { <-s.slot }) }

	// A caller queued behind a request that was rate limited must not go out.
	if s.InCooldown() {
		release()
		return nil, ErrCooldown
	}
	if s.cfg.Enforce && s.Status().Exhausted {
		release()
		return nil, ErrBudgetExhausted
	}

	if err := s.space(ctx); err != nil {
		release()
		return nil, err
	}

	s.count()
	return release, nil
}

// Retry admits one more call for a caller that still holds the slot from
// Acquire, such as a retry after a token refresh. The call is spaced and
// counted like any other.
func (s *Sequential) Retry(ctx context.Context) error {
	if s.InCooldown() {
		return ErrCooldown
	}
	if s.cfg.Enforce && s.Status().Exhausted {
		return ErrBudgetExhausted
	}
	if err := s.space(ctx); err != nil {
		return err
	}
	s.count()
	return nil
}

// space waits out the spacing window.
func (s *Sequential) space(ctx context.Context) error {
	now := s.cfg.Now()
	r := s.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		if err := s.cfg.Sleep(ctx, delay); err != nil {
			r.CancelAt(s.cfg.Now())
			return err
		}
	}
	return nil
}

// Do runs fn while holding the call slot.
func (s *Sequential) Do(ctx context.Context, fn func(context.Context) error) error {
	release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (s *Sequential) count() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(s.cfg.Now())

	s.used++
	if s.used > s.cfg.DailyBudget && !s.warned {
		s.warned = true
		logging.Warn().
			Int("budget", s.cfg.DailyBudget).
			Bool("enforced", s.cfg.Enforce).
			Msg("daily route lookup budget exhausted; further calls are over budget")
	}
}

// Backoff records a rate-limit response. The cooldown window starts at
// BackoffBase and doubles for each consecutive call, capped at BackoffMax.
// It returns the window applied.
func (s *Sequential) Backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.cfg.Now()
	s.rolloverLocked(now)

	s.consecutive++
	if s.backoff == 0 {
		s.backoff = s.cfg.BackoffBase
	} else {
		s.backoff *= 2
	}
	if s.backoff > s.cfg.BackoffMax {
		s.backoff = s.cfg.BackoffMax
	}
	s.cooldownUntil = now.Add(s.backoff)
	return s.backoff
}

// Success clears the consecutive rate-limit streak. The next rate-limit
// response starts again from BackoffBase.
func (s *Sequential) Success() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive = 0
	s.backoff = 0
}

// InCooldown reports whether a backoff window is active.
func (s *Sequential) InCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.cfg.Now()
	s.rolloverLocked(now)
	return now.Before(s.cooldownUntil)
}

// Status returns a snapshot of the limiter.
func (s *Sequential) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(s.cfg.Now())

	return Status{
		Used:          s.used,
		Budget:        s.cfg.DailyBudget,
		Exhausted:     s.used >= s.cfg.DailyBudget,
		Enforced:      s.cfg.Enforce,
		Spacing:       s.cfg.Spacing,
		WindowStart:   s.windowStart,
		CooldownUntil: s.cooldownUntil,
		BackoffWindow: s.backoff,
		Consecutive:   s.consecutive,
	}
}

// rolloverLocked resets the counter and any cooldown at local midnight.
func (s *Sequential) rolloverLocked(now time.Time) {
	day := startOfDay(now)
	if !day.After(s.windowStart) {
		return
	}
	s.windowStart = day
	s.used = 0
	s.warned = false
	s.cooldownUntil = time.Time{}
	s.backoff = 0
	s.consecutive = 0
	logging.Debug().Time("window_start", day).Msg("route budget window rolled over")
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
