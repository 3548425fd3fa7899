// Package reaper periodically expires stale login sessions.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"botgate/cmd/internal/clock"
)

// Sweeper is implemented by session.Store.
type Sweeper interface {
	SweepExpired(now time.Time, ttl time.Duration) int
}

// Observer receives the size of each sweep (metrics).
type Observer interface {
	ObserveSweep(expired int)
}

// ErrSweepPanic wraps a recovered panic from a sweep.
var ErrSweepPanic = errors.New("reaper: sweep panicked")

// Reaper runs SweepExpired on a fixed interval until its context is cancelled.
// A failing sweep is logged and the schedule continues.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	ttl      time.Duration
	clock    clock.Clock
	log      *slog.Logger
	observer Observer
}

// New constructs a Reaper. interval and ttl must be positive.
func New(s Sweeper, interval, ttl time.Duration, c clock.Clock, log *slog.Logger, obs Observer) (*Reaper, error) {
	if s == nil {
		return nil, errors.New("reaper: nil sweeper")
	}
	if interval <= 0 || ttl <= 0 {
		return nil, errors.New("reaper: interval and ttl must be positive")
	}
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{sweeper: s, interval: interval, ttl: ttl, clock: c, log: log, observer: obs}, nil
}

// Run blocks, sweeping every interval, and returns nil when ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info("reaper.start", "interval", r.interval.String(), "ttl", r.ttl.String())

	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper.stop")
			return nil
		case <-t.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				r.log.Error("reaper.sweep.fail", "err", err)
			}
		}
	}
}

// SweepOnce performs a single sweep and reports how many sessions expired.
func (r *Reaper) SweepOnce(ctx context.Context) (n int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("%w: %v", ErrSweepPanic, rec)
		}
	}()

	n = r.sweeper.SweepExpired(r.clock.Now(), r.ttl)
	if r.observer != nil {
		r.observer.ObserveSweep(n)
	}
	if n > 0 {
		r.log.Info("reaper.sweep", "expired", n)
	} else {
		r.log.Debug("reaper.sweep", "expired", 0)
	}
	return n, nil
}
