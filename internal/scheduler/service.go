/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/cache"
	"github.com/friendsincode/slotwatch/internal/engine"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 60 * time.Second

// Poller is the part of the engine the scheduler drives.
type Poller interface {
	PollAll(ctx context.Context, trigger engine.Trigger, categories ...string) (*engine.Cycle, error)
	Reservation(cycle *engine.Cycle, category string) models.Reservation
}

// Service polls every category on a fixed cadence and refreshes the result cache.
type Service struct {
	poller   Poller
	cache    *cache.Cache
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

// New constructs the scheduler service.
func New(poller Poller, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		poller:   poller,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// SetCache sets the cache instance for the scheduler.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// Interval returns the poll cadence.
func (s *Service) Interval() time.Duration {
	return s.interval
}

// LastRun returns when the last tick finished, or zero.
func (s *Service) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Run polls once immediately, then on every tick until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler loop started")
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()

	cycle, err := s.poller.PollAll(ctx, engine.TriggerScheduled)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Msg("scheduled poll failed")
		telemetry.SchedulerErrorsTotal.WithLabelValues("poll").Inc()
		return
	}

	if cycle.CommitErr != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("commit").Inc()
	}
	if failed := cycle.Failed(); len(failed) > 0 {
		sort.Strings(failed)
		s.logger.Warn().Strs("categories", failed).Str("cycle_id", cycle.ID).Msg("categories failed this cycle")
		telemetry.SchedulerErrorsTotal.WithLabelValues("fetch").Add(float64(len(failed)))
	}

	s.refreshCache(ctx, cycle)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()
}

func (s *Service) refreshCache(ctx context.Context, cycle *engine.Cycle) {
	if s.cache == nil {
		return
	}
	for id := range cycle.Results {
		if err := s.cache.SetResult(ctx, s.poller.Reservation(cycle, id)); err != nil {
			s.logger.Debug().Err(err).Str("category", id).Msg("failed to cache reservation")
			telemetry.SchedulerErrorsTotal.WithLabelValues("cache").Inc()
		}
	}
}
