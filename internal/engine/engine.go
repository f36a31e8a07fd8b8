/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/catalog"
	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/extract"
	"github.com/friendsincode/slotwatch/internal/fetch"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/resolver"
	"github.com/friendsincode/slotwatch/internal/snapshot"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// Response messages.
const (
	MessageOK    = "정상 조회"
	MessageStale = "크롤링 실패 - 마지막 스냅샷"
)

// Trigger records what started a cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerAPI       Trigger = "api"
	TriggerAdmin     Trigger = "admin"
	TriggerCLI       Trigger = "cli"
)

// Source names where a category's records came from.
type Source string

const (
	SourceGrid   Source = "grid"
	SourceList   Source = "list"
	SourceClosed Source = "closed"
	SourceNone   Source = "none"
)

// CategoryResult is the outcome of one category within a cycle.
type CategoryResult struct {
	Category string
	Records  []models.SlotRecord
	Source   Source
	// Closed is set on the facility's closure days; Message explains why.
	Closed  bool
	Message string
	// Err is a fetch failure after retries. Records is empty when set.
	Err error
}

// Cycle summarizes one PollAll call.
type Cycle struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Results    map[string]CategoryResult
	CommitErr  error
}

// Failed lists categories whose fetch failed.
func (c *Cycle) Failed() []string {
	var out []string
	for id, res := range c.Results {
		if res.Err != nil {
			out = append(out, id)
		}
	}
	return out
}

// Options wires an Engine.
type Options struct {
	Catalog   *catalog.Catalog
	Fetcher   fetch.Fetcher
	Extractor *extract.Extractor
	Resolver  *resolver.Resolver
	Store     *snapshot.Store
	Clock     clock.Clock
	Bus       *events.Bus // optional
	Logger    zerolog.Logger
}

// Engine runs poll cycles. Cycles never overlap: scheduled and on-demand
// polls queue on the same lock.
type Engine struct {
	catalog   *catalog.Catalog
	fetcher   fetch.Fetcher
	extractor *extract.Extractor
	resolver  *resolver.Resolver
	store     *snapshot.Store
	clock     clock.Clock
	bus       *events.Bus
	logger    zerolog.Logger

	cycleMu   sync.Mutex
	resolveMu sync.Mutex

	mu        sync.RWMutex
	last      map[string][]models.SlotRecord
	lastCycle *Cycle
}

// New validates options and returns an engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Catalog == nil:
		return nil, errors.New("engine: catalog is required")
	case opts.Fetcher == nil:
		return nil, errors.New("engine: fetcher is required")
	case opts.Store == nil:
		return nil, errors.New("engine: snapshot store is required")
	case opts.Clock == nil:
		return nil, errors.New("engine: clock is required")
	}
	if opts.Extractor == nil {
		ex, err := extract.New(opts.Catalog.Selectors)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		opts.Extractor = ex
	}
	if opts.Resolver == nil {
		policy, err := PolicyFor(opts.Catalog)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		opts.Resolver = resolver.New(policy)
	}

	return &Engine{
		catalog:   opts.Catalog,
		fetcher:   opts.Fetcher,
		extractor: opts.Extractor,
		resolver:  opts.Resolver,
		store:     opts.Store,
		clock:     opts.Clock,
		bus:       opts.Bus,
		logger:    opts.Logger.With().Str("component", "engine").Logger(),
		last:      make(map[string][]models.SlotRecord),
	}, nil
}

// PolicyFor applies the catalog's booking windows to the default resolver policy.
func PolicyFor(cat *catalog.Catalog) (resolver.Policy, error) {
	policy := resolver.DefaultPolicy()
	am, pm, err := cat.BookingWindows.Offsets()
	if err != nil {
		return policy, fmt.Errorf("booking windows: %w", err)
	}
	policy.PendingOpen = cat.BookingWindows.PendingOpen
	policy.AMOpensAt = am
	policy.PMOpensAt = pm
	return policy, nil
}

// Catalog returns the catalog the engine polls.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Store returns the snapshot store the engine owns.
func (e *Engine) Store() *snapshot.Store {
	return e.store
}

// Clock returns the engine's clock.
func (e *Engine) Clock() clock.Clock {
	return e.clock
}

// PollAll runs one cycle over categories, or over the whole catalog when
// none are given. Unknown ids fail the call before anything is fetched.
// Per-category failures are reported in their CategoryResult.
func (e *Engine) PollAll(ctx context.Context, trigger Trigger, categories ...string) (*Cycle, error) {
	selected, err := e.selectCategories(categories)
	if err != nil {
		return nil, err
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "engine", "engine.PollAll")
	defer span.End()

	wallStart := time.Now()
	now := e.clock.Now()
	cycle := &Cycle{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: now,
		Results:   make(map[string]CategoryResult, len(selected)),
	}
	telemetry.AddSpanAttributes(span, map[string]any{
		"cycle.id":         cycle.ID,
		"cycle.trigger":    string(trigger),
		"cycle.categories": len(selected),
	})

	logger := e.logger.With().Str("cycle_id", cycle.ID).Str("trigger", string(trigger)).Logger()

	if _, err := e.store.ResetIfNewDay(ctx, now); err != nil {
		// The in-memory reset already happened; the next commit retries the write.
		logger.Error().Err(err).Msg("persist day reset")
	}

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		weekday = now.Weekday()
	)
	for _, cat := range selected {
		if msg, closed := cat.ClosedOn(weekday); closed {
			resMu.Lock()
			cycle.Results[cat.ID] = CategoryResult{
				Category: cat.ID,
				Records:  []models.SlotRecord{},
				Source:   SourceClosed,
				Closed:   true,
				Message:  msg,
			}
			resMu.Unlock()
			continue
		}

		wg.Add(1)
		go func(cat catalog.Category) {
			defer wg.Done()
			res := e.pollCategory(ctx, cat, now, logger)
			resMu.Lock()
			cycle.Results[cat.ID] = res
			resMu.Unlock()
		}(cat)
	}
	wg.Wait()

	// Commit runs even when ctx was cancelled mid-cycle.
	if err := e.store.Commit(context.WithoutCancel(ctx)); err != nil {
		cycle.CommitErr = err
		telemetry.RecordError(span, err)
		logger.Error().Err(err).Msg("snapshot commit failed")
	}

	cycle.FinishedAt = e.clock.Now()
	e.publish(cycle)

	duration := time.Since(wallStart)
	telemetry.PollCyclesTotal.WithLabelValues(string(trigger)).Inc()
	telemetry.PollCycleDuration.Observe(duration.Seconds())

	logger.Info().
		Int("categories", len(selected)).
		Strs("failed", cycle.Failed()).
		Dur("duration", duration).
		Msg("poll cycle complete")

	return cycle, nil
}

func (e *Engine) selectCategories(ids []string) ([]catalog.Category, error) {
	if len(ids) == 0 {
		return append([]catalog.Category(nil), e.catalog.Categories...), nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]catalog.Category, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		cat, err := e.catalog.Lookup(id)
		if err != nil {
			return nil, err
		}
		seen[id] = true
		out = append(out, cat)
	}
	return out, nil
}

func (e *Engine) pollCategory(ctx context.Context, cat catalog.Category, now time.Time, logger zerolog.Logger) CategoryResult {
	ctx, span := telemetry.StartSpan(ctx, "engine", "engine.pollCategory")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"category": cat.ID})

	logger = logger.With().Str("category", cat.ID).Logger()
	result := CategoryResult{Category: cat.ID, Records: []models.SlotRecord{}, Source: SourceNone}

	started := time.Now()
	page, err := e.fetcher.Fetch(ctx, cat.URL)
	telemetry.FetchDuration.WithLabelValues(cat.ID).Observe(time.Since(started).Seconds())
	if err != nil {
		telemetry.FetchErrorsTotal.WithLabelValues(cat.ID, errorKind(err)).Inc()
		telemetry.RecordError(span, err)
		logger.Warn().Err(err).Msg("fetch failed")
		result.Err = err
		return result
	}

	grid, list, err := e.extractor.Extract(page, now)
	if err != nil {
		telemetry.FetchErrorsTotal.WithLabelValues(cat.ID, "extract").Inc()
		logger.Warn().Err(err).Msg("extraction failed, reporting no slots")
		return result
	}

	e.resolveMu.Lock()
	defer e.resolveMu.Unlock()

	records := e.resolver.Resolve(cat.ID, grid, resolver.BuildCrossView(list), e.store, now)
	result.Source = SourceGrid
	if len(records) == 0 {
		records = e.resolver.Resolve(cat.ID, list, resolver.BuildCrossView(grid), e.store, now)
		result.Source = SourceList
		if len(records) > 0 {
			telemetry.ListFallbacksTotal.WithLabelValues(cat.ID).Inc()
		} else {
			result.Source = SourceNone
		}
	}

	for _, rec := range records {
		telemetry.ResolvedSlotsTotal.WithLabelValues(cat.ID, rec.Status.Name()).Inc()
	}
	telemetry.AddSpanAttributes(span, map[string]any{
		"tokens.grid":  len(grid),
		"tokens.list":  len(list),
		"records":      len(records),
		"records.from": string(result.Source),
	})
	logger.Debug().
		Int("grid_tokens", len(grid)).
		Int("list_tokens", len(list)).
		Int("records", len(records)).
		Str("source", string(result.Source)).
		Msg("category resolved")

	result.Records = records
	return result
}

// publish emits slot.changed for every record that differs from the last
// successful cycle, then poll.completed.
func (e *Engine) publish(cycle *Cycle) {
	e.mu.Lock()
	var changes []events.Payload
	for id, res := range cycle.Results {
		if res.Err != nil || res.Closed {
			continue
		}
		previous := make(map[string]models.SlotRecord, len(e.last[id]))
		for _, rec := range e.last[id] {
			previous[rec.Time] = rec
		}
		for _, rec := range res.Records {
			prev, seen := previous[rec.Time]
			if seen && prev.Equal(rec) {
				continue
			}
			payload := events.Payload{
				events.KeyCategory:   id,
				events.KeySlotKey:    models.SlotKey(id, rec.Time),
				events.KeyTime:       rec.Time,
				events.KeyStatus:     rec.Status.String(),
				events.KeyAvailable:  rec.Available,
				events.KeyTotal:      rec.Total,
				events.KeyObservedAt: cycle.StartedAt,
				events.KeyCycleID:    cycle.ID,
			}
			if seen {
				payload[events.KeyPreviousStatus] = prev.Status.String()
			}
			changes = append(changes, payload)
			telemetry.SlotChangesTotal.WithLabelValues(id).Inc()
		}
		e.last[id] = res.Records
	}
	e.lastCycle = cycle
	e.mu.Unlock()

	if e.bus == nil {
		return
	}
	for _, payload := range changes {
		e.bus.Publish(events.EventSlotChanged, payload)
	}
	e.bus.Publish(events.EventPollCompleted, events.Payload{
		events.KeyCycleID:    cycle.ID,
		events.KeyTrigger:    string(cycle.Trigger),
		events.KeyCategories: len(cycle.Results),
		events.KeyFailed:     cycle.Failed(),
		events.KeyDurationMS: cycle.FinishedAt.Sub(cycle.StartedAt).Milliseconds(),
		events.KeyDate:       clock.CivilDate(cycle.StartedAt),
	})
}

// LastCycle returns the most recent completed cycle, or nil.
func (e *Engine) LastCycle() *Cycle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCycle
}

// SnapshotRecords reinterprets the committed snapshots of one category as
// records, for serving when a live poll fails.
func (e *Engine) SnapshotRecords(category string) []models.SlotRecord {
	now := e.clock.Now()
	if e.store.Date() != clock.CivilDate(now) {
		return []models.SlotRecord{}
	}
	return resolver.RecordsFromSnapshots(e.store.Entries(category), now)
}

// Reservation turns one category's cycle result into the served answer.
// A failed fetch is answered from the remembered snapshots and marked stale.
func (e *Engine) Reservation(cycle *Cycle, category string) models.Reservation {
	res := cycle.Results[category]
	out := models.Reservation{
		Category:   category,
		Message:    MessageOK,
		Records:    res.Records,
		CycleID:    cycle.ID,
		ObservedAt: cycle.StartedAt,
	}
	switch {
	case res.Closed:
		out.Message = res.Message
	case res.Err != nil:
		out.Message = MessageStale
		out.Records = e.SnapshotRecords(category)
		out.Stale = true
		telemetry.StaleResponsesTotal.WithLabelValues(category).Inc()
	}
	if out.Records == nil {
		out.Records = []models.SlotRecord{}
	}
	return out
}

// ClearSnapshot wipes the snapshot store between cycles.
func (e *Engine) ClearSnapshot(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if err := e.store.Clear(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.last = make(map[string][]models.SlotRecord)
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(events.EventSnapshotCleared, events.Payload{
			events.KeyDate: e.store.Date(),
		})
	}
	return nil
}

func errorKind(err error) string {
	var fetchErr *fetch.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, fetch.ErrPermanent):
		return "permanent"
	case errors.As(err, &fetchErr) && fetchErr.Status != 0:
		return "http_status"
	default:
		return "transport"
	}
}
