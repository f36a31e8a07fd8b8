/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists slot status transitions for later inspection.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// Repository reads and writes transition rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps a migrated database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores one transition, assigning an id when missing.
func (r *Repository) Insert(ctx context.Context, t *models.SlotTransition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Query filters List.
type Query struct {
	Category string
	Date     string // YYYY-MM-DD
	Limit    int
}

// List returns transitions for a category and civil date, oldest first.
func (r *Repository) List(ctx context.Context, q Query) ([]models.SlotTransition, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var rows []models.SlotTransition
	err := r.db.WithContext(ctx).
		Where("category = ? AND date = ?", q.Category, q.Date).
		Order("observed_at ASC").
		Order("slot_time ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return rows, nil
}

// Prune deletes rows observed before cutoff and returns how many went.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("observed_at < ?", cutoff).
		Delete(&models.SlotTransition{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune transitions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Recorder writes a row for every slot.changed event.
type Recorder struct {
	repo      *Repository
	bus       *events.Bus
	logger    zerolog.Logger
	retention time.Duration
}

// NewRecorder builds a recorder. Rows older than retention are pruned hourly;
// zero keeps everything.
func NewRecorder(repo *Repository, bus *events.Bus, retention time.Duration, logger zerolog.Logger) *Recorder {
	return &Recorder{
		repo:      repo,
		bus:       bus,
		retention: retention,
		logger:    logger.With().Str("component", "history").Logger(),
	}
}

// Run consumes events until ctx is cancelled.
func (rec *Recorder) Run(ctx context.Context) {
	changes := rec.bus.SubscribeBuffered(events.EventSlotChanged, 256)
	defer rec.bus.Unsubscribe(events.EventSlotChanged, changes)

	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-changes:
			rec.record(ctx, payload)
		case <-prune.C:
			rec.prune(ctx)
		}
	}
}

func (rec *Recorder) record(ctx context.Context, payload events.Payload) {
	row := TransitionFromPayload(payload)
	if err := rec.repo.Insert(ctx, &row); err != nil {
		telemetry.HistoryWritesTotal.WithLabelValues("error").Inc()
		rec.logger.Warn().Err(err).Str("key", payload.String(events.KeySlotKey)).Msg("history write failed")
		return
	}
	telemetry.HistoryWritesTotal.WithLabelValues("ok").Inc()
}

func (rec *Recorder) prune(ctx context.Context) {
	if rec.retention <= 0 {
		return
	}
	n, err := rec.repo.Prune(ctx, time.Now().Add(-rec.retention))
	if err != nil {
		rec.logger.Warn().Err(err).Msg("history prune failed")
		return
	}
	if n > 0 {
		rec.logger.Info().Int64("deleted", n).Msg("pruned slot history")
	}
}

// TransitionFromPayload maps a slot.changed payload to a row.
func TransitionFromPayload(payload events.Payload) models.SlotTransition {
	observed, _ := payload[events.KeyObservedAt].(time.Time)
	if observed.IsZero() {
		observed = time.Now()
	}
	return models.SlotTransition{
		Category:       payload.String(events.KeyCategory),
		Date:           clock.CivilDate(observed),
		SlotTime:       payload.String(events.KeyTime),
		Status:         payload.String(events.KeyStatus),
		PreviousStatus: payload.String(events.KeyPreviousStatus),
		Available:      payload.IntPtr(events.KeyAvailable),
		Total:          payload.IntPtr(events.KeyTotal),
		CycleID:        payload.String(events.KeyCycleID),
		ObservedAt:     observed,
	}
}
