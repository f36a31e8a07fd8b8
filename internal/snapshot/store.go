/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/storage"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// DefaultKey is the object name of the persisted day map.
const DefaultKey = "slot_snapshot.json"

const dateField = "_date"

// Store is the per-day memory of resolved slots, keyed "category-HH:MM".
//
// Resolution for one cycle must be serialized by the caller. The internal
// lock only keeps concurrent readers (API, CLI) consistent with a cycle.
type Store struct {
	mu      sync.RWMutex
	objects storage.ObjectStore
	key     string
	clock   clock.Clock
	logger  zerolog.Logger

	date    string
	entries map[string]models.SlotSnapshot
	dirty   bool
}

// Open loads the persisted day map. An absent or unreadable object yields an
// empty store; the first ResetIfNewDay tags it with the current date.
func Open(ctx context.Context, objects storage.ObjectStore, key string, clk clock.Clock, logger zerolog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{
		objects: objects,
		key:     key,
		clock:   clk,
		logger:  logger.With().Str("component", "snapshot").Logger(),
		entries: make(map[string]models.SlotSnapshot),
	}

	data, err := objects.Get(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info().Str("key", key).Msg("no persisted snapshot, starting empty")
		return s
	case err != nil:
		s.logger.Warn().Err(err).Str("key", key).Msg("snapshot unreadable, starting empty")
		return s
	}

	date, entries, err := Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("snapshot corrupt, starting empty")
		return s
	}

	s.date = date
	s.entries = entries
	s.logger.Info().Str("date", date).Int("entries", len(entries)).Msg("snapshot loaded")
	return s
}

// Get returns the snapshot for key.
func (s *Store) Get(key string) (models.SlotSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.entries[key]
	if !ok {
		return models.SlotSnapshot{}, false
	}
	return clone(snap), true
}

// Put records a snapshot. It reaches durable storage on the next Commit.
func (s *Store) Put(key string, snap models.SlotSnapshot) {
	s.mu.Lock()
	s.entries[key] = clone(snap)
	s.dirty = true
	s.mu.Unlock()
}

// ResetIfNewDay discards every key when now falls on a different civil date
// than the stored tag, and persists the empty re-tagged map right away so a
// crash before the next commit cannot resurrect yesterday's locks.
func (s *Store) ResetIfNewDay(ctx context.Context, now time.Time) (bool, error) {
	today := clock.CivilDate(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.date == today {
		return false, nil
	}

	previous := s.date
	dropped := len(s.entries)
	s.date = today
	s.entries = make(map[string]models.SlotSnapshot)
	s.dirty = false
	telemetry.SnapshotDayResetsTotal.Inc()

	s.logger.Info().
		Str("previous_date", previous).
		Str("date", today).
		Int("dropped", dropped).
		Msg("civil day changed, snapshot reset")

	if err := s.persistLocked(ctx); err != nil {
		s.dirty = true
		return true, fmt.Errorf("persist reset snapshot: %w", err)
	}
	return true, nil
}

// Commit writes pending changes. A clean store is not rewritten.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		telemetry.SnapshotCommitsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if err := s.persistLocked(ctx); err != nil {
		telemetry.SnapshotCommitsTotal.WithLabelValues("failed").Inc()
		return err
	}
	s.dirty = false
	telemetry.SnapshotCommitsTotal.WithLabelValues("written").Inc()
	telemetry.SnapshotEntries.Set(float64(len(s.entries)))
	return nil
}

// Clear drops every key, tags the map with today's date, and persists immediately.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.date = clock.CivilDate(s.clock.Now())
	s.entries = make(map[string]models.SlotSnapshot)
	if err := s.persistLocked(ctx); err != nil {
		s.dirty = true
		return fmt.Errorf("persist cleared snapshot: %w", err)
	}
	s.dirty = false
	s.logger.Info().Str("date", s.date).Msg("snapshot cleared")
	return nil
}

// Date returns the civil date the store is tagged with.
func (s *Store) Date() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.date
}

// Len returns the number of keys held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns the snapshots of one category keyed by time label.
func (s *Store) Entries(category string) map[string]models.SlotSnapshot {
	prefix := category + "-"

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.SlotSnapshot)
	for key, snap := range s.entries {
		if label, ok := strings.CutPrefix(key, prefix); ok {
			out[label] = clone(snap)
		}
	}
	return out
}

// Encoded returns the persisted representation of the current state.
func (s *Store) Encoded() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Encode(s.date, s.entries)
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := Encode(s.date, s.entries)
	if err != nil {
		return err
	}
	if err := s.objects.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Encode renders the day map as a flat JSON object with a "_date" tag.
func Encode(date string, entries map[string]models.SlotSnapshot) ([]byte, error) {
	doc := make(map[string]any, len(entries)+1)
	for key, snap := range entries {
		doc[key] = snap
	}
	doc[dateField] = date

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a persisted day map. Any malformed entry rejects the whole document.
func Decode(data []byte) (string, map[string]models.SlotSnapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, fmt.Errorf("decode snapshot: %w", err)
	}

	var date string
	entries := make(map[string]models.SlotSnapshot, len(raw))
	for key, value := range raw {
		if key == dateField {
			if err := json.Unmarshal(value, &date); err != nil {
				return "", nil, fmt.Errorf("decode %s: %w", dateField, err)
			}
			continue
		}
		var snap models.SlotSnapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			return "", nil, fmt.Errorf("decode entry %q: %w", key, err)
		}
		entries[key] = snap
	}
	return date, entries, nil
}

func clone(snap models.SlotSnapshot) models.SlotSnapshot {
	out := models.SlotSnapshot{Status: snap.Status}
	if snap.Available != nil {
		out.Available = models.IntPtr(*snap.Available)
	}
	if snap.Total != nil {
		out.Total = models.IntPtr(*snap.Total)
	}
	return out
}
