/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver turns one poll's raw slot tokens into monotonic slot records.
//
// Decision order per time label:
//
//  1. an exact used/total fraction on the token is ground truth for this instant
//  2. otherwise a fraction for the same label from the other view of the page
//  3. otherwise the remembered snapshot for the key, read against the clock
//  4. otherwise the clock alone
//
// A capacity-closed snapshot pins the record after whichever branch fired.
// The resolver performs no I/O; the snapshot store it is handed is only
// mutated through Put and reaches durable storage when the caller commits.
package resolver

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/models"
)

var fractionPattern = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

// Store is the snapshot memory the resolver reads and writes.
type Store interface {
	Get(key string) (models.SlotSnapshot, bool)
	Put(key string, snap models.SlotSnapshot)
	Entries(category string) map[string]models.SlotSnapshot
}

// CrossView maps a time label to the best fraction the other view carried.
type CrossView map[string]models.Fraction

// Policy holds the interpretation choices that are heuristics about the
// source site rather than facts.
type Policy struct {
	// PendingOpen reports OPEN slots as PENDING_OPEN until their booking
	// window opens.
	PendingOpen bool
	// AMOpensAt and PMOpensAt are offsets from civil midnight at which the
	// site starts accepting applications for slots starting before noon and
	// from noon on, respectively.
	AMOpensAt time.Duration
	PMOpensAt time.Duration
	// IncludeRemembered appends records for keys remembered today but absent
	// from this poll's tokens.
	IncludeRemembered bool
}

// DefaultPolicy mirrors the site's observed behaviour.
func DefaultPolicy() Policy {
	return Policy{
		PendingOpen:       false,
		AMOpensAt:         9 * time.Hour,
		PMOpensAt:         13 * time.Hour,
		IncludeRemembered: true,
	}
}

// Resolver applies a Policy to poll tokens.
type Resolver struct {
	policy Policy
}

// New returns a resolver for policy.
func New(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Policy returns the active policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// ParseFraction finds a "used/total" pair in text. A non-positive total is not a fraction.
func ParseFraction(text string) (models.Fraction, bool) {
	m := fractionPattern.FindStringSubmatch(text)
	if m == nil {
		return models.Fraction{}, false
	}
	used, err := strconv.Atoi(m[1])
	if err != nil {
		return models.Fraction{}, false
	}
	total, err := strconv.Atoi(m[2])
	if err != nil || total <= 0 {
		return models.Fraction{}, false
	}
	return models.Fraction{Used: used, Total: total}, true
}

// BuildCrossView indexes the fractions carried by tokens. When a label
// appears more than once the larger total wins, then the larger used count.
func BuildCrossView(tokens []models.RawSlotToken) CrossView {
	index := make(CrossView)
	for _, tok := range tokens {
		label, ok := clock.NormalizeLabel(tok.TimeLabel)
		if !ok {
			continue
		}
		frac, ok := ParseFraction(tok.OccupancyText)
		if !ok {
			continue
		}
		best, seen := index[label]
		if !seen || frac.Total > best.Total || (frac.Total == best.Total && frac.Used > best.Used) {
			index[label] = frac
		}
	}
	return index
}

type observation struct {
	label    string
	fraction models.Fraction
	hasFrac  bool
}

// Resolve computes one record per distinct time label in tokens, plus
// remembered labels when the policy asks for them. Records are sorted by
// time label. Tokens without a parseable time are dropped.
func (r *Resolver) Resolve(category string, tokens []models.RawSlotToken, cross CrossView, store Store, now time.Time) []models.SlotRecord {
	observed := collapse(tokens)
	if len(observed) == 0 {
		return []models.SlotRecord{}
	}

	records := make([]models.SlotRecord, 0, len(observed))
	seen := make(map[string]bool, len(observed))
	for _, obs := range observed {
		key := models.SlotKey(category, obs.label)
		rec := r.decide(key, obs, cross, store, now)
		rec = enforceLock(rec, store, key)
		records = append(records, rec)
		seen[obs.label] = true
	}

	if r.policy.IncludeRemembered {
		for label, snap := range store.Entries(category) {
			if seen[label] {
				continue
			}
			records = append(records, RecordFromSnapshot(label, snap, now))
		}
	}

	sortRecords(records)
	return records
}

// collapse keeps one observation per label: the first carrying a fraction,
// else the first seen. Output follows first appearance.
func collapse(tokens []models.RawSlotToken) []observation {
	var order []string
	byLabel := make(map[string]observation)
	for _, tok := range tokens {
		label, ok := clock.NormalizeLabel(tok.TimeLabel)
		if !ok {
			continue
		}
		frac, hasFrac := ParseFraction(tok.OccupancyText)
		existing, seen := byLabel[label]
		if !seen {
			order = append(order, label)
			byLabel[label] = observation{label: label, fraction: frac, hasFrac: hasFrac}
			continue
		}
		if !existing.hasFrac && hasFrac {
			byLabel[label] = observation{label: label, fraction: frac, hasFrac: true}
		}
	}

	out := make([]observation, 0, len(order))
	for _, label := range order {
		out = append(out, byLabel[label])
	}
	return out
}

func (r *Resolver) decide(key string, obs observation, cross CrossView, store Store, now time.Time) models.SlotRecord {
	prior, hasPrior := store.Get(key)
	locked := hasPrior && capacityLocked(prior)
	started, _ := clock.AtOrAfter(now, obs.label)

	if obs.hasFrac {
		status := models.StatusOpen
		if obs.fraction.Full() {
			status = models.StatusCapacityClosed
		}
		if !locked {
			store.Put(key, snapshotOf(obs.fraction, status))
		}
		if status == models.StatusOpen && r.beforeBookingWindow(now, obs.label) {
			status = models.StatusPendingOpen
		}
		return recordOf(obs.label, status, obs.fraction)
	}

	if frac, ok := cross[obs.label]; ok {
		status := models.StatusTimeClosed
		if frac.Full() {
			status = models.StatusCapacityClosed
		}
		if !locked {
			store.Put(key, snapshotOf(frac, status))
		}
		return recordOf(obs.label, status, frac)
	}

	if hasPrior {
		if locked {
			if !prior.Status.AtLeast(models.StatusCapacityClosed) {
				store.Put(key, lockedSnapshot(prior.Total))
			}
			return models.SlotRecord{
				Time:      obs.label,
				Status:    models.StatusCapacityClosed,
				Available: copyInt(prior.Total),
				Total:     copyInt(prior.Total),
			}
		}
		if !started {
			store.Put(key, lockedSnapshot(prior.Total))
			return models.SlotRecord{
				Time:      obs.label,
				Status:    models.StatusCapacityClosed,
				Available: copyInt(prior.Total),
				Total:     copyInt(prior.Total),
			}
		}
		return models.SlotRecord{
			Time:      obs.label,
			Status:    models.StatusTimeClosed,
			Available: copyInt(prior.Available),
			Total:     copyInt(prior.Total),
		}
	}

	status := models.StatusCapacityClosed
	if started {
		status = models.StatusTimeClosed
	}
	return models.SlotRecord{Time: obs.label, Status: status}
}

// enforceLock is the never-downgrade post-condition: a capacity-locked
// snapshot overrides whatever the branch computed. It uses the same lock
// test as decide, so a full count stored under a lower status is locked too
// and gets stored as CAPACITY_CLOSED.
func enforceLock(rec models.SlotRecord, store Store, key string) models.SlotRecord {
	snap, ok := store.Get(key)
	if !ok || !capacityLocked(snap) {
		return rec
	}
	if !snap.Status.AtLeast(models.StatusCapacityClosed) {
		store.Put(key, lockedSnapshot(snap.Total))
	}
	rec.Status = models.StatusCapacityClosed
	rec.Available = copyInt(snap.Total)
	rec.Total = copyInt(snap.Total)
	return rec
}

func (r *Resolver) beforeBookingWindow(now time.Time, label string) bool {
	if !r.policy.PendingOpen {
		return false
	}
	start, err := clock.SlotStart(now, label)
	if err != nil {
		return false
	}
	opensAt := r.policy.PMOpensAt
	if start.Hour() < 12 {
		opensAt = r.policy.AMOpensAt
	}
	return now.Before(clock.Midnight(now).Add(opensAt))
}

// RecordFromSnapshot reinterprets a remembered snapshot as a record without
// new observations. It never mutates anything.
func RecordFromSnapshot(label string, snap models.SlotSnapshot, now time.Time) models.SlotRecord {
	if capacityLocked(snap) {
		return models.SlotRecord{
			Time:      label,
			Status:    models.StatusCapacityClosed,
			Available: copyInt(snap.Total),
			Total:     copyInt(snap.Total),
		}
	}
	status := snap.Status
	if started, err := clock.AtOrAfter(now, label); err == nil && started && !status.AtLeast(models.StatusTimeClosed) {
		status = models.StatusTimeClosed
	}
	return models.SlotRecord{
		Time:      label,
		Status:    status,
		Available: copyInt(snap.Available),
		Total:     copyInt(snap.Total),
	}
}

// RecordsFromSnapshots reinterprets a category's remembered snapshots, sorted by time.
func RecordsFromSnapshots(entries map[string]models.SlotSnapshot, now time.Time) []models.SlotRecord {
	records := make([]models.SlotRecord, 0, len(entries))
	for label, snap := range entries {
		records = append(records, RecordFromSnapshot(label, snap, now))
	}
	sortRecords(records)
	return records
}

func capacityLocked(snap models.SlotSnapshot) bool {
	if snap.Status.AtLeast(models.StatusCapacityClosed) {
		return true
	}
	return snap.Available != nil && snap.Total != nil && *snap.Available >= *snap.Total
}

func lockedSnapshot(total *int) models.SlotSnapshot {
	return models.SlotSnapshot{
		Available: copyInt(total),
		Total:     copyInt(total),
		Status:    models.StatusCapacityClosed,
	}
}

func snapshotOf(f models.Fraction, status models.Status) models.SlotSnapshot {
	return models.SlotSnapshot{
		Available: models.IntPtr(f.Used),
		Total:     models.IntPtr(f.Total),
		Status:    status,
	}
}

func recordOf(label string, status models.Status, f models.Fraction) models.SlotRecord {
	return models.SlotRecord{
		Time:      label,
		Status:    status,
		Available: models.IntPtr(f.Used),
		Total:     models.IntPtr(f.Total),
	}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	return models.IntPtr(*v)
}

func sortRecords(records []models.SlotRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time < records[j].Time
	})
}
