/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the resolved state of a slot. Values are ordered by closedness.
type Status int

const (
	StatusOpen Status = iota
	StatusPendingOpen
	StatusTimeClosed
	StatusCapacityClosed
)

// Boundary literals. Existing consumers compare these byte for byte.
const (
	LiteralOpen           = "예약가능"
	LiteralPendingOpen    = "예약대기"
	LiteralTimeClosed     = "시간마감"
	LiteralCapacityClosed = "정원마감"
)

var statusLiterals = map[Status]string{
	StatusOpen:           LiteralOpen,
	StatusPendingOpen:    LiteralPendingOpen,
	StatusTimeClosed:     LiteralTimeClosed,
	StatusCapacityClosed: LiteralCapacityClosed,
}

// ParseStatus maps a boundary literal back to a Status.
func ParseStatus(literal string) (Status, error) {
	for status, lit := range statusLiterals {
		if lit == literal {
			return status, nil
		}
	}
	return StatusOpen, fmt.Errorf("unknown status literal %q", literal)
}

// String returns the boundary literal.
func (s Status) String() string {
	if lit, ok := statusLiterals[s]; ok {
		return lit
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Name returns an ASCII identifier for logs and metric labels.
func (s Status) Name() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPendingOpen:
		return "pending_open"
	case StatusTimeClosed:
		return "time_closed"
	case StatusCapacityClosed:
		return "capacity_closed"
	}
	return "unknown"
}

// AtLeast reports whether s is as closed as other or more.
func (s Status) AtLeast(other Status) bool {
	return s >= other
}

// MarshalJSON encodes the status as its boundary literal.
func (s Status) MarshalJSON() ([]byte, error) {
	lit, ok := statusLiterals[s]
	if !ok {
		return nil, fmt.Errorf("marshal status: invalid value %d", int(s))
	}
	return json.Marshal(lit)
}

// UnmarshalJSON decodes a boundary literal.
func (s *Status) UnmarshalJSON(data []byte) error {
	var lit string
	if err := json.Unmarshal(data, &lit); err != nil {
		return err
	}
	parsed, err := ParseStatus(lit)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SourceView identifies which rendering of the calendar a token came from.
type SourceView string

const (
	ViewGrid SourceView = "grid"
	ViewList SourceView = "list"
)

// RawSlotToken is one slot element as scraped from a page. Produced fresh every poll.
type RawSlotToken struct {
	SourceView    SourceView
	TimeLabel     string
	OccupancyText string
}

// SlotSnapshot is the remembered state of a slot key for the current civil day.
// Available and Total are nil only when no numeric observation was ever made.
type SlotSnapshot struct {
	Available *int   `json:"available"`
	Total     *int   `json:"total"`
	Status    Status `json:"status"`
}

// SlotRecord is the per-slot result returned to callers.
type SlotRecord struct {
	Time      string `json:"time"`
	Status    Status `json:"status"`
	Available *int   `json:"available"`
	Total     *int   `json:"total"`
}

// Equal reports whether two records carry the same time, status and counts.
func (r SlotRecord) Equal(other SlotRecord) bool {
	return r.Time == other.Time &&
		r.Status == other.Status &&
		intPtrEqual(r.Available, other.Available) &&
		intPtrEqual(r.Total, other.Total)
}

// Fraction is an exact "used/total" observation.
type Fraction struct {
	Used  int
	Total int
}

// Full reports whether enrollment reached capacity.
func (f Fraction) Full() bool {
	return f.Used >= f.Total
}

// SlotKey builds the store key for a category and normalized time label.
func SlotKey(category, timeLabel string) string {
	return category + "-" + timeLabel
}

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int {
	return &v
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Reservation is one category's answer as served to clients.
type Reservation struct {
	Category   string       `json:"category"`
	Message    string       `json:"message"`
	Records    []SlotRecord `json:"data"`
	Stale      bool         `json:"stale,omitempty"`
	CycleID    string       `json:"cycle_id,omitempty"`
	ObservedAt time.Time    `json:"observed_at"`
}
