/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// DateLayout is the civil date format used for snapshot tags and history rows.
const DateLayout = "2006-01-02"

var (
	timeLabelPattern = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	timeOfDayPattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
)

// Clock supplies "now" in the facility's civil time.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Civil is the wall clock pinned to a facility timezone.
type Civil struct {
	loc *time.Location
}

// NewCivil returns a clock reading the system time in loc.
func NewCivil(loc *time.Location) *Civil {
	if loc == nil {
		loc = time.UTC
	}
	return &Civil{loc: loc}
}

// Now returns the current instant expressed in the civil timezone.
func (c *Civil) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the civil timezone.
func (c *Civil) Location() *time.Location {
	return c.loc
}

// Manual is a settable clock for tests and replay tooling.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a clock frozen at now.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Location() *time.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Location()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// LoadLocation resolves a timezone name. Asia/Seoul falls back to a fixed
// +09:00 zone on hosts without tzdata.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == "Asia/Seoul" {
		return time.FixedZone("KST", 9*60*60), nil
	}
	return nil, fmt.Errorf("load timezone %q: %w", name, err)
}

// CivilDate formats t's calendar date in its own location.
func CivilDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NormalizeLabel finds the first H:MM or HH:MM in text and returns it as HH:MM.
func NormalizeLabel(text string) (string, bool) {
	m := timeLabelPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// SlotStart returns the nominal start of a slot labelled label on now's civil date.
func SlotStart(now time.Time, label string) (time.Time, error) {
	normalized, ok := NormalizeLabel(label)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid time label %q", label)
	}
	hour, _ := strconv.Atoi(normalized[:2])
	minute, _ := strconv.Atoi(normalized[3:])
	y, mo, d := now.Date()
	return time.Date(y, mo, d, hour, minute, 0, 0, now.Location()), nil
}

// AtOrAfter reports whether now has reached the start of the slot labelled label.
func AtOrAfter(now time.Time, label string) (bool, error) {
	start, err := SlotStart(now, label)
	if err != nil {
		return false, err
	}
	return !now.Before(start), nil
}

// TimeOfDay parses an "HH:MM" setting into an offset from midnight. Unlike
// NormalizeLabel it accepts nothing but the time itself.
func TimeOfDay(value string) (time.Duration, error) {
	if !timeOfDayPattern.MatchString(value) {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	normalized, ok := NormalizeLabel(value)
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	hour, _ := strconv.Atoi(normalized[:2])
	minute, _ := strconv.Atoi(normalized[3:])
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

// Midnight returns the start of now's civil day.
func Midnight(now time.Time) time.Time {
	y, mo, d := now.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, now.Location())
}
