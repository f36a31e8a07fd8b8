/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/slotwatch/internal/clock"
)

// MaxCategories bounds the fan-out of a single poll cycle.
const MaxCategories = 6

// ErrUnknownCategory is returned for a category id the catalog does not list.
var ErrUnknownCategory = errors.New("unknown category")

// Catalog lists the polled calendars and the facility rules around them.
type Catalog struct {
	Timezone       string         `yaml:"timezone" validate:"required"`
	Categories     []Category     `yaml:"categories" validate:"required,min=1,max=6,unique=ID,dive"`
	BookingWindows BookingWindows `yaml:"booking_windows"`
	Selectors      Selectors      `yaml:"selectors"`
}

// Category is one bookable calendar.
type Category struct {
	ID       string    `yaml:"id" validate:"required,alphanum,lowercase,max=32"`
	Name     string    `yaml:"name"`
	URL      string    `yaml:"url" validate:"required,url"`
	Closures []Closure `yaml:"closures" validate:"dive"`
}

// Closure marks a weekday on which a category takes no visitors.
type Closure struct {
	Weekday Weekday `yaml:"weekday"`
	Message string  `yaml:"message" validate:"required"`
}

// BookingWindows describes when the site starts accepting applications for
// morning and afternoon slots each day.
type BookingWindows struct {
	PendingOpen bool   `yaml:"pending_open"`
	AMOpensAt   string `yaml:"am_opens_at"`
	PMOpensAt   string `yaml:"pm_opens_at"`
}

// Offsets converts the opening times to offsets from civil midnight.
func (b BookingWindows) Offsets() (am, pm time.Duration, err error) {
	am, err = clock.TimeOfDay(b.AMOpensAt)
	if err != nil {
		return 0, 0, fmt.Errorf("am_opens_at: %w", err)
	}
	pm, err = clock.TimeOfDay(b.PMOpensAt)
	if err != nil {
		return 0, 0, fmt.Errorf("pm_opens_at: %w", err)
	}
	return am, pm, nil
}

// Selectors locate slot elements in the calendar markup.
type Selectors struct {
	GridCell string `yaml:"grid_cell"`
	GridDay  string `yaml:"grid_day"`
	GridSlot string `yaml:"grid_slot"`
	ListItem string `yaml:"list_item"`
}

// Weekday is a time.Weekday that reads English day names from YAML.
type Weekday time.Weekday

// UnmarshalYAML accepts full or three-letter English day names.
func (w *Weekday) UnmarshalYAML(node *yaml.Node) error {
	name := strings.ToLower(strings.TrimSpace(node.Value))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			*w = Weekday(d)
			return nil
		}
	}
	return fmt.Errorf("invalid weekday %q", node.Value)
}

// MarshalYAML writes the English day name.
func (w Weekday) MarshalYAML() (any, error) {
	return time.Weekday(w).String(), nil
}

const (
	baseURL          = "https://www.cnse.or.kr/main/reserve/experience_calendar.action?q="
	mondayClosed     = "월요일 휴관"
	sundayNoVRClosed = "일요일 지진 VR 불가"
)

// Default returns the built-in catalog for the science center calendars.
func Default() *Catalog {
	monday := Closure{Weekday: Weekday(time.Monday), Message: mondayClosed}
	return &Catalog{
		Timezone: "Asia/Seoul",
		Categories: []Category{
			{
				ID:       "ai",
				Name:     "AI 로봇 체험",
				URL:      baseURL + "1f960d474357a0fac696373aa47231c9819814b7d50f96cb7e020bd713813353",
				Closures: []Closure{monday},
			},
			{
				ID:   "earthquake",
				Name: "지진 VR 체험",
				URL:  baseURL + "836d40ad6724f3585ecc91c192de8f29d7b34b85db4c936465070bb8a1d25af5",
				Closures: []Closure{
					monday,
					{Weekday: Weekday(time.Sunday), Message: sundayNoVRClosed},
				},
			},
			{
				ID:       "drone",
				Name:     "드론 체험",
				URL:      baseURL + "33152e18b25f10571da6b0aa11ccf9f07e6211fe37567968e6c591f23fa5c429",
				Closures: []Closure{monday},
			},
		},
		BookingWindows: BookingWindows{
			PendingOpen: false,
			AMOpensAt:   "09:00",
			PMOpensAt:   "13:00",
		},
		Selectors: DefaultSelectors(),
	}
}

// DefaultSelectors matches the calendar markup as currently served.
func DefaultSelectors() Selectors {
	return Selectors{
		GridCell: "td",
		GridDay:  "span.day",
		GridSlot: "a.word-wrap",
		ListItem: ".list-item",
	}
}

// Load reads a catalog file. An empty path yields the built-in catalog.
// Fields left out of the file keep their built-in values.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	def := Default()
	if cat.Timezone == "" {
		cat.Timezone = def.Timezone
	}
	if len(cat.Categories) == 0 {
		cat.Categories = def.Categories
	}
	if cat.BookingWindows.AMOpensAt == "" {
		cat.BookingWindows.AMOpensAt = def.BookingWindows.AMOpensAt
	}
	if cat.BookingWindows.PMOpensAt == "" {
		cat.BookingWindows.PMOpensAt = def.BookingWindows.PMOpensAt
	}
	cat.Selectors = mergeSelectors(cat.Selectors, def.Selectors)

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func mergeSelectors(s, def Selectors) Selectors {
	if s.GridCell == "" {
		s.GridCell = def.GridCell
	}
	if s.GridDay == "" {
		s.GridDay = def.GridDay
	}
	if s.GridSlot == "" {
		s.GridSlot = def.GridSlot
	}
	if s.ListItem == "" {
		s.ListItem = def.ListItem
	}
	return s
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ids, URLs, the category bound and the booking windows.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}
	if _, _, err := c.BookingWindows.Offsets(); err != nil {
		return fmt.Errorf("invalid catalog: booking_windows.%w", err)
	}
	return nil
}

// Lookup returns the category with the given id.
func (c *Catalog) Lookup(id string) (Category, error) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, nil
		}
	}
	return Category{}, fmt.Errorf("%w: %q", ErrUnknownCategory, id)
}

// IDs returns category ids in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		ids = append(ids, cat.ID)
	}
	return ids
}

// ClosedOn returns the closure message when the category is closed on weekday.
func (c *Catalog) ClosedOn(id string, weekday time.Weekday) (string, bool) {
	cat, err := c.Lookup(id)
	if err != nil {
		return "", false
	}
	return cat.ClosedOn(weekday)
}

// ClosedOn returns the closure message when the category is closed on weekday.
func (c Category) ClosedOn(weekday time.Weekday) (string, bool) {
	for _, closure := range c.Closures {
		if time.Weekday(closure.Weekday) == weekday {
			return closure.Message, true
		}
	}
	return "", false
}
