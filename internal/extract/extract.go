/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/friendsincode/slotwatch/internal/catalog"
	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/models"
)

var (
	trailingParens = regexp.MustCompile(`\(([^()]*)\)\s*$`)
	timePattern    = regexp.MustCompile(`\d{1,2}:\d{2}`)
)

// Extractor pulls raw slot tokens for one civil day out of a calendar page.
type Extractor struct {
	gridCell selector
	gridDay  selector
	gridSlot selector
	listItem selector
}

// New compiles the catalog selectors.
func New(sel catalog.Selectors) (*Extractor, error) {
	var e Extractor
	var err error
	if e.gridCell, err = parseSelector(sel.GridCell); err != nil {
		return nil, err
	}
	if e.gridDay, err = parseSelector(sel.GridDay); err != nil {
		return nil, err
	}
	if e.gridSlot, err = parseSelector(sel.GridSlot); err != nil {
		return nil, err
	}
	if e.listItem, err = parseSelector(sel.ListItem); err != nil {
		return nil, err
	}
	return &e, nil
}

// Extract returns the grid-view and list-view tokens for today's date.
// Pages without matching elements yield empty slices and no error.
func (e *Extractor) Extract(page []byte, today time.Time) (grid, list []models.RawSlotToken, err error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, nil, fmt.Errorf("parse calendar page: %w", err)
	}

	day := today.Day()
	for _, cell := range findAll(doc, e.gridCell) {
		marker := findFirst(cell, e.gridDay)
		if marker == nil {
			continue
		}
		n, convErr := strconv.Atoi(textOf(marker))
		if convErr != nil || n != day {
			continue
		}
		for _, slot := range findAll(cell, e.gridSlot) {
			grid = append(grid, tokenFrom(models.ViewGrid, textOf(slot)))
		}
	}

	dates := dateForms(today)
	for _, item := range findAll(doc, e.listItem) {
		text := textOf(item)
		matched := ""
		for _, form := range dates {
			if strings.Contains(text, form) {
				matched = form
				break
			}
		}
		if matched == "" {
			continue
		}
		list = append(list, tokenFrom(models.ViewList, strings.Replace(text, matched, " ", 1)))
	}

	return grid, list, nil
}

// dateForms lists the ways the list view writes a date, longest first.
func dateForms(t time.Time) []string {
	return []string{
		t.Format("2006-01-02"),
		t.Format("2006.01.02"),
		t.Format("01.02"),
	}
}

// tokenFrom splits slot text like "10:10 ~ 10:40/초등 (신청마감)" into its
// start time and occupancy text.
func tokenFrom(view models.SourceView, text string) models.RawSlotToken {
	text = strings.TrimSpace(text)
	label, _ := clock.NormalizeLabel(text)

	var occupancy string
	if m := trailingParens.FindStringSubmatch(text); m != nil {
		occupancy = strings.TrimSpace(m[1])
	} else {
		occupancy = strings.Join(strings.Fields(timePattern.ReplaceAllString(text, "")), " ")
	}

	return models.RawSlotToken{
		SourceView:    view,
		TimeLabel:     label,
		OccupancyText: occupancy,
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
