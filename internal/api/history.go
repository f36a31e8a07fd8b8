/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/history"
	"github.com/friendsincode/slotwatch/internal/models"
)

type historyQuery struct {
	Category string `validate:"required,max=32"`
	Date     string `validate:"omitempty,datetime=2006-01-02"`
	Limit    int    `validate:"omitempty,min=1,max=1000"`
}

// handleHistory lists recorded status transitions for one category and day.
// The day defaults to today in the catalog timezone.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, errHistoryDisabled)
		return
	}

	q := historyQuery{
		Category: r.URL.Query().Get("type"),
		Date:     r.URL.Query().Get("date"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errInvalidQuery)
			return
		}
		q.Limit = n
	}
	if err := a.validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidQuery)
		return
	}
	if _, err := a.engine.Catalog().Lookup(q.Category); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidType)
		return
	}
	if q.Date == "" {
		q.Date = clock.CivilDate(a.engine.Clock().Now())
	}

	rows, err := a.history.List(r.Context(), history.Query{
		Category: q.Category,
		Date:     q.Date,
		Limit:    q.Limit,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("category", q.Category).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, errHistoryFailed)
		return
	}
	if rows == nil {
		rows = []models.SlotTransition{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category": q.Category,
		"date":     q.Date,
		"data":     rows,
	})
}
