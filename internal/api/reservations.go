/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"

	"github.com/friendsincode/slotwatch/internal/engine"
	"github.com/friendsincode/slotwatch/internal/models"
)

// handleReservation serves one category. A fresh cached result is returned
// as is; otherwise a single-category cycle runs on the caller's request.
func (a *API) handleReservation(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("type")
	if _, err := a.engine.Catalog().Lookup(category); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidType)
		return
	}

	res, err := a.reservation(r.Context(), category)
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidType)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) reservation(ctx context.Context, category string) (models.Reservation, error) {
	if cached, ok := a.cache.GetResult(ctx, category); ok {
		return *cached, nil
	}

	cycle, err := a.engine.PollAll(ctx, engine.TriggerAPI, category)
	if err != nil {
		return models.Reservation{}, err
	}
	res := a.engine.Reservation(cycle, category)
	if err := a.cache.SetResult(ctx, res); err != nil {
		a.logger.Debug().Err(err).Str("category", category).Msg("cache result")
	}
	return res, nil
}

// handleAllReservations serves every catalog category in catalog order.
// Categories missing from the cache are polled together in one cycle.
func (a *API) handleAllReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids := a.engine.Catalog().IDs()

	found := make(map[string]models.Reservation, len(ids))
	var missing []string
	for _, id := range ids {
		if cached, ok := a.cache.GetResult(ctx, id); ok {
			found[id] = *cached
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		cycle, err := a.engine.PollAll(ctx, engine.TriggerAPI, missing...)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, id := range missing {
			res := a.engine.Reservation(cycle, id)
			found[id] = res
			if err := a.cache.SetResult(ctx, res); err != nil {
				a.logger.Debug().Err(err).Str("category", id).Msg("cache result")
			}
		}
	}

	out := make([]models.Reservation, 0, len(ids))
	for _, id := range ids {
		out = append(out, found[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}
