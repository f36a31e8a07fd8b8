/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/friendsincode/slotwatch/internal/auth"
	"github.com/friendsincode/slotwatch/internal/catalog"
	"github.com/friendsincode/slotwatch/internal/engine"
	"github.com/friendsincode/slotwatch/internal/models"
)

type pollRequest struct {
	Categories []string `json:"categories" validate:"omitempty,max=6,dive,required"`
}

func (a *API) actor(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return ""
}

// handleAdminPoll forces a cycle over the requested categories, or the whole
// catalog when the body is empty, and refreshes the cache with its results.
func (a *API) handleAdminPoll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	ctx := r.Context()
	cycle, err := a.engine.PollAll(ctx, engine.TriggerAdmin, req.Categories...)
	if errors.Is(err, catalog.ErrUnknownCategory) {
		writeError(w, http.StatusBadRequest, errInvalidType)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ids := req.Categories
	if len(ids) == 0 {
		ids = a.engine.Catalog().IDs()
	}
	results := make([]models.Reservation, 0, len(ids))
	for _, id := range ids {
		res := a.engine.Reservation(cycle, id)
		results = append(results, res)
		if err := a.cache.SetResult(ctx, res); err != nil {
			a.logger.Debug().Err(err).Str("category", id).Msg("cache result")
		}
	}

	a.logger.Info().
		Str("actor", a.actor(r)).
		Str("cycle_id", cycle.ID).
		Strs("categories", ids).
		Msg("admin poll")

	writeJSON(w, http.StatusOK, map[string]any{
		"cycle":      summarize(cycle),
		"categories": results,
	})
}

// handleAdminClearSnapshot wipes the snapshot store and every cached result.
func (a *API) handleAdminClearSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.engine.ClearSnapshot(ctx); err != nil {
		a.logger.Error().Err(err).Msg("snapshot reset failed")
		writeError(w, http.StatusInternalServerError, errSnapshotFailed)
		return
	}
	if err := a.cache.InvalidateResults(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("cache invalidation failed")
	}

	a.logger.Warn().Str("actor", a.actor(r)).Msg("snapshot store cleared")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "cleared",
		"snapshot_date": a.engine.Store().Date(),
	})
}
