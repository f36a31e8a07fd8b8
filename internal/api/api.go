/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/auth"
	"github.com/friendsincode/slotwatch/internal/cache"
	"github.com/friendsincode/slotwatch/internal/engine"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/history"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// HealthText is the body of GET /. Uptime checks match it verbatim.
const HealthText = "서버가 정상적으로 실행 중입니다."

// Error codes written in {"error": code} bodies.
const (
	errInvalidType     = "invalid type"
	errInvalidQuery    = "invalid query"
	errInvalidBody     = "invalid body"
	errHistoryDisabled = "history disabled"
	errHistoryFailed   = "history query failed"
	errSnapshotFailed  = "snapshot reset failed"
)

// API exposes HTTP handlers.
type API struct {
	engine    *engine.Engine
	cache     *cache.Cache
	history   *history.Repository
	bus       *events.Bus
	jwtSecret []byte
	validate  *validator.Validate
	logger    zerolog.Logger

	pingInterval time.Duration
}

// New creates the API router wrapper. Cache and history are optional and set
// separately.
func New(eng *engine.Engine, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		engine:       eng,
		bus:          bus,
		jwtSecret:    jwtSecret,
		validate:     validator.New(),
		logger:       logger.With().Str("component", "api").Logger(),
		pingInterval: 15 * time.Second,
	}
}

// SetCache sets the reservation result cache.
func (a *API) SetCache(c *cache.Cache) {
	a.cache = c
}

// SetStreamBus replaces the bus the websocket stream reads from. Instances
// sharing events through Redis stream the poll leader's changes this way.
func (a *API) SetStreamBus(bus *events.Bus) {
	a.bus = bus
}

// SetHistory sets the transition history repository.
func (a *API) SetHistory(repo *history.Repository) {
	a.history = repo
}

// Routes registers all API routes.
func (a *API) Routes(r chi.Router) {
	r.Get("/", a.handleRoot)
	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", a.handleReservation)
			r.Get("/all", a.handleAllReservations)
			r.Get("/stream", a.handleStream)
		})
		r.Get("/history", a.handleHistory)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.RequireRole(a.jwtSecret, auth.RoleAdmin))
			pr.Post("/admin/poll", a.handleAdminPoll)
			pr.Delete("/admin/snapshot", a.handleAdminClearSnapshot)
		})
	})
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(HealthText))
}

type cycleSummary struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Failed     []string  `json:"failed"`
	CommitErr  string    `json:"commit_error,omitempty"`
}

func summarize(c *engine.Cycle) *cycleSummary {
	if c == nil {
		return nil
	}
	failed := c.Failed()
	if failed == nil {
		failed = []string{}
	}
	out := &cycleSummary{
		ID:         c.ID,
		Trigger:    string(c.Trigger),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		Failed:     failed,
	}
	if c.CommitErr != nil {
		out.CommitErr = c.CommitErr.Error()
	}
	return out
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"snapshot_date": a.engine.Store().Date(),
		"last_cycle":    summarize(a.engine.LastCycle()),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
