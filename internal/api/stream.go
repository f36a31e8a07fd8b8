/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

const streamBuffer = 64

type streamMessage struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload,omitempty"`
}

// handleStream pushes slot changes to a websocket client. An optional
// ?type= limits the stream to one category.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("type")
	if category != "" {
		if _, err := a.engine.Catalog().Lookup(category); err != nil {
			writeError(w, http.StatusBadRequest, errInvalidType)
			return
		}
	}
	if a.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	changes := a.bus.SubscribeBuffered(events.EventSlotChanged, streamBuffer)
	defer a.bus.Unsubscribe(events.EventSlotChanged, changes)

	// The client never sends; CloseRead cancels ctx once it goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, streamMessage{Type: "ping"}); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case payload, ok := <-changes:
			if !ok {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			if category != "" && payload.String(events.KeyCategory) != category {
				continue
			}
			if err := wsjson.Write(ctx, conn, streamMessage{Type: events.EventSlotChanged, Payload: payload}); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
