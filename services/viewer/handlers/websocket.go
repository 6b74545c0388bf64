// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/anomview/AnomView/services/viewer/broadcast"
	"github.com/anomview/AnomView/services/viewer/datatypes"
	"github.com/anomview/AnomView/services/viewer/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsInbound is the envelope of every message a subscriber may send.
type wsInbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EventStream upgrades the connection, registers the subscriber for pushes
// and consumes inbound messages. The only inbound event is query_stats,
// which appends a new version of the persisted broadcast parameters.
// Unknown events are logged and ignored so protocol additions do not break
// older viewers.
func EventStream(hub *broadcast.Hub, st store.Store, onCount func(delta int)) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}

		sub := hub.Register(conn)
		if onCount != nil {
			onCount(1)
		}
		defer func() {
			hub.Unregister(sub)
			if onCount != nil {
				onCount(-1)
			}
		}()

		for {
			var msg wsInbound
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("Subscriber read error", "subscriber_id", sub.ID, "error", err)
				}
				return
			}

			switch msg.Event {
			case "query_stats":
				handleQueryStats(c, st, sub.ID, msg.Data)
			default:
				slog.Debug("Ignoring unknown inbound event",
					"subscriber_id", sub.ID, "event", msg.Event)
			}
		}
	}
}

func handleQueryStats(c *gin.Context, st store.Store, subID string, raw json.RawMessage) {
	var req datatypes.QueryStatsRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Warn("Malformed query_stats payload", "subscriber_id", subID, "error", err)
			return
		}
	}

	nQueries, statKind, ranks, err := req.Normalize()
	if err != nil {
		slog.Warn("Rejected query_stats", "subscriber_id", subID, "error", err)
		return
	}

	if _, err := st.PutQuery(c.Request.Context(), nQueries, statKind, ranks); err != nil {
		slog.Error("Failed to persist broadcast query", "subscriber_id", subID, "error", err)
		return
	}
	slog.Info("Broadcast query updated",
		"subscriber_id", subID, "nQueries", nQueries, "statKind", statKind, "ranks", ranks)
}
