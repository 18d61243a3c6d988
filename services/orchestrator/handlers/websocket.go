// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ConstellationAI/constellation/services/orchestrator/engine"
	"github.com/ConstellationAI/constellation/services/orchestrator/runs"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

const writeWait = 10 * time.Second

type eventKey struct {
	kind  engine.EventKind
	alias string
	at    int64
}

func keyOf(e engine.Event) eventKey {
	return eventKey{kind: e.Kind, alias: e.Alias, at: e.At.UnixNano()}
}

func sendJSON(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// StreamRun upgrades to a websocket and sends the run's events as JSON
// messages: first the recorded history, then live events until the run
// finishes or the client goes away.
func StreamRun(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := svc.Get(c.Request.Context(), id); err != nil {
			if errors.Is(err, runs.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		// Subscribe before reading history so nothing falls in between.
		live, unsubscribe := svc.Subscribe(id)
		defer unsubscribe()

		run, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			_ = sendJSON(ws, gin.H{"error": "run disappeared"})
			return
		}
		seen := make(map[eventKey]bool, len(run.Events))
		for _, e := range run.Events {
			seen[keyOf(e)] = true
			if sendJSON(ws, e) != nil {
				return
			}
		}
		if run.Status.Done() {
			closeNormally(ws)
			return
		}

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case e, ok := <-live:
				if !ok {
					closeNormally(ws)
					return
				}
				if seen[keyOf(e)] {
					continue
				}
				if sendJSON(ws, e) != nil {
					return
				}
			case <-gone:
				slog.Debug("stream client disconnected", "run_id", id)
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

func closeNormally(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
