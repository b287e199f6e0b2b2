// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wedsync/compliance-engine/pkg/validation"
	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/recommender"
	"github.com/wedsync/compliance-engine/services/resilience"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage frames everything the stream sends: transitions while the
// request runs, then exactly one result or error.
type WSMessage struct {
	Type       string                  `json:"type"` // "transition" | "result" | "error"
	Transition *recommender.Transition `json:"transition,omitempty"`
	Result     *recommender.Result     `json:"result,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("failed to write websocket JSON", "error", err)
	}
	return err
}

// HandleRecommendationWS streams the orchestrator state machine live.
// The client sends one RecommendationRequest; the server streams every
// transition and closes with the final result.
func HandleRecommendationWS(orch *recommender.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("websocket client connected")

		for {
			var req RecommendationRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("websocket client disconnected", "error", err.Error())
				return
			}
			principal, err := validation.SanitizePrincipal(req.Principal)
			if err != nil {
				if sendJSON(ws, WSMessage{Type: "error", Error: err.Error()}) != nil {
					return
				}
				continue
			}

			// Transitions are produced on the Process goroutine; buffer
			// them through a channel so a slow client cannot stall the
			// state machine.
			transitions := make(chan recommender.Transition, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for t := range transitions {
					if sendJSON(ws, WSMessage{Type: "transition", Transition: &t}) != nil {
						// Drain so Process never blocks on a dead socket.
						for range transitions {
						}
						return
					}
				}
			}()

			result, err := orch.ProcessObserved(c.Request.Context(), principal, req.Constraints,
				func(t recommender.Transition) {
					select {
					case transitions <- t:
					default:
						slog.Warn("dropping transition for slow websocket client", "request_id", t.RequestID)
					}
				})
			close(transitions)
			<-done

			if err != nil {
				msg := WSMessage{Type: "error", Error: err.Error()}
				var ve *compliance.ValidationError
				var rle *resilience.RateLimitError
				if !errors.As(err, &ve) && !errors.As(err, &rle) {
					msg.Error = "internal error"
				}
				if sendJSON(ws, msg) != nil {
					return
				}
				continue
			}

			if sendJSON(ws, WSMessage{Type: "result", Result: result}) != nil {
				return
			}
		}
	}
}
