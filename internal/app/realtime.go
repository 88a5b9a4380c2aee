// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is open on the REST side too
	},
}

// WS frames
type wsError struct {
	Error    string   `json:"error"`
	Required []string `json:"required,omitempty"`
	Status   string   `json:"status"`
}

type wsResult struct {
	session.Result
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// handleRealtime streams one Result per incoming reading frame. A client
// that names a session shares it with REST callers; otherwise the
// connection gets a fresh session that is dropped when it closes.
func (s *Server) handleRealtime(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	if !s.deps.Pipeline.Loaded() {
		_ = conn.WriteJSON(wsError{Error: "Model not loaded", Status: "error"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "Model not loaded"),
			time.Now().Add(time.Second))
		return
	}

	id := c.Query("session")
	sess, err := s.deps.Registry.GetOrCreate(id)
	if err != nil {
		_ = conn.WriteJSON(wsError{Error: err.Error(), Status: "error"})
		return
	}
	if id == "" {
		defer s.deps.Registry.Remove(sess.ID())
	}
	log := s.log.With(zap.String("session_id", sess.ID()))
	log.Info("websocket client connected")

	ctx := c.Request.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read error", zap.Error(err))
			} else {
				log.Info("websocket client disconnected")
			}
			return
		}

		var req imu.ReadingRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if werr := conn.WriteJSON(wsError{Error: "Invalid JSON format", Status: "error"}); werr != nil {
				return
			}
			continue
		}
		reading, err := req.Reading()
		if errors.Is(err, imu.ErrMissingField) {
			if werr := conn.WriteJSON(wsError{
				Error:    "Missing required sensor data fields",
				Required: imu.RequiredFields,
				Status:   "error",
			}); werr != nil {
				return
			}
			continue
		}

		ev, err := s.deps.Pipeline.Detect(ctx, "websocket", sess, reading)
		if err != nil {
			if werr := conn.WriteJSON(wsError{Error: "Processing error: " + err.Error(), Status: "error"}); werr != nil {
				return
			}
			continue
		}
		log.Debug("reading processed",
			zap.Bool("step_start", ev.StepStart),
			zap.Bool("step_end", ev.StepEnd),
			zap.Int("step_count", ev.StepCount))

		if err := conn.WriteJSON(wsResult{Result: ev.Result(), SessionID: sess.ID(), Status: "success"}); err != nil {
			log.Warn("websocket write error", zap.Error(err))
			return
		}
	}
}
