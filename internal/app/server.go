// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/calibration"
	"github.com/relabs-tech/step_computer/internal/classifier"
	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/session"
	"github.com/relabs-tech/step_computer/internal/store"
)

const apiVersion = "1.0.0"

// SnapshotStore keeps the latest snapshot of a saved session.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, f session.File) error
}

// HistoryStore records saved sessions and calibration runs.
type HistoryStore interface {
	InsertSession(ctx context.Context, f session.File, path string) (int64, error)
	ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
	InsertCalibration(ctx context.Context, at time.Time, r calibration.Report) (int64, error)
}

// ServerDeps wires the HTTP surface. Pipeline and Registry are required;
// the rest are optional.
type ServerDeps struct {
	Pipeline   *Pipeline
	Registry   *session.Registry
	Metadata   *classifier.Metadata
	SessionDir string
	Snapshots  SnapshotStore
	History    HistoryStore
	Log        *zap.Logger
}

// Server serves the polling API and the realtime websocket.
type Server struct {
	deps ServerDeps
	log  *zap.Logger
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.SessionDir == "" {
		deps.SessionDir = "."
	}
	return &Server{deps: deps, log: deps.Log.With(zap.String("component", "server"))}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(s.log), gin.Recovery(), cors())

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/model_info", s.handleModelInfo)
	r.GET("/sessions", s.handleSessions)

	m := r.Group("/", s.requireModel)
	{
		m.POST("/detect_step", s.handleDetect)
		m.GET("/step_count", s.handleStepCount)
		m.POST("/reset_count", s.handleReset)
		m.GET("/session_summary", s.handleSummary)
		m.POST("/save_session", s.handleSave)
		m.PUT("/thresholds", s.handleThresholds)
		m.POST("/calibrate", s.handleCalibrate)
	}

	r.GET("/ws/realtime", s.handleRealtime)
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func (s *Server) requireModel(c *gin.Context) {
	if !s.deps.Pipeline.Loaded() {
		abort(c, http.StatusServiceUnavailable, "Model not loaded")
		return
	}
	c.Next()
}

// session resolves ?session=, defaulting to DefaultSessionID. create
// allows unknown ids to be allocated.
func (s *Server) session(c *gin.Context, create bool) (*session.Session, bool) {
	id := c.DefaultQuery("session", session.DefaultSessionID)
	if create || id == session.DefaultSessionID {
		sess, err := s.deps.Registry.GetOrCreate(id)
		if err != nil {
			abort(c, http.StatusInternalServerError, err.Error())
			return nil, false
		}
		return sess, true
	}
	sess, ok := s.deps.Registry.Get(id)
	if !ok {
		abort(c, http.StatusNotFound, fmt.Sprintf("%v: %s", session.ErrNotFound, id))
		return nil, false
	}
	return sess, true
}

func (s *Server) handleRoot(c *gin.Context) {
	status := "active"
	if !s.deps.Pipeline.Loaded() {
		status = "model_not_loaded"
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Step Detection API",
		"version": apiVersion,
		"status":  status,
		"endpoints": gin.H{
			"detect_step":     "POST /detect_step - Detect steps from sensor data",
			"step_count":      "GET /step_count - Get current step count",
			"reset_count":     "POST /reset_count - Reset step count",
			"session_summary": "GET /session_summary - Get session summary",
			"save_session":    "POST /save_session - Save the session to disk",
			"model_info":      "GET /model_info - Get model information",
			"thresholds":      "PUT /thresholds - Set start/end thresholds",
			"calibrate":       "POST /calibrate - Search the best threshold on labelled predictions",
			"sessions":        "GET /sessions - List live and saved sessions",
			"websocket":       "WS /ws/realtime - Real-time step detection via WebSocket",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"model_loaded": s.deps.Pipeline.Loaded(),
		"api_version":  apiVersion,
	})
}

func (s *Server) handleDetect(c *gin.Context) {
	sess, ok := s.session(c, true)
	if !ok {
		return
	}

	var req imu.ReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	reading, err := req.Reading()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"detail":   err.Error(),
			"required": imu.RequiredFields,
		})
		return
	}

	ev, err := s.deps.Pipeline.Detect(c.Request.Context(), "rest", sess, reading)
	if errors.Is(err, classifier.ErrNotLoaded) {
		abort(c, http.StatusServiceUnavailable, "Model not loaded")
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "Detection error: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, ev.Result())
}

func (s *Server) handleStepCount(c *gin.Context) {
	sess, ok := s.session(c, false)
	if !ok {
		return
	}
	var last *session.Result
	if ev := sess.LastDetection(); ev != nil {
		r := ev.Result()
		last = &r
	}
	c.JSON(http.StatusOK, gin.H{
		"step_count":     sess.Count(),
		"last_detection": last,
	})
}

func (s *Server) handleReset(c *gin.Context) {
	sess, ok := s.session(c, false)
	if !ok {
		return
	}
	sess.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "Step count reset", "step_count": 0})
}

func (s *Server) handleSummary(c *gin.Context) {
	sess, ok := s.session(c, false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Summary())
}

func (s *Server) handleSave(c *gin.Context) {
	sess, ok := s.session(c, false)
	if !ok {
		return
	}
	filename := c.DefaultQuery("filename", "session.json")
	path := filepath.Join(s.deps.SessionDir, filepath.Base(filename))

	if err := sess.Save(path); err != nil {
		s.log.Error("save session failed", zap.String("path", path), zap.Error(err))
		abort(c, http.StatusInternalServerError, "Save error: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	snap := sess.Snapshot()
	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.SaveSnapshot(ctx, snap); err != nil {
			s.log.Warn("snapshot store failed", zap.String("session_id", sess.ID()), zap.Error(err))
		}
	}
	if s.deps.History != nil {
		if _, err := s.deps.History.InsertSession(ctx, snap, path); err != nil {
			s.log.Warn("session history insert failed", zap.String("session_id", sess.ID()), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Session saved to %s", filepath.Base(filename)), "path": path})
}

func (s *Server) handleModelInfo(c *gin.Context) {
	if s.deps.Metadata == nil {
		c.JSON(http.StatusOK, gin.H{"message": "Model info not available"})
		return
	}
	status := "active"
	var thresholds *detector.Thresholds
	if s.deps.Pipeline.Loaded() {
		if sess, ok := s.deps.Registry.Get(session.DefaultSessionID); ok {
			th := sess.Thresholds()
			thresholds = &th
		}
	} else {
		status = "model_not_loaded"
	}
	c.JSON(http.StatusOK, gin.H{
		"model_info": s.deps.Metadata,
		"api_status": status,
		"thresholds": thresholds,
	})
}

func (s *Server) handleThresholds(c *gin.Context) {
	sess, ok := s.session(c, false)
	if !ok {
		return
	}
	var th detector.Thresholds
	if err := c.ShouldBindJSON(&th); err != nil {
		abort(c, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if err := sess.SetThresholds(th); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("thresholds updated", zap.String("session_id", sess.ID()),
		zap.Float64("start", th.Start), zap.Float64("end", th.End))
	c.JSON(http.StatusOK, sess.Thresholds())
}

type calibrateSample struct {
	PNone  float64 `json:"p_none"`
	PStart float64 `json:"p_start"`
	PEnd   float64 `json:"p_end"`
	Label  int     `json:"label"`
}

type calibrateRequest struct {
	Samples    []calibrateSample `json:"samples"`
	Thresholds []float64         `json:"thresholds"`
	Apply      bool              `json:"apply"`
}

func (s *Server) handleCalibrate(c *gin.Context) {
	var req calibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if len(req.Samples) == 0 {
		abort(c, http.StatusBadRequest, "samples must not be empty")
		return
	}
	if err := calibration.ValidateGrid(req.Thresholds); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	var target *session.Session
	if req.Apply {
		sess, ok := s.session(c, false)
		if !ok {
			return
		}
		target = sess
	}

	samples := make([]calibration.Sample, len(req.Samples))
	for i, cs := range req.Samples {
		if cs.Label < calibration.LabelNone || cs.Label > calibration.LabelEnd {
			abort(c, http.StatusBadRequest, fmt.Sprintf("sample %d: label %d out of range 0-2", i, cs.Label))
			return
		}
		samples[i] = calibration.Sample{
			Prediction: detector.Prediction{PNone: cs.PNone, PStart: cs.PStart, PEnd: cs.PEnd},
			Label:      cs.Label,
		}
	}

	ctx := c.Request.Context()
	report, err := calibration.Calibrate(ctx, samples, req.Thresholds)
	if err != nil {
		abort(c, http.StatusInternalServerError, "Calibration error: "+err.Error())
		return
	}
	s.log.Info("calibration finished",
		zap.Int("samples", len(samples)),
		zap.Float64("best_threshold", report.BestThreshold),
		zap.Float64("best_score", report.BestScore))

	if s.deps.History != nil {
		if _, err := s.deps.History.InsertCalibration(ctx, time.Now(), report); err != nil {
			s.log.Warn("calibration history insert failed", zap.Error(err))
		}
	}

	if target != nil {
		if err := target.SetThresholds(report.Thresholds()); err != nil {
			abort(c, http.StatusInternalServerError, err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleSessions(c *gin.Context) {
	resp := gin.H{"sessions": s.deps.Registry.IDs()}
	if s.deps.History != nil {
		saved, err := s.deps.History.ListSessions(c.Request.Context(), 20)
		if err != nil {
			s.log.Warn("list saved sessions failed", zap.Error(err))
		} else {
			resp["saved"] = saved
		}
	}
	c.JSON(http.StatusOK, resp)
}
