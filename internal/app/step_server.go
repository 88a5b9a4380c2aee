// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/classifier"
	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/metrics"
	"github.com/relabs-tech/step_computer/internal/mqtt"
	"github.com/relabs-tech/step_computer/internal/session"
	"github.com/relabs-tech/step_computer/internal/store"
)

// LoadClassifier builds the configured adapter. A missing weights file is
// not fatal: the server starts and reports the model as not loaded.
func LoadClassifier(m config.ModelConfig, log *zap.Logger) classifier.Classifier {
	switch m.Kind {
	case "remote":
		log.Info("using remote model", zap.String("url", m.RemoteURL), zap.String("model", m.RemoteName))
		return classifier.NewRemote(m.RemoteURL, m.RemoteName, m.Timeout())
	default:
		if m.WeightsPath == "" {
			log.Warn("no model weights configured")
			return nil
		}
		mlp, err := classifier.LoadMLP(m.WeightsPath)
		if err != nil {
			log.Warn("model not loaded", zap.String("path", m.WeightsPath), zap.Error(err))
			return nil
		}
		log.Info("model loaded", zap.String("path", m.WeightsPath), zap.Int("layers", len(mlp.Layers)))
		return mlp
	}
}

// ResolveThresholds applies config, then model metadata for unset values,
// then the stored calibration when asked to. Out-of-range metadata or
// calibration values are ignored with a warning.
func ResolveThresholds(ctx context.Context, cfg config.DetectorConfig, md *classifier.Metadata, history *store.SQLiteStore, log *zap.Logger) detector.Thresholds {
	var optimal *float64
	if md != nil && md.OptimalThreshold != nil {
		v := *md.OptimalThreshold
		if err := (detector.Thresholds{Start: v, End: v}).Validate(); err != nil {
			log.Warn("ignoring model optimal_threshold", zap.Float64("optimal_threshold", v), zap.Error(err))
		} else {
			optimal = &v
		}
	}
	start, end := cfg.Thresholds(optimal)
	th := detector.Thresholds{Start: start, End: end}

	if cfg.UseLatestCalibration && history != nil {
		rec, err := history.LatestCalibration(ctx)
		switch {
		case err != nil:
			log.Warn("no stored calibration applied", zap.Error(err))
		case rec.Report.Thresholds().Validate() != nil:
			log.Warn("ignoring stored calibration", zap.Int64("id", rec.ID),
				zap.Float64("best_threshold", rec.Report.BestThreshold))
		default:
			th = rec.Report.Thresholds()
		}
	}
	if err := th.Validate(); err != nil {
		log.Warn("invalid thresholds, using defaults", zap.Error(err))
		return detector.Thresholds{Start: config.DefaultThreshold, End: config.DefaultThreshold}
	}
	return th
}

// PrepareSessionDir creates the directory saved sessions are written to.
func PrepareSessionDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session dir %s: %w", dir, err)
	}
	return nil
}

// RunServer starts the HTTP API and, when enabled, MQTT ingest. It blocks
// until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting step detection server", zap.String("addr", cfg.Server.Addr))

	// --- metrics ---
	var rec *metrics.Recorder
	if cfg.Metrics.OTLPEndpoint != "" {
		r, shutdown, err := metrics.SetupOTLP(ctx, cfg.Metrics.OTLPEndpoint, cfg.Metrics.Insecure)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		rec = r
		log.Info("exporting metrics", zap.String("endpoint", cfg.Metrics.OTLPEndpoint))
	}

	// --- model ---
	clf := LoadClassifier(cfg.Model, log)
	var md *classifier.Metadata
	if cfg.Model.MetadataPath != "" {
		m, err := classifier.LoadMetadata(cfg.Model.MetadataPath)
		if err != nil {
			log.Warn("model metadata not loaded", zap.Error(err))
		} else {
			md = &m
		}
	}

	if err := PrepareSessionDir(cfg.Server.SessionDir); err != nil {
		return err
	}

	deps := ServerDeps{
		Metadata:   md,
		SessionDir: cfg.Server.SessionDir,
		Log:        log,
	}

	// --- storage ---
	var history *store.SQLiteStore
	if cfg.SQLite.Enabled {
		h, err := store.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer h.Close()
		history = h
		deps.History = h
	}

	var sinks []EventSink
	if cfg.Redis.Enabled {
		rs := store.NewRedisStore(store.RedisOptions{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			EventStream: cfg.Redis.EventStream,
		}, log)
		if err := rs.Ping(ctx); err != nil {
			return err
		}
		defer rs.Close()
		deps.Snapshots = rs
		sinks = append(sinks, NewRedisSink(rs))
		log.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	th := ResolveThresholds(ctx, cfg.Detector, md, history, log)
	log.Info("detector thresholds", zap.Float64("start", th.Start), zap.Float64("end", th.End))

	deps.Registry = session.NewRegistry(func() (*detector.Machine, error) {
		return detector.New(th)
	}, session.WithLogger(log))
	if _, err := deps.Registry.GetOrCreate(session.DefaultSessionID); err != nil {
		return err
	}
	deps.Pipeline = NewPipeline(clf, rec, log, sinks...)

	// --- MQTT ingest ---
	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(mqtt.Options{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientIDServer}, log)
		if err != nil {
			return err
		}
		defer client.Disconnect()
		deps.Pipeline.AddSink(NewMQTTSink(client, cfg.MQTT.TopicEvents))
		if err := RunIngest(client, cfg.MQTT.TopicReadings, cfg.MQTT.TopicGPS, NewIngest(deps.Pipeline, deps.Registry, log)); err != nil {
			return err
		}
	}

	// --- HTTP ---
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           NewServer(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("web server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
