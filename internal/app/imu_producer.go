// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/mqtt"
	"github.com/relabs-tech/step_computer/internal/sensors"
)

// RunIMUProducer samples the SPI IMU (or a synthetic walker when useMock is
// set) and publishes each reading to the readings topic.
func RunIMUProducer(ctx context.Context, cfg *config.Config, useMock bool, log *zap.Logger) error {
	log = log.With(zap.String("component", "imu_producer"))

	var src imu.Source
	if useMock {
		log.Info("using mock IMU source")
		src = imu.NewMockSource()
	} else {
		s, err := sensors.NewSPIIMU("left", cfg.IMU, log)
		if err != nil {
			return err
		}
		src = s
	}

	client, err := mqtt.Connect(mqtt.Options{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientIDProducer}, log)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	log.Info("starting publish loop",
		zap.String("topic", cfg.MQTT.TopicReadings),
		zap.Duration("interval", cfg.IMU.SampleInterval()))
	return publishReadings(ctx, src, client, cfg.MQTT.TopicReadings, cfg.IMU.SampleInterval(), log)
}

// publishReadings ticks until ctx is done. Read and publish errors are
// logged and the tick is skipped.
func publishReadings(ctx context.Context, src imu.Source, pub Publisher, topic string, interval time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			log.Info("publish loop stopped", zap.Uint64("sent", sent))
			return nil
		case <-ticker.C:
		}

		r, err := src.Next()
		if err != nil {
			log.Warn("error reading IMU", zap.Error(err))
			continue
		}
		payload, err := json.Marshal(r)
		if err != nil {
			log.Warn("error marshalling reading", zap.Error(err))
			continue
		}
		if err := pub.Publish(topic, 0, false, payload); err != nil {
			log.Warn("error publishing reading", zap.Error(err))
			continue
		}
		sent++
	}
}
