// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/app"
	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	useMock := flag.Bool("mock", false, "publish synthetic walking data instead of reading the IMU")
	flag.Parse()

	if err := config.InitGlobal(config.Path(*configPath)); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	lg := logger.Must(cfg.Log.Level, cfg.Log.Format, "imu_producer")
	defer lg.Sync()
	lg.Info("starting IMU producer (IMU → MQTT)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunIMUProducer(ctx, cfg, *useMock, lg); err != nil {
		lg.Fatal("fatal", zap.Error(err))
	}
}
