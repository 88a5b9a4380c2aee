package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/step_computer/internal/app"
	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	if err := config.InitGlobal(config.Path(*configPath)); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	// console output owns stdout; logs go to stderr
	lg := logger.Must(cfg.Log.Level, "console", "console_mqtt")
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg, os.Stdout, lg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
