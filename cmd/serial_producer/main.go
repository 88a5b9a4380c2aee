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
	source := flag.String("source", "serial", "source tag for published readings (selects the server session)")
	flag.Parse()

	if err := config.InitGlobal(config.Path(*configPath)); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	lg := logger.Must(cfg.Log.Level, cfg.Log.Format, "serial_producer")
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunSerialProducer(ctx, cfg, *source, lg); err != nil {
		lg.Fatal("fatal", zap.Error(err))
	}
}
