// Package main provides the offline threshold calibration CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/app"
	"github.com/relabs-tech/step_computer/internal/calibration"
	"github.com/relabs-tech/step_computer/internal/logger"
	"github.com/relabs-tech/step_computer/internal/store"
)

var (
	runOpts   app.CalibrateOptions
	historyDB string
	logLevel  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "calibrate",
		Short:        "Tune step detection thresholds against labelled validation data",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newLatestCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score candidate thresholds and report the best",
		Args:  cobra.NoArgs,
		RunE:  runCalibrateCmd,
	}
	cmd.Flags().StringVar(&runOpts.DataPath, "data", "", "validation CSV (p_none,p_start,p_end,label)")
	cmd.Flags().StringVar(&runOpts.Grid, "grid", "", "comma-separated candidate thresholds (default: built-in grid)")
	cmd.Flags().StringVar(&runOpts.OutPath, "out", "-", "JSON report path, - for stdout")
	cmd.Flags().StringVar(&runOpts.XLSXPath, "xlsx", "", "also write a spreadsheet report")
	cmd.Flags().StringVar(&runOpts.DBPath, "db", "", "record the run in this SQLite database")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runCalibrateCmd(cmd *cobra.Command, _ []string) error {
	lg, err := logger.New(logLevel, "console", "calibrate")
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = app.RunCalibration(ctx, runOpts, cmd.OutOrStdout(), lg)
	return err
}

func newLatestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the most recent recorded calibration",
		Args:  cobra.NoArgs,
		RunE:  runLatestCmd,
	}
	cmd.Flags().StringVar(&historyDB, "db", "steps.db", "SQLite database")
	return cmd
}

func runLatestCmd(cmd *cobra.Command, _ []string) error {
	db, err := store.OpenSQLite(historyDB)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer db.Close()

	rec, err := db.LatestCalibration(context.Background())
	if err != nil {
		return err
	}
	lg, err := logger.New(logLevel, "console", "calibrate")
	if err != nil {
		return err
	}
	defer lg.Sync()
	lg.Info("latest calibration", zap.Int64("id", rec.ID), zap.Time("run_at", rec.RunAt))
	return calibration.WriteJSON(cmd.OutOrStdout(), rec.Report)
}
