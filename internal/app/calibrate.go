package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/calibration"
	"github.com/relabs-tech/step_computer/internal/store"
)

// CalibrateOptions drives one offline calibration run.
type CalibrateOptions struct {
	DataPath string // CSV: p_none,p_start,p_end,label
	Grid     string // comma-separated candidates; empty uses the default grid
	OutPath  string // JSON report; "-" or empty writes to out
	XLSXPath string // optional spreadsheet report
	DBPath   string // optional SQLite history
}

// RunCalibration scores the candidate thresholds against a labelled
// validation set and writes the report to every configured destination.
func RunCalibration(ctx context.Context, o CalibrateOptions, out io.Writer, log *zap.Logger) (calibration.Report, error) {
	f, err := os.Open(o.DataPath)
	if err != nil {
		return calibration.Report{}, fmt.Errorf("open validation data: %w", err)
	}
	samples, err := calibration.ReadSamplesCSV(f)
	f.Close()
	if err != nil {
		return calibration.Report{}, err
	}
	grid, err := calibration.ParseGrid(o.Grid)
	if err != nil {
		return calibration.Report{}, err
	}

	log.Info("calibrating", zap.Int("samples", len(samples)), zap.Int("candidates", len(grid)))
	rep, err := calibration.Calibrate(ctx, samples, grid)
	if err != nil {
		return calibration.Report{}, err
	}
	log.Info("calibration finished",
		zap.Float64("best_threshold", rep.BestThreshold),
		zap.Float64("best_score", rep.BestScore))

	if o.OutPath == "" || o.OutPath == "-" {
		if err := calibration.WriteJSON(out, rep); err != nil {
			return rep, err
		}
	} else {
		if err := writeReportFile(o.OutPath, rep); err != nil {
			return rep, err
		}
		log.Info("report written", zap.String("path", o.OutPath))
	}

	if o.XLSXPath != "" {
		if err := calibration.WriteXLSX(o.XLSXPath, rep); err != nil {
			return rep, err
		}
		log.Info("spreadsheet written", zap.String("path", o.XLSXPath))
	}

	if o.DBPath != "" {
		db, err := store.OpenSQLite(o.DBPath)
		if err != nil {
			return rep, err
		}
		defer db.Close()
		id, err := db.InsertCalibration(ctx, time.Now(), rep)
		if err != nil {
			return rep, err
		}
		log.Info("calibration recorded", zap.Int64("id", id), zap.String("db", o.DBPath))
	}
	return rep, nil
}

func writeReportFile(path string, rep calibration.Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return calibration.WriteJSON(f, rep)
}
