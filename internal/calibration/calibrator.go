// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration searches a threshold grid for the value that maximises
// the mean of start and end F1 on labelled validation predictions.
//
// A single scalar threshold is applied to both the start and the end
// channel for every candidate.
package calibration

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/step_computer/internal/detector"
)

// Ground-truth labels.
const (
	LabelNone  = 0
	LabelStart = 1
	LabelEnd   = 2
)

// FallbackThreshold is reported when no candidate scores above zero.
const FallbackThreshold = 0.03

// DefaultGrid is searched when the caller supplies no candidates.
var DefaultGrid = []float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.10, 0.15, 0.20, 0.25, 0.30}

// Sample is one labelled validation prediction.
type Sample struct {
	Prediction detector.Prediction `json:"prediction"`
	Label      int                 `json:"label"`
}

// CandidateResult holds the scores of one threshold.
type CandidateResult struct {
	Threshold float64 `json:"threshold"`
	StartF1   float64 `json:"start_f1"`
	EndF1     float64 `json:"end_f1"`
	OverallF1 float64 `json:"overall_f1"`
}

// Report is the calibrator output. Results follow the evaluation order.
type Report struct {
	BestThreshold float64           `json:"best_threshold"`
	BestScore     float64           `json:"best_score"`
	Results       []CandidateResult `json:"results"`
}

// Thresholds returns the best threshold applied to both channels.
func (r Report) Thresholds() detector.Thresholds {
	return detector.Thresholds{Start: r.BestThreshold, End: r.BestThreshold}
}

// F1 computes the F1 score; every zero denominator yields 0.
func F1(tp, fp, fn int) float64 {
	var precision, recall float64
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

type confusion struct {
	tp, fp, fn int
}

func (c *confusion) add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.tp++
	case predicted && !actual:
		c.fp++
	case !predicted && actual:
		c.fn++
	}
}

// Evaluate scores a single threshold.
func Evaluate(samples []Sample, threshold float64) CandidateResult {
	var start, end confusion
	for _, s := range samples {
		start.add(s.Prediction.PStart > threshold, s.Label == LabelStart)
		end.add(s.Prediction.PEnd > threshold, s.Label == LabelEnd)
	}
	startF1 := F1(start.tp, start.fp, start.fn)
	endF1 := F1(end.tp, end.fp, end.fn)
	return CandidateResult{
		Threshold: threshold,
		StartF1:   startF1,
		EndF1:     endF1,
		OverallF1: (startF1 + endF1) / 2,
	}
}

// Calibrate evaluates every candidate in grid (DefaultGrid when empty).
// Candidates are scored concurrently; the best is then chosen in grid
// order so that the first candidate wins a tie.
func Calibrate(ctx context.Context, samples []Sample, grid []float64) (Report, error) {
	if len(grid) == 0 {
		grid = DefaultGrid
	}

	results := make([]CandidateResult, len(grid))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, t := range grid {
		i, t := i, t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = Evaluate(samples, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{BestThreshold: FallbackThreshold, Results: results}
	for _, r := range results {
		if r.OverallF1 > report.BestScore {
			report.BestScore = r.OverallF1
			report.BestThreshold = r.Threshold
		}
	}
	return report, nil
}
