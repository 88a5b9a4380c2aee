// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package classifier provides the adapters that map a single IMU reading to
// (none, start, end) class probabilities.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
)

// ErrNotLoaded is returned when no model is available.
var ErrNotLoaded = errors.New("model not loaded")

// ErrInvalidPrediction is returned when an adapter produces output that is
// not a probability distribution.
var ErrInvalidPrediction = errors.New("classifier: invalid prediction")

// Classifier maps one reading to class probabilities.
type Classifier interface {
	Classify(ctx context.Context, r imu.Reading) (detector.Prediction, error)
}

const sumTolerance = 1e-3

// Validate checks p is a distribution: non-negative and summing to 1.
func Validate(p detector.Prediction) error {
	vals := [3]float64{p.PNone, p.PStart, p.PEnd}
	sum := 0.0
	for _, v := range vals {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("%w: %+v", ErrInvalidPrediction, p)
		}
		sum += v
	}
	if math.Abs(sum-1) > sumTolerance {
		return fmt.Errorf("%w: probabilities sum to %v", ErrInvalidPrediction, sum)
	}
	return nil
}

func fromVector(v []float64) (detector.Prediction, error) {
	if len(v) != 3 {
		return detector.Prediction{}, fmt.Errorf("%w: got %d outputs, want 3", ErrInvalidPrediction, len(v))
	}
	p := detector.Prediction{PNone: v[0], PStart: v[1], PEnd: v[2]}
	return p, Validate(p)
}
