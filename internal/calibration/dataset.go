package calibration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/relabs-tech/step_computer/internal/detector"
)

// csvHeader is the expected first row of a validation file.
var csvHeader = []string{"p_none", "p_start", "p_end", "label"}

// ReadSamplesCSV parses a validation file with header p_none,p_start,p_end,label.
func ReadSamplesCSV(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("calibration: empty dataset")
		}
		return nil, fmt.Errorf("calibration: read header: %w", err)
	}
	for i, name := range csvHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != name {
			return nil, fmt.Errorf("calibration: header column %d is %q, want %q", i+1, header[i], name)
		}
	}

	var samples []Sample
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("calibration: %w", err)
		}
		line, _ := cr.FieldPos(0)

		var probs [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("calibration: line %d: column %s: %w", line, csvHeader[i], err)
			}
			probs[i] = v
		}
		label, err := strconv.Atoi(strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, fmt.Errorf("calibration: line %d: label: %w", line, err)
		}
		if label < LabelNone || label > LabelEnd {
			return nil, fmt.Errorf("calibration: line %d: label %d out of range 0-2", line, label)
		}

		samples = append(samples, Sample{
			Prediction: detector.Prediction{PNone: probs[0], PStart: probs[1], PEnd: probs[2]},
			Label:      label,
		})
	}
	return samples, nil
}

// ParseGrid parses a comma separated list of thresholds. An empty string
// yields a nil grid, which Calibrate replaces with DefaultGrid.
func ParseGrid(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	grid := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q: %w", p, err)
		}
		grid = append(grid, v)
	}
	if err := ValidateGrid(grid); err != nil {
		return nil, err
	}
	return grid, nil
}

// ValidateGrid checks every candidate lies in (0,1), the range the
// detector accepts.
func ValidateGrid(grid []float64) error {
	for _, v := range grid {
		if !(v > 0 && v < 1) {
			return fmt.Errorf("threshold %v must lie in (0,1)", v)
		}
	}
	return nil
}
