// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingField is returned when a reading request lacks one of RequiredFields.
var ErrMissingField = errors.New("missing required sensor data fields")

// RequiredFields lists the JSON keys every reading must carry.
var RequiredFields = []string{"accel_x", "accel_y", "accel_z", "gyro_x", "gyro_y", "gyro_z"}

// Reading represents one timestamped 6-axis sample.
type Reading struct {
	Source string `json:"source,omitempty"` // device or session tag

	AccelX float64 `json:"accel_x"`
	AccelY float64 `json:"accel_y"`
	AccelZ float64 `json:"accel_z"`

	GyroX float64 `json:"gyro_x"`
	GyroY float64 `json:"gyro_y"`
	GyroZ float64 `json:"gyro_z"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Features returns the classifier input vector in canonical order.
func (r Reading) Features() [6]float64 {
	return [6]float64{r.AccelX, r.AccelY, r.AccelZ, r.GyroX, r.GyroY, r.GyroZ}
}

// Source is anything that can provide readings over time.
type Source interface {
	Next() (Reading, error)
}

// ReadingRequest is the wire form of a reading. Pointer fields let the
// transport tell a missing field from a zero value.
type ReadingRequest struct {
	Source string   `json:"source,omitempty"`
	AccelX *float64 `json:"accel_x"`
	AccelY *float64 `json:"accel_y"`
	AccelZ *float64 `json:"accel_z"`
	GyroX  *float64 `json:"gyro_x"`
	GyroY  *float64 `json:"gyro_y"`
	GyroZ  *float64 `json:"gyro_z"`

	Timestamp *time.Time `json:"timestamp,omitempty"` // sensor time, optional
}

// Reading converts the request, failing with ErrMissingField if any axis is absent.
func (q ReadingRequest) Reading() (Reading, error) {
	var missing []string
	vals := []*float64{q.AccelX, q.AccelY, q.AccelZ, q.GyroX, q.GyroY, q.GyroZ}
	for i, v := range vals {
		if v == nil {
			missing = append(missing, RequiredFields[i])
		}
	}
	if len(missing) > 0 {
		return Reading{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	r := Reading{
		Source: q.Source,
		AccelX: *q.AccelX,
		AccelY: *q.AccelY,
		AccelZ: *q.AccelZ,
		GyroX:  *q.GyroX,
		GyroY:  *q.GyroY,
		GyroZ:  *q.GyroZ,
	}
	if q.Timestamp != nil {
		r.Timestamp = *q.Timestamp
	}
	return r, nil
}
