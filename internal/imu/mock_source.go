// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"math"
	"time"
)

type mockSource struct {
	start   time.Time
	now     func() time.Time
	cadence float64 // steps per second
}

// NewMockSource creates a mock source that generates a walking-like
// signal: a vertical accel burst and a pitch-axis gyro swing per step.
func NewMockSource() Source {
	return newMockSource(time.Now, 1.8)
}

func newMockSource(now func() time.Time, cadence float64) *mockSource {
	return &mockSource{start: now(), now: now, cadence: cadence}
}

func (m *mockSource) Next() (Reading, error) {
	t := m.now()
	elapsed := t.Sub(m.start).Seconds()
	phase := 2 * math.Pi * m.cadence * elapsed

	return Reading{
		Source:    "mock",
		AccelX:    0.8 * math.Sin(phase+0.4),
		AccelY:    0.3 * math.Cos(phase),
		AccelZ:    9.81 + 3.5*math.Max(0, math.Sin(phase)),
		GyroX:     0.6 * math.Sin(phase),
		GyroY:     1.2 * math.Cos(phase*0.5),
		GyroZ:     0.1 * math.Sin(phase*0.25),
		Timestamp: t,
	}, nil
}
