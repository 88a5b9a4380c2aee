package imu

import "time"

// Raw represents a single raw accel+gyro sample in sensor counts.
type Raw struct {
	Source string `json:"source"`

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Scale converts counts to physical units: accel counts per unit and
// gyro counts per unit (e.g. 16384 LSB/g and 131 LSB/(deg/s) at the
// smallest MPU-9250 ranges).
type Scale struct {
	AccelLSB float64
	GyroLSB  float64
}

// ToReading applies the scale. A zero LSB leaves the axis in raw counts.
func (r Raw) ToReading(s Scale, at time.Time) Reading {
	a, g := s.AccelLSB, s.GyroLSB
	if a == 0 {
		a = 1
	}
	if g == 0 {
		g = 1
	}
	return Reading{
		Source:    r.Source,
		AccelX:    float64(r.Ax) / a,
		AccelY:    float64(r.Ay) / a,
		AccelZ:    float64(r.Az) / a,
		GyroX:     float64(r.Gx) / g,
		GyroY:     float64(r.Gy) / g,
		GyroZ:     float64(r.Gz) / g,
		Timestamp: at,
	}
}
