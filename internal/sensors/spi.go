// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/imu"
)

// rawReader is the subset of the MPU9250 driver the source reads from.
type rawReader interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
	GetRotationX() (int16, error)
	GetRotationY() (int16, error)
	GetRotationZ() (int16, error)
}

type spiSource struct {
	name  string
	dev   rawReader
	scale imu.Scale
	now   func() time.Time
}

// NewSPIIMU initializes an MPU9250 over SPI and returns it as a reading
// source in g and °/s.
func NewSPIIMU(name string, cfg config.IMUConfig, log *zap.Logger) (imu.Source, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "imu"), zap.String("imu", name))

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: periph host init: %w", name, err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", name, cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", name, cfg.SPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", name, err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", name, err)
	}

	if err := dev.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set accel range: %w", name, err)
	}
	log.Info("accelerometer range set", zap.Int("range", int(cfg.AccelRange)), zap.Int("g", []int{2, 4, 8, 16}[cfg.AccelRange]))

	if err := dev.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set gyro range: %w", name, err)
	}
	log.Info("gyroscope range set", zap.Int("range", int(cfg.GyroRange)), zap.Int("dps", []int{250, 500, 1000, 2000}[cfg.GyroRange]))

	if res, err := dev.SelfTest(); err != nil {
		log.Warn("self-test failed", zap.Error(err))
	} else {
		log.Info("self-test passed",
			zap.Float64("accel_dev_x", res.AccelDeviation.X),
			zap.Float64("accel_dev_y", res.AccelDeviation.Y),
			zap.Float64("accel_dev_z", res.AccelDeviation.Z),
			zap.Float64("gyro_dev_x", res.GyroDeviation.X),
			zap.Float64("gyro_dev_y", res.GyroDeviation.Y),
			zap.Float64("gyro_dev_z", res.GyroDeviation.Z),
		)
	}

	if err := dev.Calibrate(); err != nil {
		log.Warn("calibration failed", zap.Error(err))
	} else {
		log.Info("calibration complete")
	}

	return newSPISource(name, dev, imu.Scale{AccelLSB: cfg.AccelScale, GyroLSB: cfg.GyroScale}), nil
}

func newSPISource(name string, dev rawReader, scale imu.Scale) *spiSource {
	return &spiSource{name: name, dev: dev, scale: scale, now: time.Now}
}

// ReadRaw reads accelerometer and gyroscope counts.
func (s *spiSource) ReadRaw() (imu.Raw, error) {
	ax, err := s.dev.GetAccelerationX()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("%s IMU accel X: %w", s.name, err)
	}
	ay, err := s.dev.GetAccelerationY()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("%s IMU accel Y: %w", s.name, err)
	}
	az, err := s.dev.GetAccelerationZ()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("%s IMU accel Z: %w", s.name, err)
	}

	gx, err := s.dev.GetRotationX()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("%s IMU gyro X: %w", s.name, err)
	}
	gy, err := s.dev.GetRotationY()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("%s IMU gyro Y: %w", s.name, err)
	}
	gz, err := s.dev.GetRotationZ()
	if err != nil {
		return imu.Raw{}, fmt.Errorf("%s IMU gyro Z: %w", s.name, err)
	}

	return imu.Raw{Source: s.name, Ax: ax, Ay: ay, Az: az, Gx: gx, Gy: gy, Gz: gz}, nil
}

// Next implements imu.Source.
func (s *spiSource) Next() (imu.Reading, error) {
	raw, err := s.ReadRaw()
	if err != nil {
		return imu.Reading{}, err
	}
	return raw.ToReading(s.scale, s.now()), nil
}
