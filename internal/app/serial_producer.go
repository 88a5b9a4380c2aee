package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/mqtt"
	"github.com/relabs-tech/step_computer/internal/sensors"
)

// RunSerialProducer reads a UART carrying CSV readings and NMEA sentences
// (an external IMU board with a GPS on the same line) and publishes both.
func RunSerialProducer(ctx context.Context, cfg *config.Config, source string, log *zap.Logger) error {
	log = log.With(zap.String("component", "serial_producer"))

	port, err := sensors.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return err
	}
	log.Info("serial port opened", zap.String("port", cfg.Serial.Port), zap.Uint("baud", cfg.Serial.Baud))

	client, err := mqtt.Connect(mqtt.Options{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientIDProducer}, log)
	if err != nil {
		port.Close()
		return err
	}
	defer client.Disconnect()

	// Blocked reads only return when the port closes.
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	err = forwardFrames(sensors.NewLineDecoder(port, source), client, cfg.MQTT.TopicReadings, cfg.MQTT.TopicGPS, log)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type frameSource interface {
	Next() (sensors.Frame, error)
}

// forwardFrames publishes readings to readingsTopic and fixes, retained, to
// gpsTopic until the source ends. io.EOF is a clean stop.
func forwardFrames(src frameSource, pub Publisher, readingsTopic, gpsTopic string, log *zap.Logger) error {
	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var (
			topic    string
			retained bool
			v        interface{}
		)
		switch {
		case f.Reading != nil:
			topic, v = readingsTopic, f.Reading
		case f.Fix != nil:
			topic, retained, v = gpsTopic, true, f.Fix
			log.Debug("GPS fix", zap.Float64("lat", f.Fix.Latitude), zap.Float64("lon", f.Fix.Longitude),
				zap.String("validity", f.Fix.Validity))
		default:
			continue
		}

		payload, err := json.Marshal(v)
		if err != nil {
			log.Warn("error marshalling frame", zap.Error(err))
			continue
		}
		if err := pub.Publish(topic, 0, retained, payload); err != nil {
			log.Warn("error publishing frame", zap.String("topic", topic), zap.Error(err))
		}
	}
}
