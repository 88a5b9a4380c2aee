package app

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/gps"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/session"
)

// Ingest consumes readings from the broker. Each reading runs through the
// session named by its source tag (or the default session); the pipeline
// sinks publish the resulting events.
type Ingest struct {
	pipeline *Pipeline
	registry *session.Registry
	log      *zap.Logger
}

func NewIngest(p *Pipeline, reg *session.Registry, log *zap.Logger) *Ingest {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingest{pipeline: p, registry: reg, log: log.With(zap.String("component", "ingest"))}
}

// Handle processes one readings-topic message.
func (in *Ingest) Handle(topic string, payload []byte) error {
	var req imu.ReadingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode reading from %s: %w", topic, err)
	}
	reading, err := req.Reading()
	if err != nil {
		return err
	}

	id := reading.Source
	if id == "" {
		id = session.DefaultSessionID
	}
	sess, err := in.registry.GetOrCreate(id)
	if err != nil {
		return err
	}
	_, err = in.pipeline.Detect(context.Background(), "mqtt", sess, reading)
	return err
}

// HandleFix tags every open session with a GPS position. Fixes without a
// lock are dropped.
func (in *Ingest) HandleFix(topic string, payload []byte) error {
	var fix gps.Fix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return fmt.Errorf("decode fix from %s: %w", topic, err)
	}
	if !fix.Valid() {
		return nil
	}
	for _, id := range in.registry.IDs() {
		if sess, ok := in.registry.Get(id); ok {
			sess.SetLocation(fix)
		}
	}
	return nil
}

// Subscriber is the broker surface ingest needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
}

// RunIngest subscribes in to the readings topic and, when gpsTopic is set,
// to position fixes.
func RunIngest(sub Subscriber, topic, gpsTopic string, in *Ingest) error {
	if err := sub.Subscribe(topic, 0, in.Handle); err != nil {
		return err
	}
	in.log.Info("ingesting readings", zap.String("topic", topic))
	if gpsTopic == "" {
		return nil
	}
	return sub.Subscribe(gpsTopic, 0, in.HandleFix)
}
