// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/classifier"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/metrics"
	"github.com/relabs-tech/step_computer/internal/session"
	"github.com/relabs-tech/step_computer/internal/store"
)

// EventSink receives every event after it is recorded. Sink failures are
// logged and never affect the session.
type EventSink interface {
	Publish(ctx context.Context, sessionID string, ev session.Event) error
}

// Publisher is the broker surface the MQTT sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type mqttSink struct {
	pub   Publisher
	topic string
}

// NewMQTTSink publishes each Result as JSON to <topic>/<session>.
func NewMQTTSink(pub Publisher, topic string) EventSink {
	return &mqttSink{pub: pub, topic: topic}
}

func (m *mqttSink) Publish(_ context.Context, sessionID string, ev session.Event) error {
	payload, err := json.Marshal(ev.Result())
	if err != nil {
		return err
	}
	return m.pub.Publish(m.topic+"/"+sessionID, 0, false, payload)
}

type redisSink struct {
	store *store.RedisStore
}

// NewRedisSink appends each event to the Redis event stream.
func NewRedisSink(s *store.RedisStore) EventSink {
	return &redisSink{store: s}
}

func (r *redisSink) Publish(ctx context.Context, sessionID string, ev session.Event) error {
	_, err := r.store.AppendEvent(ctx, sessionID, ev)
	return err
}

// Pipeline classifies a reading and feeds the prediction to a session.
// A nil classifier means no model is loaded.
type Pipeline struct {
	classifier classifier.Classifier
	metrics    *metrics.Recorder
	sinks      []EventSink
	log        *zap.Logger
}

func NewPipeline(c classifier.Classifier, rec *metrics.Recorder, log *zap.Logger, sinks ...EventSink) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		classifier: c,
		metrics:    rec,
		sinks:      sinks,
		log:        log.With(zap.String("component", "pipeline")),
	}
}

// Loaded reports whether a classifier is available.
func (p *Pipeline) Loaded() bool {
	return p != nil && p.classifier != nil
}

// AddSink registers another event sink. Not safe to call concurrently
// with Detect.
func (p *Pipeline) AddSink(s EventSink) {
	p.sinks = append(p.sinks, s)
}

// Detect runs one reading through the classifier and s. transport labels
// the metrics ("rest", "websocket", "mqtt"). The event carries the reading's
// timestamp when it has one.
func (p *Pipeline) Detect(ctx context.Context, transport string, s *session.Session, r imu.Reading) (session.Event, error) {
	if !p.Loaded() {
		return session.Event{}, classifier.ErrNotLoaded
	}

	start := time.Now()
	pred, err := p.classifier.Classify(ctx, r)
	if err != nil {
		p.metrics.Error(ctx, transport)
		return session.Event{}, fmt.Errorf("classify: %w", err)
	}
	ev := s.ProcessAt(pred, r.Timestamp)
	p.metrics.Reading(ctx, transport, time.Since(start), ev.Completed)

	if ev.Completed {
		p.log.Info("step detected", zap.String("session_id", s.ID()), zap.Int("step_count", ev.StepCount))
	}

	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, s.ID(), ev); err != nil {
			p.log.Warn("event sink failed", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
	return ev, nil
}
