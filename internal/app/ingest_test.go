package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/session"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, _ byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakePublisher) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

type fakeSubscriber struct {
	handlers map[string]func(string, []byte) error
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler func(topic string, payload []byte) error) error {
	if f.handlers == nil {
		f.handlers = map[string]func(string, []byte) error{}
	}
	f.handlers[topic] = handler
	return nil
}

func newIngestEnv(t *testing.T, pub Publisher) (*Ingest, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(func() (*detector.Machine, error) {
		return detector.New(detector.Thresholds{Start: 0.5, End: 0.5})
	})
	p := NewPipeline(fakeClassifier{}, nil, nil, NewMQTTSink(pub, "steps/events"))
	return NewIngest(p, reg, nil), reg
}

func TestIngest_PublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	in, reg := newIngestEnv(t, pub)
	sub := &fakeSubscriber{}
	require.NoError(t, RunIngest(sub, "steps/readings", "", in))
	require.Contains(t, sub.handlers, "steps/readings")
	assert.Len(t, sub.handlers, 1)

	for _, ax := range []float64{1, 0, 2} {
		payload, err := json.Marshal(imu.Reading{Source: "left", AccelX: ax})
		require.NoError(t, err)
		require.NoError(t, sub.handlers["steps/readings"]("steps/readings", payload))
	}

	require.Len(t, pub.msgs, 3)
	assert.Equal(t, "steps/events/left", pub.msgs[2].topic)
	var res session.Result
	require.NoError(t, json.Unmarshal(pub.msgs[2].payload, &res))
	assert.True(t, res.StepEnd)
	assert.Equal(t, 1, res.StepCount)

	sess, ok := reg.Get("left")
	require.True(t, ok)
	assert.Equal(t, 1, sess.Count())
}

func TestIngest_DefaultSessionAndErrors(t *testing.T) {
	pub := &fakePublisher{}
	in, reg := newIngestEnv(t, pub)

	require.NoError(t, in.Handle("steps/readings", []byte(`{"accel_x":0,"accel_y":0,"accel_z":1,"gyro_x":0,"gyro_y":0,"gyro_z":0}`)))
	_, ok := reg.Get(session.DefaultSessionID)
	assert.True(t, ok)
	assert.Equal(t, "steps/events/default", pub.msgs[0].topic)

	assert.Error(t, in.Handle("steps/readings", []byte(`{`)))
	assert.ErrorIs(t, in.Handle("steps/readings", []byte(`{"accel_x":0}`)), imu.ErrMissingField)
	assert.Len(t, pub.msgs, 1)
}

func TestIngest_EventsKeepSensorTime(t *testing.T) {
	pub := &fakePublisher{}
	in, _ := newIngestEnv(t, pub)
	at := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

	payload, err := json.Marshal(imu.Reading{Source: "left", AccelX: 1, Timestamp: at})
	require.NoError(t, err)
	require.NoError(t, in.Handle("steps/readings", payload))

	var res session.Result
	require.NoError(t, json.Unmarshal(pub.sent()[0].payload, &res))
	assert.Equal(t, at.Format(time.RFC3339Nano), res.Timestamp)
}

func TestIngest_FixTagsSessions(t *testing.T) {
	in, reg := newIngestEnv(t, &fakePublisher{})
	sub := &fakeSubscriber{}
	require.NoError(t, RunIngest(sub, "steps/readings", "steps/gps", in))
	handle := sub.handlers["steps/gps"]
	require.NotNil(t, handle)

	sess, err := reg.GetOrCreate("left")
	require.NoError(t, err)

	require.NoError(t, handle("steps/gps", []byte(`{"lat":48.1,"lon":11.5,"validity":"V"}`)))
	assert.Nil(t, sess.Snapshot().Location)

	require.NoError(t, handle("steps/gps", []byte(`{"lat":48.1,"lon":11.5,"validity":"A"}`)))
	loc := sess.Snapshot().Location
	require.NotNil(t, loc)
	assert.Equal(t, 48.1, loc.Latitude)

	assert.Error(t, handle("steps/gps", []byte(`nope`)))
}

func TestPipeline_SinkFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	in, reg := newIngestEnv(t, pub)

	require.NoError(t, in.Handle("steps/readings", []byte(`{"source":"x","accel_x":1,"accel_y":0,"accel_z":0,"gyro_x":0,"gyro_y":0,"gyro_z":0}`)))
	sess, _ := reg.Get("x")
	assert.Equal(t, detector.PhaseInStep, sess.Phase())
}

func TestPipeline_NotLoaded(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	assert.False(t, p.Loaded())
	sess := session.New("s", mustMachine(t))
	_, err := p.Detect(context.Background(), "rest", sess, imu.Reading{})
	assert.Error(t, err)
}

func mustMachine(t *testing.T) *detector.Machine {
	t.Helper()
	m, err := detector.New(detector.Thresholds{Start: 0.5, End: 0.5})
	require.NoError(t, err)
	return m
}
