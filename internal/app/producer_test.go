package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/gps"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/sensors"
)

func TestPublishReadings_MockSource(t *testing.T) {
	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- publishReadings(ctx, imu.NewMockSource(), pub, "steps/readings", time.Millisecond, zap.NewNop())
	}()

	assert.Eventually(t, func() bool { return len(pub.sent()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publish loop did not stop")
	}

	msgs := pub.sent()
	assert.Equal(t, "steps/readings", msgs[0].topic)
	var req imu.ReadingRequest
	require.NoError(t, json.Unmarshal(msgs[0].payload, &req))
	_, err := req.Reading()
	assert.NoError(t, err)
}

type failingSource struct{}

func (failingSource) Next() (imu.Reading, error) { return imu.Reading{}, errors.New("bus error") }

func TestPublishReadings_SkipsReadErrors(t *testing.T) {
	pub := &fakePublisher{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, publishReadings(ctx, failingSource{}, pub, "t", time.Millisecond, zap.NewNop()))
	assert.Empty(t, pub.sent())
}

func TestForwardFrames(t *testing.T) {
	stream := strings.Join([]string{
		"0.1,0.2,1.0,5,-5,0.5",
		"$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70",
		"noise",
		"1,2,3,4,5,6",
	}, "\n")
	pub := &fakePublisher{}
	err := forwardFrames(sensors.NewLineDecoder(strings.NewReader(stream), "uart"), pub, "steps/readings", "steps/gps", zap.NewNop())
	require.NoError(t, err)

	msgs := pub.sent()
	require.Len(t, msgs, 3)
	assert.Equal(t, "steps/readings", msgs[0].topic)
	assert.False(t, msgs[0].retained)
	assert.Equal(t, "steps/gps", msgs[1].topic)
	assert.True(t, msgs[1].retained)

	var fix gps.Fix
	require.NoError(t, json.Unmarshal(msgs[1].payload, &fix))
	assert.True(t, fix.Valid())

	var r imu.Reading
	require.NoError(t, json.Unmarshal(msgs[2].payload, &r))
	assert.Equal(t, "uart", r.Source)
	assert.Equal(t, 6.0, r.GyroZ)
}

type brokenFrames struct{}

func (brokenFrames) Next() (sensors.Frame, error) { return sensors.Frame{}, errors.New("port gone") }

func TestForwardFrames_ReadError(t *testing.T) {
	err := forwardFrames(brokenFrames{}, &fakePublisher{}, "a", "b", zap.NewNop())
	assert.EqualError(t, err, "port gone")
}
