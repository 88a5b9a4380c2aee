package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/calibration"
	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/session"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := newRedisStore(client, RedisOptions{KeyPrefix: "step:", EventStream: "step:events"}, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func testFile() session.File {
	return session.File{
		Version:   session.FileVersion,
		SessionID: "walk-1",
		SavedAt:   t0,
		Summary: session.Summary{
			SessionID:    "walk-1",
			TotalSteps:   2,
			EventCount:   5,
			Duration:     1.5,
			CurrentPhase: detector.PhaseInStep,
		},
		Events: []session.Event{{StepStart: true, StartProbability: 0.8, Timestamp: t0}},
	}
}

func TestRedisStore_Snapshot(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.SaveSnapshot(ctx, testFile()))
	assert.True(t, mr.Exists("step:session:walk-1"))

	raw, err := mr.Get("step:session:walk-1")
	require.NoError(t, err)
	var got session.File
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, 2, got.Summary.TotalSteps)
	assert.Equal(t, detector.PhaseInStep, got.Summary.CurrentPhase)
	require.Len(t, got.Events, 1)
	assert.True(t, got.Events[0].Timestamp.Equal(t0))

	// a later save replaces the snapshot
	f := testFile()
	f.Summary.TotalSteps = 3
	require.NoError(t, s.SaveSnapshot(ctx, f))
	raw, err = mr.Get("step:session:walk-1")
	require.NoError(t, err)
	assert.Contains(t, raw, `"total_steps":3`)
}

func TestRedisStore_AppendEvent(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	ev := session.Event{StepEnd: true, Completed: true, StepCount: 1, EndProbability: 0.9, Timestamp: t0}
	id, err := s.AppendEvent(ctx, "walk-1", ev)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := mr.Stream("step:events")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, "walk-1", values["session_id"])
	var res session.Result
	require.NoError(t, json.Unmarshal([]byte(values["data"]), &res))
	assert.True(t, res.StepEnd)
	assert.Equal(t, 1, res.StepCount)
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr, s := setupTestRedis(t)
	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
	assert.Error(t, s.SaveSnapshot(context.Background(), testFile()))
}

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "steps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Sessions(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	first := testFile()
	_, err := s.InsertSession(ctx, first, "sessions/a.json")
	require.NoError(t, err)

	second := testFile()
	second.SessionID = "walk-2"
	second.SavedAt = t0.Add(time.Minute)
	second.Summary.CurrentPhase = detector.PhaseIdle
	_, err = s.InsertSession(ctx, second, "sessions/b.json")
	require.NoError(t, err)

	rows, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "walk-2", rows[0].SessionID)
	assert.Equal(t, "idle", rows[0].Phase)
	assert.Equal(t, "in_step", rows[1].Phase)
	assert.Equal(t, 1.5, rows[1].Duration)
	assert.True(t, rows[1].SavedAt.Equal(t0))

	rows, err = s.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLiteStore_Calibrations(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	_, err := s.LatestCalibration(ctx)
	assert.ErrorIs(t, err, ErrNoCalibration)

	older := calibration.Report{BestThreshold: 0.2, BestScore: 0.5}
	newer := calibration.Report{
		BestThreshold: 0.05,
		BestScore:     0.9,
		Results:       []calibration.CandidateResult{{Threshold: 0.05, StartF1: 0.8, EndF1: 1, OverallF1: 0.9}},
	}
	_, err = s.InsertCalibration(ctx, t0, older)
	require.NoError(t, err)
	_, err = s.InsertCalibration(ctx, t0.Add(time.Hour), newer)
	require.NoError(t, err)

	got, err := s.LatestCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer, got.Report)
	assert.True(t, got.RunAt.Equal(t0.Add(time.Hour)))
}
