package detector

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMachine(t *testing.T, start, end float64) *Machine {
	t.Helper()
	m, err := New(Thresholds{Start: start, End: end})
	require.NoError(t, err)
	return m
}

func TestNew_InvalidThresholds(t *testing.T) {
	cases := []Thresholds{
		{Start: 0, End: 0.3},
		{Start: 1, End: 0.3},
		{Start: 0.3, End: -0.1},
		{Start: 0.3, End: 1.5},
	}
	for _, th := range cases {
		_, err := New(th)
		assert.ErrorIs(t, err, ErrInvalidThresholds, "thresholds %+v", th)
	}
}

func TestProcess_StartThenEnd(t *testing.T) {
	m := newMachine(t, 0.3, 0.3)

	tr := m.Process(Prediction{PNone: 0.95, PStart: 0.02, PEnd: 0.03})
	assert.Equal(t, Transition{}, tr)
	assert.Equal(t, PhaseIdle, m.Phase())

	tr = m.Process(Prediction{PNone: 0.1, PStart: 0.9})
	assert.Equal(t, Transition{StepStart: true}, tr)
	assert.Equal(t, PhaseInStep, m.Phase())

	tr = m.Process(Prediction{PNone: 0.1, PEnd: 0.9})
	assert.Equal(t, Transition{StepEnd: true, Completed: true}, tr)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestProcess_BoundaryDoesNotFire(t *testing.T) {
	m := newMachine(t, 0.4, 0.6)

	tr := m.Process(Prediction{PStart: 0.4})
	assert.False(t, tr.StepStart)
	assert.Equal(t, PhaseIdle, m.Phase())

	m.Process(Prediction{PStart: 0.41})
	require.Equal(t, PhaseInStep, m.Phase())

	tr = m.Process(Prediction{PEnd: 0.6})
	assert.False(t, tr.StepEnd)
	assert.Equal(t, PhaseInStep, m.Phase())
}

func TestProcess_NoDoubleStart(t *testing.T) {
	m := newMachine(t, 0.3, 0.3)
	require.True(t, m.Process(Prediction{PStart: 0.9}).StepStart)

	for i := 0; i < 50; i++ {
		tr := m.Process(Prediction{PStart: 0.99, PEnd: 0.1})
		assert.False(t, tr.StepStart)
		assert.False(t, tr.StepEnd)
	}
	assert.Equal(t, PhaseInStep, m.Phase())
}

func TestProcess_EndIgnoredWhileIdle(t *testing.T) {
	m := newMachine(t, 0.3, 0.3)
	tr := m.Process(Prediction{PEnd: 0.99})
	assert.Equal(t, Transition{}, tr)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestProcess_BothQualifyResolvedByPhase(t *testing.T) {
	m := newMachine(t, 0.3, 0.3)
	both := Prediction{PStart: 0.8, PEnd: 0.8}

	tr := m.Process(both)
	assert.Equal(t, Transition{StepStart: true}, tr)
	tr = m.Process(both)
	assert.Equal(t, Transition{StepEnd: true, Completed: true}, tr)
}

func TestProcess_NonNormalisedInputIsAccepted(t *testing.T) {
	m := newMachine(t, 0.3, 0.3)
	tr := m.Process(Prediction{PNone: 5, PStart: 2, PEnd: -1})
	assert.True(t, tr.StepStart)
}

func TestProcess_PhaseExclusivityRandomised(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := newMachine(t, 0.25, 0.35)
	for i := 0; i < 5000; i++ {
		tr := m.Process(Prediction{PStart: rng.Float64(), PEnd: rng.Float64()})
		if tr.StepStart && tr.StepEnd {
			t.Fatalf("reading %d produced both start and end", i)
		}
		assert.Equal(t, tr.StepEnd, tr.Completed)
	}
}

func TestReset_KeepsThresholds(t *testing.T) {
	m := newMachine(t, 0.2, 0.7)
	m.Process(Prediction{PStart: 0.9})
	require.Equal(t, PhaseInStep, m.Phase())

	m.Reset()
	assert.Equal(t, PhaseIdle, m.Phase())
	assert.Equal(t, Thresholds{Start: 0.2, End: 0.7}, m.Thresholds())
}

func TestSetThresholds(t *testing.T) {
	m := newMachine(t, 0.3, 0.3)
	m.Process(Prediction{PStart: 0.9})

	require.NoError(t, m.SetThresholds(Thresholds{Start: 0.5, End: 0.5}))
	assert.Equal(t, PhaseInStep, m.Phase())
	assert.Equal(t, 0.5, m.Thresholds().End)

	assert.ErrorIs(t, m.SetThresholds(Thresholds{Start: 0, End: 0.5}), ErrInvalidThresholds)
	assert.Equal(t, 0.5, m.Thresholds().Start)
}

func TestPhase_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Phase{"phase": PhaseInStep})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"in_step"}`, string(b))

	var out struct {
		Phase Phase `json:"phase"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"phase":"idle"}`), &out))
	assert.Equal(t, PhaseIdle, out.Phase)
	assert.Error(t, json.Unmarshal([]byte(`{"phase":"walking"}`), &out))
}
