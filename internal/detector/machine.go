// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package detector turns per-reading class probabilities into debounced
// step start/end transitions.
package detector

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned when a threshold lies outside (0,1).
var ErrInvalidThresholds = errors.New("detector: thresholds must lie in (0,1)")

// Prediction is the classifier output for one reading.
type Prediction struct {
	PNone  float64 `json:"p_none"`
	PStart float64 `json:"p_start"`
	PEnd   float64 `json:"p_end"`
}

// Phase is the state machine mode.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInStep
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInStep:
		return "in_step"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase as "idle" or "in_step".
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes "idle" or "in_step".
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = PhaseIdle
	case "in_step":
		*p = PhaseInStep
	default:
		return fmt.Errorf("detector: unknown phase %q", string(b))
	}
	return nil
}

// Thresholds is the decision boundary pair.
type Thresholds struct {
	Start float64 `json:"start_threshold"`
	End   float64 `json:"end_threshold"`
}

// Validate checks both thresholds are in the open interval (0,1).
func (t Thresholds) Validate() error {
	if !(t.Start > 0 && t.Start < 1) {
		return fmt.Errorf("%w: start=%v", ErrInvalidThresholds, t.Start)
	}
	if !(t.End > 0 && t.End < 1) {
		return fmt.Errorf("%w: end=%v", ErrInvalidThresholds, t.End)
	}
	return nil
}

// Transition is the outcome of processing one prediction.
// StepStart and StepEnd are never both true; Completed accompanies StepEnd.
type Transition struct {
	StepStart bool
	StepEnd   bool
	Completed bool
}

// Machine is the IDLE / IN_STEP state machine. It is not safe for
// concurrent use; callers serialise access per session.
type Machine struct {
	phase      Phase
	thresholds Thresholds
}

// New creates a machine in the IDLE phase.
func New(th Thresholds) (*Machine, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Machine{phase: PhaseIdle, thresholds: th}, nil
}

// Process evaluates only the transition valid for the current phase.
// Comparisons are strict: a probability equal to its threshold does not fire.
func (m *Machine) Process(p Prediction) Transition {
	switch m.phase {
	case PhaseIdle:
		if p.PStart > m.thresholds.Start {
			m.phase = PhaseInStep
			return Transition{StepStart: true}
		}
	case PhaseInStep:
		if p.PEnd > m.thresholds.End {
			m.phase = PhaseIdle
			return Transition{StepEnd: true, Completed: true}
		}
	}
	return Transition{}
}

// Reset forces the phase back to IDLE. Thresholds are kept.
func (m *Machine) Reset() {
	m.phase = PhaseIdle
}

func (m *Machine) Phase() Phase {
	return m.phase
}

func (m *Machine) Thresholds() Thresholds {
	return m.thresholds
}

// SetThresholds reconfigures the decision boundaries without touching the phase.
func (m *Machine) SetThresholds(th Thresholds) error {
	if err := th.Validate(); err != nil {
		return err
	}
	m.thresholds = th
	return nil
}
