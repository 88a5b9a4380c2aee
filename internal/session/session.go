// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session aggregates detector transitions into a step count and a
// replayable event log, one Session per continuous detection run.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/gps"
)

// Event is the outcome of processing one reading.
type Event struct {
	StepStart        bool      `json:"step_start"`
	StepEnd          bool      `json:"step_end"`
	Completed        bool      `json:"completed_step"`
	NoneProbability  float64   `json:"none_probability"`
	StartProbability float64   `json:"start_probability"`
	EndProbability   float64   `json:"end_probability"`
	StepCount        int       `json:"step_count"`
	Timestamp        time.Time `json:"timestamp"`
}

// Result is the per-reading record handed to REST and streaming callers.
type Result struct {
	StepStart        bool    `json:"step_start"`
	StepEnd          bool    `json:"step_end"`
	StartProbability float64 `json:"start_probability"`
	EndProbability   float64 `json:"end_probability"`
	StepCount        int     `json:"step_count"`
	Timestamp        string  `json:"timestamp"`
}

// Result converts the event to its transport shape.
func (e Event) Result() Result {
	return Result{
		StepStart:        e.StepStart,
		StepEnd:          e.StepEnd,
		StartProbability: e.StartProbability,
		EndProbability:   e.EndProbability,
		StepCount:        e.StepCount,
		Timestamp:        e.Timestamp.Format(time.RFC3339Nano),
	}
}

// Summary is an aggregate, read-only view of a session.
type Summary struct {
	SessionID      string         `json:"session_id"`
	TotalSteps     int            `json:"total_steps"`
	EventCount     int            `json:"event_count"`
	Duration       float64        `json:"duration"` // seconds, first to last event
	CurrentPhase   detector.Phase `json:"current_phase"`
	StartTime      time.Time      `json:"start_time"`
	StartThreshold float64        `json:"start_threshold"`
	EndThreshold   float64        `json:"end_threshold"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session owns the count and event log and delegates each reading to its
// state machine. All methods are safe for concurrent use; calls are
// serialised so phase transitions never interleave.
type Session struct {
	id      string
	machine *detector.Machine

	mu        sync.Mutex
	count     int
	last      *Event
	events    []Event
	startTime time.Time
	location  *gps.Fix

	now    func() time.Time
	logger *zap.Logger
}

// New creates an empty session around m.
func New(id string, m *detector.Machine, opts ...Option) *Session {
	s := &Session{
		id:      id,
		machine: m,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_id", id))
	s.startTime = s.now()
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Process runs p through the state machine and records the resulting event.
func (s *Session) Process(p detector.Prediction) Event {
	return s.ProcessAt(p, time.Time{})
}

// ProcessAt is Process with the event stamped at, typically the sensor
// time of the reading. A zero at uses the session clock.
func (s *Session) ProcessAt(p detector.Prediction, at time.Time) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.IsZero() {
		at = s.now()
	}
	return s.record(s.machine.Process(p), p, at)
}

// record must only see transitions produced by s.machine; the count
// increases only on a completed step.
func (s *Session) record(tr detector.Transition, p detector.Prediction, at time.Time) Event {
	if tr.Completed {
		s.count++
		s.logger.Debug("step completed", zap.Int("step_count", s.count))
	}
	ev := Event{
		StepStart:        tr.StepStart,
		StepEnd:          tr.StepEnd,
		Completed:        tr.Completed,
		NoneProbability:  p.PNone,
		StartProbability: p.PStart,
		EndProbability:   p.PEnd,
		StepCount:        s.count,
		Timestamp:        at,
	}
	s.events = append(s.events, ev)
	last := ev
	s.last = &last
	return ev
}

// Count returns the number of completed steps since the last reset.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// LastDetection returns a copy of the most recent event, or nil.
func (s *Session) LastDetection() *Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	ev := *s.last
	return &ev
}

// Events returns a copy of the ordered event log.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Reset zeroes the count, clears the log and returns the machine to IDLE.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.last = nil
	s.events = nil
	s.startTime = s.now()
	s.machine.Reset()
	s.logger.Info("session reset")
}

// Phase returns the machine's current phase.
func (s *Session) Phase() detector.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Phase()
}

func (s *Session) Thresholds() detector.Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Thresholds()
}

// SetThresholds reconfigures the machine between readings.
func (s *Session) SetThresholds(th detector.Thresholds) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.machine.SetThresholds(th); err != nil {
		return err
	}
	s.logger.Info("thresholds updated", zap.Float64("start", th.Start), zap.Float64("end", th.End))
	return nil
}

// SetLocation tags the session with a GPS fix.
func (s *Session) SetLocation(fix gps.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = &fix
}

// Summary returns the aggregate view without mutating anything.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary()
}

func (s *Session) summary() Summary {
	th := s.machine.Thresholds()
	sum := Summary{
		SessionID:      s.id,
		TotalSteps:     s.count,
		EventCount:     len(s.events),
		CurrentPhase:   s.machine.Phase(),
		StartTime:      s.startTime,
		StartThreshold: th.Start,
		EndThreshold:   th.End,
	}
	if n := len(s.events); n > 1 {
		sum.Duration = s.events[n-1].Timestamp.Sub(s.events[0].Timestamp).Seconds()
	}
	return sum
}
