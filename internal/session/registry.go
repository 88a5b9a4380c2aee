package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/relabs-tech/step_computer/internal/detector"
)

// DefaultSessionID is used by callers that do not name a session.
const DefaultSessionID = "default"

// ErrNotFound is returned when a named session does not exist.
var ErrNotFound = errors.New("session not found")

// MachineFactory builds a fresh state machine for a new session.
type MachineFactory func() (*detector.Machine, error)

// Registry holds the live sessions. The transport layer owns it and passes
// the resolved *Session into each processing call.
type Registry struct {
	factory MachineFactory
	opts    []Option

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. opts are applied to every new session.
func NewRegistry(factory MachineFactory, opts ...Option) *Registry {
	return &Registry{
		factory:  factory,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session with id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the session with id, creating it if needed.
// An empty id allocates a new random one.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	if id != "" {
		if s, ok := r.Get(id); ok {
			return s, nil
		}
	} else {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	m, err := r.factory()
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	s := New(id, m, r.opts...)
	r.sessions[id] = s
	return s, nil
}

// Remove drops a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// IDs returns the sorted ids of live sessions.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
