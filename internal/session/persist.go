package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/gps"
)

// FileVersion is the schema version written by Save.
const FileVersion = 1

// File is the persisted session document.
type File struct {
	Version   int       `json:"version"`
	SessionID string    `json:"session_id"`
	SavedAt   time.Time `json:"saved_at"`
	Summary   Summary   `json:"summary"`
	Events    []Event   `json:"events"`
	Location  *gps.Fix  `json:"location,omitempty"`
}

// PersistenceError reports a failed save or load. The session itself is unaffected.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session: persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Snapshot captures the log and summary as a File.
func (s *Session) Snapshot() File {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]Event, len(s.events))
	copy(events, s.events)
	f := File{
		Version:   FileVersion,
		SessionID: s.id,
		SavedAt:   s.now(),
		Summary:   s.summary(),
		Events:    events,
	}
	if s.location != nil {
		loc := *s.location
		f.Location = &loc
	}
	return f
}

// Save writes the session as indented JSON to path.
func (s *Session) Save(path string) (err error) {
	doc := s.Snapshot()

	f, err := os.Create(path)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &PersistenceError{Path: path, Err: cerr}
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	s.logger.Info("session saved", zap.String("path", path), zap.Int("events", len(doc.Events)))
	return nil
}

// Load reads a document previously written by Save.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &PersistenceError{Path: path, Err: err}
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &PersistenceError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	if f.Version != FileVersion {
		return nil, &PersistenceError{Path: path, Err: fmt.Errorf("unsupported version %d", f.Version)}
	}
	return &f, nil
}
