// Package eventlog implements stage.EventLogPort (spec.md §6): an
// append-only JSON-lines writer, one subtree per episodeId.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends JSON-encoded events, one per line, to
// baseDir/episodeId/events.jsonl.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// New constructs a Writer rooted at filepath.Join(baseDir, episodeID). The
// file is created on Start().
func New(baseDir, episodeID string) *Writer {
	return &Writer{path: filepath.Join(baseDir, episodeID, "events.jsonl")}
}

// Start creates the episode directory (if needed) and opens the log file
// for appending.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create episode dir: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	w.f = f
	return nil
}

// Log writes one event as a JSON line. event is expected to already carry
// type/sessionId/timestamp per spec.md §6.
func (w *Writer) Log(event map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("event log not started")
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = w.f.Write(append(line, '\n'))
	return err
}

// Stop closes the underlying file.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
