package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriter_LogBeforeStartErrors(t *testing.T) {
	w := New(t.TempDir(), "ep1")
	if err := w.Log(map[string]interface{}{"type": "x"}); err == nil {
		t.Fatal("expected error logging before Start")
	}
}

func TestWriter_StartLogStopAppendsJSONLines(t *testing.T) {
	base := t.TempDir()
	w := New(base, "ep1")
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Log(map[string]interface{}{"type": "session.start"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := w.Log(map[string]interface{}{"type": "session.end"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, "ep1", "events.jsonl"))
	if err != nil {
		t.Fatalf("read event log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 event lines, got %d", len(lines))
	}
}
