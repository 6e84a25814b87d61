package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

func TestRecorder_WriteAudioBeforeStartErrors(t *testing.T) {
	r := New(t.TempDir(), "ep1", 48000)
	if err := r.WriteAudio(speaker.Human, []byte{1, 2}); err == nil {
		t.Fatal("expected error writing audio before Start")
	}
}

func TestRecorder_StartWriteStopProducesWavAndCaptions(t *testing.T) {
	base := t.TempDir()
	r := New(base, "ep1", 48000)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.WriteAudio(speaker.Human, []byte{0, 0, 1, 1}); err != nil {
		t.Fatalf("WriteAudio: %v", err)
	}
	if err := r.AddCaption(speaker.Human, "hello"); err != nil {
		t.Fatalf("AddCaption: %v", err)
	}

	files, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files (pcm, wav, captions), got %d: %v", len(files), files)
	}

	wavPath := filepath.Join(base, "ep1", "human.wav")
	if _, err := os.Stat(wavPath); err != nil {
		t.Fatalf("expected wav file at %s: %v", wavPath, err)
	}
	captionsPath := filepath.Join(base, "ep1", "captions.jsonl")
	data, err := os.ReadFile(captionsPath)
	if err != nil {
		t.Fatalf("read captions: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a non-empty captions sidecar")
	}
}
