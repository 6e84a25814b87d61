package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
)

type fakeStreamSynth struct {
	chunks [][]byte
	err    error
}

func (f *fakeStreamSynth) StreamSynthesize(_ context.Context, _ string, _ stage.Voice, _ stage.Language, onChunk func([]byte) error) error {
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return f.err
}
func (f *fakeStreamSynth) Name() string { return "fake" }

func TestAdapter_SynthesizeStreamsChunksAndCompletes(t *testing.T) {
	var gotChunks [][]byte
	var completed bool
	backend := &fakeStreamSynth{chunks: [][]byte{{1, 2}, {3, 4}}}
	a := NewAdapter(backend, speaker.Host, stage.VoiceM1, stage.LanguageEn, stage.TTSCallbacks{
		OnChunk:    func(_ stage.SessionId, _ speaker.Id, data []byte) { gotChunks = append(gotChunks, data) },
		OnComplete: func(_ stage.SessionId, _ speaker.Id) { completed = true },
	})

	if err := a.Synthesize(context.Background(), "s1", "hello"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(gotChunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(gotChunks))
	}
	if !completed {
		t.Fatal("expected OnComplete to fire")
	}
}

func TestAdapter_SynthesizeErrorInvokesOnError(t *testing.T) {
	var gotErr error
	backend := &fakeStreamSynth{err: errors.New("backend down")}
	a := NewAdapter(backend, speaker.Guest, stage.VoiceF1, stage.LanguageEn, stage.TTSCallbacks{
		OnError: func(_ stage.SessionId, _ speaker.Id, err error) { gotErr = err },
	})

	if err := a.Synthesize(context.Background(), "s1", "hello"); err == nil {
		t.Fatal("expected Synthesize to return the backend error")
	}
	if gotErr == nil {
		t.Fatal("expected OnError callback to be invoked")
	}
}

func TestAdapter_StopWithoutInFlightSynthesisIsNoOp(t *testing.T) {
	a := NewAdapter(&fakeStreamSynth{}, speaker.Host, stage.VoiceM1, stage.LanguageEn, stage.TTSCallbacks{})
	if err := a.Stop("s1"); err != nil {
		t.Fatalf("expected Stop to be a no-op, got %v", err)
	}
}
