package stt

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ stage.Language) (string, error) {
	return f.text, f.err
}
func (f *fakeTranscriber) Name() string { return "fake" }

func TestBatchAdapter_FlushWithoutStartIsNoOp(t *testing.T) {
	var got string
	a := NewBatchAdapter(&fakeTranscriber{text: "hello"}, stage.LanguageEn, stage.STTCallbacks{
		OnTranscript: func(_ stage.SessionId, text string, _ bool) { got = text },
	})
	a.FeedAudio("s1", []byte{1, 2, 3})
	a.Flush(context.Background(), "s1")
	if got != "" {
		t.Fatalf("expected no transcript before Start, got %q", got)
	}
}

func TestBatchAdapter_FlushTranscribesBufferedAudio(t *testing.T) {
	var gotText string
	var gotFinal bool
	a := NewBatchAdapter(&fakeTranscriber{text: "hello there"}, stage.LanguageEn, stage.STTCallbacks{
		OnTranscript: func(_ stage.SessionId, text string, isFinal bool) { gotText, gotFinal = text, isFinal },
	})
	if err := a.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.FeedAudio("s1", []byte{1, 2, 3, 4})
	a.Flush(context.Background(), "s1")

	if gotText != "hello there" || !gotFinal {
		t.Fatalf("expected final transcript 'hello there', got %q final=%v", gotText, gotFinal)
	}
}

func TestBatchAdapter_FlushErrorInvokesOnError(t *testing.T) {
	var gotErr error
	a := NewBatchAdapter(&fakeTranscriber{err: errors.New("boom")}, stage.LanguageEn, stage.STTCallbacks{
		OnError: func(_ stage.SessionId, err error) { gotErr = err },
	})
	if err := a.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.FeedAudio("s1", []byte{1, 2})
	a.Flush(context.Background(), "s1")

	if gotErr == nil {
		t.Fatal("expected OnError to be invoked")
	}
}

func TestBatchAdapter_StopDiscardsBuffer(t *testing.T) {
	called := false
	a := NewBatchAdapter(&fakeTranscriber{text: "x"}, stage.LanguageEn, stage.STTCallbacks{
		OnTranscript: func(_ stage.SessionId, _ string, _ bool) { called = true },
	})
	if err := a.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.FeedAudio("s1", []byte{1, 2})
	if err := a.Stop("s1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	a.Flush(context.Background(), "s1")
	if called {
		t.Fatal("expected no transcript after Stop discarded the session")
	}
}
