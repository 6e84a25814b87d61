package stt

import (
	"context"
	"strings"
	"sync"

	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
)

// Transcriber is the shared shape of every batch STT backend in this
// package (Deepgram, AssemblyAI, OpenAI, Groq): request/response over a
// full audio buffer, not a streaming protocol.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPCM []byte, lang stage.Language) (string, error)
	Name() string
}

// BatchAdapter bridges a request/response Transcriber to stage.STTPort's
// start/stop/callback shape (spec.md §6). Since STTPort carries no
// audio-write method (the spec's port list is exactly start/stop plus
// callbacks), audio is handed to the adapter out-of-band via FeedAudio —
// a transport-layer concern (cmd/stage-demo), not something stage.Session
// calls. FeedAudio buffers per session; Flush (called by the transport
// layer when it decides an utterance is over — cmd/stage-demo does so on a
// client.flush-stt control message) transcribes the buffered audio and
// invokes OnTranscript with isFinal=true.
type BatchAdapter struct {
	backend Transcriber
	lang    stage.Language

	mu      sync.Mutex
	buffers map[stage.SessionId][]byte
	active  map[stage.SessionId]bool

	cb stage.STTCallbacks
}

// NewBatchAdapter wraps backend with the given callback set.
func NewBatchAdapter(backend Transcriber, lang stage.Language, cb stage.STTCallbacks) *BatchAdapter {
	return &BatchAdapter{
		backend: backend,
		lang:    lang,
		buffers: make(map[stage.SessionId][]byte),
		active:  make(map[stage.SessionId]bool),
		cb:      cb,
	}
}

func (a *BatchAdapter) Name() string { return a.backend.Name() }

// Start marks a session active and clears any stale buffer.
func (a *BatchAdapter) Start(_ context.Context, sessionID stage.SessionId) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[sessionID] = true
	a.buffers[sessionID] = nil
	return nil
}

// Stop marks a session inactive and discards its buffer.
func (a *BatchAdapter) Stop(sessionID stage.SessionId) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, sessionID)
	delete(a.buffers, sessionID)
	return nil
}

// FeedAudio appends PCM to the session's buffer. A no-op if the session
// was never started.
func (a *BatchAdapter) FeedAudio(sessionID stage.SessionId, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active[sessionID] {
		return
	}
	a.buffers[sessionID] = append(a.buffers[sessionID], data...)
}

// Flush transcribes the session's buffered audio and invokes the
// registered OnTranscript/OnError callback. The buffer is cleared
// regardless of outcome.
func (a *BatchAdapter) Flush(ctx context.Context, sessionID stage.SessionId) {
	a.mu.Lock()
	buf := a.buffers[sessionID]
	a.buffers[sessionID] = nil
	active := a.active[sessionID]
	a.mu.Unlock()

	if !active || len(buf) == 0 {
		return
	}

	text, err := a.backend.Transcribe(ctx, buf, a.lang)
	if err != nil {
		if a.cb.OnError != nil {
			a.cb.OnError(sessionID, err)
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if a.cb.OnTranscript != nil {
		a.cb.OnTranscript(sessionID, text, true)
	}
}

var _ stage.STTPort = (*BatchAdapter)(nil)
