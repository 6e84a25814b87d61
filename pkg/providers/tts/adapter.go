package tts

import (
	"context"
	"sync"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
)

// StreamSynthesizer is LokutorTTS's shape: a single streaming call per
// utterance, voice/lang parameterized, chunk callback delivered
// synchronously as bytes arrive over the websocket.
type StreamSynthesizer interface {
	StreamSynthesize(ctx context.Context, text string, voice stage.Voice, lang stage.Language, onChunk func([]byte) error) error
	Name() string
}

// Adapter bridges a StreamSynthesizer to stage.TTSPort (spec.md §6):
// synthesize/stop plus on_chunk/on_complete/on_error callbacks. Each
// session's synthesis runs on its own cancellable context so Stop can
// request an early halt, matching §5's "TTS stop is a cooperative request
// to the adapter."
type Adapter struct {
	backend StreamSynthesizer
	spk     speaker.Id
	voice   stage.Voice
	lang    stage.Language
	cb      stage.TTSCallbacks

	mu      sync.Mutex
	cancels map[stage.SessionId]context.CancelFunc
}

// NewAdapter binds backend to one agent speaker (host or guest) — the
// spec's TTS port is "per speaker", so each agent gets its own Adapter
// instance wrapping (possibly) the same underlying backend.
func NewAdapter(backend StreamSynthesizer, spk speaker.Id, voice stage.Voice, lang stage.Language, cb stage.TTSCallbacks) *Adapter {
	return &Adapter{
		backend: backend,
		spk:     spk,
		voice:   voice,
		lang:    lang,
		cb:      cb,
		cancels: make(map[stage.SessionId]context.CancelFunc),
	}
}

func (a *Adapter) Name() string { return a.backend.Name() }

// Synthesize starts streaming synthesis for text and blocks until
// complete, the session is stopped, or an error occurs — mirroring the
// teacher's StreamSynthesize call shape. Callers invoke this from its own
// goroutine per spec.md §5 ("invoking external... adapters" is a
// suspension point).
func (a *Adapter) Synthesize(ctx context.Context, sessionID stage.SessionId, text string) error {
	sctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancels[sessionID] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.cancels, sessionID)
		a.mu.Unlock()
		cancel()
	}()

	err := a.backend.StreamSynthesize(sctx, text, a.voice, a.lang, func(chunk []byte) error {
		if a.cb.OnChunk != nil {
			a.cb.OnChunk(sessionID, a.spk, chunk)
		}
		return nil
	})
	if err != nil {
		if a.cb.OnError != nil {
			a.cb.OnError(sessionID, a.spk, err)
		}
		return err
	}
	if a.cb.OnComplete != nil {
		a.cb.OnComplete(sessionID, a.spk)
	}
	return nil
}

// Stop cancels the session's in-flight synthesis context, if any.
func (a *Adapter) Stop(sessionID stage.SessionId) error {
	a.mu.Lock()
	cancel, ok := a.cancels[sessionID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

var _ stage.TTSPort = (*Adapter)(nil)
