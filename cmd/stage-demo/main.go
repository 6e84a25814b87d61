// Command stage-demo is the reference wiring for pkg/stage: a websocket
// server that registers one Orchestrator session per connection, backs
// STT/TTS with real provider adapters, and persists recordings/events per
// episode — grounded on the teacher's cmd/agent/main.go wiring style but
// rewired for the three-party (human, host, guest) orchestrator instead
// of one bot voice.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/lokutor-stage/pkg/providers/eventlog"
	"github.com/lokutor-ai/lokutor-stage/pkg/providers/recorder"
	"github.com/lokutor-ai/lokutor-stage/pkg/providers/stt"
	"github.com/lokutor-ai/lokutor-stage/pkg/providers/tts"
	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
	"github.com/lokutor-ai/lokutor-stage/pkg/stage/zaplogger"
)

// app bundles the collaborators shared across every connection: one
// Orchestrator, one STT backend (adapted to per-session batch buffering),
// and one TTS adapter per agent voice.
type app struct {
	cfg    settings
	orch   *stage.Orchestrator
	logger *zaplogger.Logger

	sttAdapter *stt.BatchAdapter
	ttsHost    *tts.Adapter
	ttsGuest   *tts.Adapter
}

func newApp(cfg settings, sec secrets) (*app, error) {
	logger, err := zaplogger.New()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := stage.NewMetrics(reg)

	orch := stage.New(cfg.stageConfig(), logger, metrics)

	a := &app{cfg: cfg, orch: orch, logger: logger}

	var backend stt.Transcriber
	switch cfg.STTProvider {
	case "deepgram":
		backend = stt.NewDeepgramSTT(sec.deepgramKey)
	case "assemblyai":
		backend = stt.NewAssemblyAISTT(sec.assemblyKey)
	case "openai":
		backend = stt.NewOpenAISTT(sec.openaiKey, "")
	case "groq":
		backend = stt.NewGroqSTT(sec.groqKey, "")
	default:
		backend = stt.NewGroqSTT(sec.groqKey, "")
	}
	a.sttAdapter = stt.NewBatchAdapter(backend, stage.Language(cfg.LLMLanguage), stage.STTCallbacks{
		OnTranscript: func(sessionID stage.SessionId, text string, isFinal bool) {
			if sess, ok := orch.Session(sessionID); ok {
				sess.HandleTranscript(text, isFinal)
			}
		},
		OnError: func(sessionID stage.SessionId, err error) {
			logger.Warn("stt error", "session", sessionID, "err", err)
		},
	})

	lokutor := tts.NewLokutorTTS(sec.lokutorKey)
	a.ttsHost = tts.NewAdapter(lokutor, speaker.Host, stage.VoiceM1, stage.Language(cfg.LLMLanguage), stage.TTSCallbacks{
		OnChunk:    a.onTTSChunk,
		OnComplete: a.onTTSComplete,
		OnError:    a.onTTSError,
	})
	a.ttsGuest = tts.NewAdapter(lokutor, speaker.Guest, stage.VoiceF1, stage.Language(cfg.LLMLanguage), stage.TTSCallbacks{
		OnChunk:    a.onTTSChunk,
		OnComplete: a.onTTSComplete,
		OnError:    a.onTTSError,
	})

	return a, nil
}

func (a *app) onTTSChunk(sessionID stage.SessionId, spk speaker.Id, data []byte) {
	if sess, ok := a.orch.Session(sessionID); ok {
		sess.HandleTTSChunk(spk, data)
	}
}

func (a *app) onTTSComplete(sessionID stage.SessionId, spk speaker.Id) {
	if sess, ok := a.orch.Session(sessionID); ok {
		sess.HandleTTSComplete(spk)
	}
}

func (a *app) onTTSError(sessionID stage.SessionId, spk speaker.Id, err error) {
	if sess, ok := a.orch.Session(sessionID); ok {
		sess.HandleTTSError(spk, err)
	}
	a.logger.Warn("tts error", "session", sessionID, "speaker", spk, "err", err)
}

// feedSTT hands a captured/uploaded audio frame to the STT adapter's
// per-session buffer — the transport-layer responsibility documented in
// pkg/providers/stt/adapter.go since STTPort itself carries no audio-write
// method.
func (a *app) feedSTT(sessionID stage.SessionId, frame []byte) {
	a.sttAdapter.FeedAudio(sessionID, frame)
}

// flushSTT transcribes whatever audio has been buffered for sessionID —
// called on an explicit client.flush-stt control message, standing in for
// a real turn-detector in this reference wiring.
func (a *app) flushSTT(ctx context.Context, sessionID stage.SessionId) {
	a.sttAdapter.Flush(ctx, sessionID)
}

// registerSession builds one episode's RecorderPort/EventLogPort and
// registers a new Session with the Orchestrator.
func (a *app) registerSession(ctx context.Context, sessionID stage.SessionId, pub stage.ClientPublisher) (*stage.Session, error) {
	episodeID := string(sessionID)
	rec := recorder.New(a.cfg.DataDir, episodeID, a.cfg.SampleRate)
	evt := eventlog.New(a.cfg.DataDir, episodeID)

	deps := stage.Deps{
		Publisher: pub,
		STT:       a.sttAdapter,
		TTS: map[speaker.Id]stage.TTSPort{
			speaker.Host:  a.ttsHost,
			speaker.Guest: a.ttsGuest,
		},
		Recorder: rec,
		EventLog: evt,
	}
	return a.orch.Register(ctx, sessionID, episodeID, deps)
}

func main() {
	local := flag.Bool("local", false, "run a single session against the local microphone/speakers instead of serving websockets")
	flag.Parse()

	sec := loadSecrets()
	cfg := loadSettings()

	a, err := newApp(cfg, sec)
	if err != nil {
		fmt.Println("startup failed:", err)
		return
	}

	if *local {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runLocalDemo(ctx, a); err != nil {
			a.logger.Error("local demo failed", "err", err)
		}
		_ = a.logger.Sync()
		return
	}

	mux := newMux(a)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("server error", "err", err)
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownDeadline())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown error", "err", err)
	}
	if err := a.orch.Shutdown(cfg.shutdownDeadline()); err != nil {
		a.logger.Warn("orchestrator shutdown error", "err", err)
	}
	_ = a.logger.Sync()
}
