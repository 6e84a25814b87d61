// Package stage implements spec.md §4.5: the Orchestrator/Session pair
// that wires VAD, command router, audio processor, and barge-in manager
// together, and projects their outputs to clients as orb states,
// captions, thinking-mode transitions, shared-screen state, and recording
// readiness.
//
// Grounded directly on the teacher's ManagedStream + Orchestrator
// (pkg/orchestrator/{managed_stream,orchestrator}.go): per-session
// mutex-guarded state, provider fields referenced not owned,
// `NewWithLogger`-style constructors, Config/DefaultConfig. Events reach
// clients through direct, synchronous calls on the ClientPublisher port.
package stage

import (
	"context"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

// Logger is the teacher's four-method logging contract
// (pkg/orchestrator/types.go), kept unchanged so every component logs
// through the same narrow interface; see pkg/stage/zaplogger for the
// production implementation backed by go.uber.org/zap.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; used as a constructor default.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}

// Voice and Language are peripheral parameters for the kept STT/TTS
// adapters (pkg/providers/*) — the core never inspects them (spec.md §1
// non-goal: "no synthesis or transcription logic of its own").
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// OrbState is the per-speaker presentation state, per spec.md §3.
type OrbState string

const (
	OrbIdle      OrbState = "idle"
	OrbListening OrbState = "listening"
	OrbThinking  OrbState = "thinking"
	OrbSpeaking  OrbState = "speaking"
	OrbMuted     OrbState = "muted"
	OrbError     OrbState = "error"
)

// SessionId is opaque, bound to one transport connection (spec.md §3).
type SessionId string

// Caption is produced on a finalized STT transcript (spec.md §3).
type Caption struct {
	Id          string       `json:"id"`
	Speaker     speaker.Id   `json:"speaker"`
	Text        string       `json:"text"`
	TimestampMs int64        `json:"timestampMs"`
}

const (
	captionHistoryCap  = 20
	captionSnapshotCap = 6
)

// SharedScreenKind distinguishes the two SharedScreen variants.
type SharedScreenKind string

const (
	SharedScreenConversation SharedScreenKind = "conversation"
	SharedScreenThinking     SharedScreenKind = "thinking"
)

// SharedScreen is the tagged union of spec.md §3. At most one instance
// per session exists; globally at most one Thinking is active at a time
// per Orchestrator.
type SharedScreen struct {
	Kind       SharedScreenKind `json:"kind"`
	Speaker    speaker.Id       `json:"speaker,omitempty"`
	DurationMs int64            `json:"durationMs,omitempty"`
	StartedAt  int64            `json:"startedAt,omitempty"`
	EndsAt     int64            `json:"endsAt,omitempty"`
}

// STTPort is the external speech-to-text collaborator (spec.md §6).
type STTPort interface {
	Start(ctx context.Context, sessionID SessionId) error
	Stop(sessionID SessionId) error
	Name() string
}

// STTCallbacks are invoked by an STTPort implementation as transcripts and
// errors arrive; the caller supplies them when it constructs that
// implementation (cmd/stage-demo passes them to stt.NewBatchAdapter).
// Session does not register or read them.
type STTCallbacks struct {
	OnTranscript func(sessionID SessionId, text string, isFinal bool)
	OnError      func(sessionID SessionId, err error)
}

// TTSPort is the external text-to-speech collaborator for one agent voice
// (spec.md §6). The core holds one TTSPort per agent (host, guest).
type TTSPort interface {
	Synthesize(ctx context.Context, sessionID SessionId, text string) error
	Stop(sessionID SessionId) error
	Name() string
}

// TTSCallbacks mirror spec.md §6's "callbacks on_chunk/on_complete/on_error".
type TTSCallbacks struct {
	OnChunk    func(sessionID SessionId, spk speaker.Id, data []byte)
	OnComplete func(sessionID SessionId, spk speaker.Id)
	OnError    func(sessionID SessionId, spk speaker.Id, err error)
}

// RecorderPort persists per-track audio and captions (spec.md §6).
type RecorderPort interface {
	Start() error
	WriteAudio(spk speaker.Id, data []byte) error
	AddCaption(spk speaker.Id, text string) error
	Stop() ([]string, error)
}

// EventLogPort is the append-only event log (spec.md §6).
type EventLogPort interface {
	Start() error
	Log(event map[string]interface{}) error
	Stop() error
}

// ClientPublisher carries the Server->Client catalog of spec.md §6. The
// core calls it; it never owns the transport. cmd/stage-demo wires a
// concrete websocket implementation.
type ClientPublisher interface {
	OrbStateChanged(sessionID SessionId, spk speaker.Id, state OrbState) error
	Caption(sessionID SessionId, c Caption) error
	ModeThinking(sessionID SessionId, spk speaker.Id, durationMs, startedAt int64) error
	ModeNormal(sessionID SessionId, spk speaker.Id, endedAt int64) error
	SharedScreenState(sessionID SessionId, s SharedScreen) error
	RecordingReady(sessionID SessionId, episodeID string, files []string) error
	ServerAck(sessionID SessionId, message string) error
	StateSnapshot(sessionID SessionId, snap Snapshot) error
	// AudioChunk streams one agent's processed PCM to the client (spec.md
	// §4.5 "Stream to client" on tts.chunk). Not part of spec.md §6's named
	// message catalog table, which lists only the control-plane events;
	// the audio data-plane message is implied by "stream to client" and
	// needed for the port to be complete.
	AudioChunk(sessionID SessionId, spk speaker.Id, data []byte) error
}

// Snapshot is the full presentation-state payload of spec.md §4.5's
// "Snapshot = {orb_states, captions (latest 6), autopilot, shared_screen}".
type Snapshot struct {
	OrbStates    map[speaker.Id]OrbState `json:"orbStates"`
	Captions     []Caption               `json:"captions"`
	Autopilot    bool                    `json:"autopilot"`
	SharedScreen SharedScreen            `json:"sharedScreen"`
}

// Config tunes a Session's sample rate and frame size and which optional
// features are enabled. It carries no VAD, ducking or barge-in tunables:
// a Session builds its VAD from SampleRate/FrameMs only and its audio
// processor and barge-in manager from their packages' DefaultConfig.
// Mirrors the teacher's
// Config/DefaultConfig (pkg/orchestrator/types.go) generalized from one
// bot voice to the host/guest pair.
type Config struct {
	SampleRate   int
	FrameMs      int
	Channels     int
	BytesPerSamp int

	EnhancedFeaturesEnabled bool // audio processor + barge-in manager
	EnableSTT               bool
	EnableTTS               bool

	ShutdownDeadlineSeconds int

	STTTimeoutSeconds uint
	TTSTimeoutSeconds uint
}

// DefaultConfig mirrors spec.md's audio framing defaults (48kHz, 20ms
// frames, mono 16-bit) and the teacher's timeouts/shutdown style.
func DefaultConfig() Config {
	return Config{
		SampleRate:              48000,
		FrameMs:                 20,
		Channels:                1,
		BytesPerSamp:            2,
		EnhancedFeaturesEnabled: true,
		EnableSTT:               true,
		EnableTTS:               true,
		ShutdownDeadlineSeconds: 30,
		STTTimeoutSeconds:       30,
		TTSTimeoutSeconds:       30,
	}
}
