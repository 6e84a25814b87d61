package stage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-stage/pkg/audioproc"
	"github.com/lokutor-ai/lokutor-stage/pkg/bargein"
	"github.com/lokutor-ai/lokutor-stage/pkg/router"
	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
	"github.com/lokutor-ai/lokutor-stage/pkg/vad"
)

// staticDuckGain is the single static ducking gain applied when the audio
// processor is disabled, per spec.md §4.5: 10^(-12/20) ≈ 0.251.
var staticDuckGain = audioproc.DBToGain(-12)

// Session owns one client connection's lifecycle (spec.md §4.5): it wires
// VAD, command router, audio processor, and barge-in manager together and
// projects their outputs to the client.
//
// Grounded directly on the teacher's ManagedStream (pkg/orchestrator/managed_stream.go):
// a per-session mutex guarding mutable state, provider handles referenced
// not owned, NewWithLogger-style construction.
type Session struct {
	mu sync.Mutex

	orch      *Orchestrator
	id        SessionId
	episodeID string
	cfg       Config
	logger    Logger
	deps      Deps

	ctx    context.Context
	cancel context.CancelFunc

	vad       *vad.EnhancedVAD
	router    *router.Router
	audioProc *audioproc.MultiChannel
	bargeIn   *bargein.Manager

	humanSpeaking bool
	duckingActive bool
	activeAgents  map[speaker.Id]bool

	orbStates  map[speaker.Id]OrbState
	orbRestore map[speaker.Id]OrbState

	captions       []Caption // newest first, capped at captionHistoryCap
	pendingTargets []speaker.Id
	autopilot      bool
}

func newSession(ctx context.Context, orch *Orchestrator, id SessionId, episodeID string, cfg Config, logger Logger, deps Deps) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		orch:         orch,
		id:           id,
		episodeID:    episodeID,
		cfg:          cfg,
		logger:       logger,
		deps:         deps,
		ctx:          sctx,
		cancel:       cancel,
		router:       router.New(router.DefaultKeywords()),
		activeAgents: make(map[speaker.Id]bool),
		orbStates: map[speaker.Id]OrbState{
			speaker.Human: OrbListening,
			speaker.Host:  OrbListening,
			speaker.Guest: OrbListening,
		},
	}

	s.vad = vad.New(vad.Config{SampleRate: cfg.SampleRate, FrameMs: cfg.FrameMs})

	if cfg.EnhancedFeaturesEnabled {
		s.audioProc = audioproc.NewMultiChannel(audioproc.DefaultConfig())
		s.bargeIn = bargein.New(bargein.DefaultConfig(), bargein.Callbacks{
			OnBargeInStart: func(interrupter speaker.Id, interrupted []speaker.Id) {
				s.logEvent("bargein.start", map[string]interface{}{"interrupter": interrupter, "interrupted": interrupted})
				if m := s.metrics(); m != nil {
					m.BargeInStarts.Inc()
				}
			},
			OnBargeInComplete: s.onBargeInComplete,
			OnBargeInCancelled: func(interrupter speaker.Id) {
				s.logEvent("bargein.cancelled", map[string]interface{}{"interrupter": interrupter})
				if m := s.metrics(); m != nil {
					m.BargeInCancelled.Inc()
				}
			},
			OnDuckingRequest: s.onDuckingRequest,
		})
	}

	return s
}

// HandleAudioChunk implements spec.md §4.5's "On audio.chunk": feed VAD,
// write to the recorder's human track, and (see the stt.BatchAdapter doc
// in pkg/providers/stt/adapter.go) rely on the STT adapter to ingest audio
// through its own channel, since STTPort (spec.md §6) carries only start/stop/callbacks,
// no audio-write method.
func (s *Session) HandleAudioChunk(frame []byte) {
	if len(frame) == 0 {
		s.logEvent("audio.malformed", nil)
		return
	}
	evt := s.vad.Process(frame)

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.WriteAudio(speaker.Human, frame); err != nil {
			s.logger.Warn("recorder write failed", "session", s.id, "err", err)
		}
	}

	if evt == nil {
		return
	}
	switch evt.Type {
	case vad.SpeechStart:
		s.onHumanSpeechStart(evt.Confidence)
	case vad.SpeechEnd:
		s.onHumanSpeechEnd(evt.Confidence)
	}
}

// onHumanSpeechStart implements spec.md §4.5's VAD speech-start handler.
// When the barge-in manager is active, the decision to stop an agent's
// audio (immediate vs graceful vs sentence-complete) is delegated to it
// via its callbacks (wired in newSession); otherwise this method performs
// the basic, always-immediate interruption the spec describes directly.
func (s *Session) onHumanSpeechStart(confidence float64) {
	s.mu.Lock()
	if s.humanSpeaking {
		s.mu.Unlock()
		return
	}
	s.humanSpeaking = true
	s.duckingActive = true
	s.orbRestore = make(map[speaker.Id]OrbState, len(s.orbStates))
	for k, v := range s.orbStates {
		s.orbRestore[k] = v
	}
	s.orbStates[speaker.Human] = OrbSpeaking
	s.orbStates[speaker.Host] = OrbMuted
	s.orbStates[speaker.Guest] = OrbMuted

	var toStop []speaker.Id
	enhanced := s.bargeIn != nil
	if !enhanced {
		for id := range s.activeAgents {
			toStop = append(toStop, id)
			delete(s.activeAgents, id)
		}
	}
	s.mu.Unlock()

	s.logEvent("vad.speech_start", map[string]interface{}{"confidence": confidence})
	if m := s.metrics(); m != nil {
		m.VADSpeechStarts.WithLabelValues(string(s.id)).Inc()
		m.VADConfidence.WithLabelValues(string(s.id)).Set(confidence)
	}
	s.publishOrb(speaker.Human, OrbSpeaking)
	s.publishOrb(speaker.Host, OrbMuted)
	s.publishOrb(speaker.Guest, OrbMuted)

	if enhanced {
		s.bargeIn.OnSpeechStart(speaker.Human, confidence)
		return
	}
	for _, id := range toStop {
		if tts, ok := s.deps.TTS[id]; ok && tts != nil {
			_ = tts.Stop(s.id)
		}
		s.logEvent("barge_in", map[string]interface{}{"interrupter": speaker.Human, "interrupted": id})
	}
}

// onHumanSpeechEnd implements spec.md §4.5's VAD speech-end handler.
func (s *Session) onHumanSpeechEnd(confidence float64) {
	s.mu.Lock()
	if !s.humanSpeaking {
		s.mu.Unlock()
		return
	}
	s.humanSpeaking = false
	s.duckingActive = false
	restore := s.orbRestore
	s.orbRestore = nil
	s.orbStates[speaker.Human] = OrbListening
	for _, id := range speaker.Agents() {
		if st, ok := restore[id]; ok {
			s.orbStates[id] = st
		} else {
			s.orbStates[id] = OrbListening
		}
	}
	enhanced := s.bargeIn != nil
	s.mu.Unlock()

	s.logEvent("vad.speech_end", map[string]interface{}{"confidence": confidence})
	if m := s.metrics(); m != nil {
		m.VADSpeechEnds.WithLabelValues(string(s.id)).Inc()
		m.VADConfidence.WithLabelValues(string(s.id)).Set(confidence)
	}
	s.publishOrb(speaker.Human, OrbListening)
	for _, id := range speaker.Agents() {
		s.publishOrb(id, s.orbState(id))
	}

	if enhanced {
		s.bargeIn.OnSpeechEnd(speaker.Human, confidence)
	}
}

// HandleTranscript implements spec.md §4.5's "On finalized STT transcript".
// Interim (non-final) transcripts are ignored; the core has no partial
// caption concept.
func (s *Session) HandleTranscript(text string, isFinal bool) {
	if !isFinal {
		return
	}

	c := Caption{
		Id:          uuid.NewString(),
		Speaker:     speaker.Human,
		Text:        text,
		TimestampMs: time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.captions = append([]Caption{c}, s.captions...)
	if len(s.captions) > captionHistoryCap {
		s.captions = s.captions[:captionHistoryCap]
	}
	s.orbStates[speaker.Human] = OrbListening
	s.mu.Unlock()

	if s.deps.Publisher != nil {
		_ = s.deps.Publisher.Caption(s.id, c)
	}
	if s.deps.Recorder != nil {
		_ = s.deps.Recorder.AddCaption(speaker.Human, text)
	}
	s.logEvent("stt.transcript", map[string]interface{}{"text": text})
	s.publishOrb(speaker.Human, OrbListening)

	d := s.router.Route(text)
	if d == nil {
		return
	}
	s.applyCommand(d)
}

// applyCommand implements spec.md §4.5's "Applying a command" for each of
// the router's five action kinds.
func (s *Session) applyCommand(d *router.Decision) {
	switch d.Action {
	case router.ActionThinking:
		target := speaker.Host
		if len(d.Targets) > 0 {
			target = d.Targets[0]
		}
		s.orch.enterThinking(s, target, int64(d.DurationMs))
		s.logEvent("command.thinking", map[string]interface{}{"target": target, "durationMs": d.DurationMs})

	case router.ActionAddress:
		s.mu.Lock()
		s.pendingTargets = d.Targets
		s.mu.Unlock()
		if s.deps.Publisher != nil {
			_ = s.deps.Publisher.ServerAck(s.id, fmt.Sprintf("addressed: %v", d.Targets))
		}
		s.logEvent("command.address", map[string]interface{}{"targets": d.Targets})

	case router.ActionBroadcast:
		s.mu.Lock()
		s.pendingTargets = nil
		s.mu.Unlock()
		s.logEvent("command.broadcast", map[string]interface{}{"remainder": d.Remainder})

	case router.ActionBargeInControl:
		s.mu.Lock()
		s.pendingTargets = nil
		s.mu.Unlock()
		s.logEvent("command.barge_in_control", map[string]interface{}{"confidence": d.Confidence})
		s.forceInterruptActive(d.Confidence)

	case router.ActionDuckingControl:
		s.mu.Lock()
		s.pendingTargets = nil
		targets := s.activeAgentKeys()
		s.mu.Unlock()
		s.logEvent("command.ducking_control", map[string]interface{}{"confidence": d.Confidence})
		if s.audioProc != nil && len(targets) > 0 {
			s.audioProc.StartDucking(targets, false)
		}
	}
}

// forceInterruptActive treats a spoken barge-in-control command ("stop",
// "quiet", "mute everyone", ...) as a human-authorized interruption of
// every currently active agent. With a barge-in manager it is delivered as
// a human speech-start, so the manager's mode (graceful by default)
// decides when the interruption takes effect; without one, every active
// agent is stopped at once.
func (s *Session) forceInterruptActive(confidence float64) {
	if s.bargeIn != nil {
		s.bargeIn.OnSpeechStart(speaker.Human, confidence)
		return
	}
	s.mu.Lock()
	var toStop []speaker.Id
	for id := range s.activeAgents {
		toStop = append(toStop, id)
		delete(s.activeAgents, id)
	}
	s.mu.Unlock()
	for _, id := range toStop {
		if tts, ok := s.deps.TTS[id]; ok && tts != nil {
			_ = tts.Stop(s.id)
		}
		s.publishOrb(id, OrbMuted)
	}
}

func (s *Session) onBargeInComplete(interrupter speaker.Id, interrupted []speaker.Id) {
	for _, t := range interrupted {
		if tts, ok := s.deps.TTS[t]; ok && tts != nil {
			_ = tts.Stop(s.id)
		}
		s.mu.Lock()
		delete(s.activeAgents, t)
		s.orbStates[t] = OrbMuted
		s.mu.Unlock()
		s.publishOrb(t, OrbMuted)
	}
	s.logEvent("bargein.complete", map[string]interface{}{"interrupter": interrupter, "interrupted": interrupted})
	if m := s.metrics(); m != nil {
		for _, t := range interrupted {
			m.BargeInCompletes.WithLabelValues(string(t)).Inc()
		}
	}
}

func (s *Session) onDuckingRequest(targets []speaker.Id, active bool) {
	s.mu.Lock()
	s.duckingActive = active
	s.mu.Unlock()
	if m := s.metrics(); m != nil {
		m.ObserveDucking(targets, active)
	}
	if s.audioProc == nil {
		return
	}
	keys := toSpeakerKeys(targets)
	if active {
		s.audioProc.StartDucking(keys, false)
	} else {
		s.audioProc.StopDucking(keys, false)
	}
}

func (s *Session) metrics() *Metrics {
	if s.orch == nil {
		return nil
	}
	return s.orch.metrics
}

// HandleTTSChunk implements spec.md §4.5's "On TTS chunk from an agent".
func (s *Session) HandleTTSChunk(spk speaker.Id, data []byte) {
	s.mu.Lock()
	var processed []byte
	switch {
	case s.audioProc != nil:
		processed = s.audioProc.Process(audioproc.SpeakerKey(spk), data)
	case s.duckingActive:
		processed = applyStaticGain(data, staticDuckGain)
	default:
		processed = data
	}
	wasActive := s.activeAgents[spk]
	if !wasActive {
		s.activeAgents[spk] = true
	}
	s.mu.Unlock()

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.WriteAudio(spk, processed); err != nil {
			s.logger.Warn("recorder write failed", "session", s.id, "speaker", spk, "err", err)
		}
	}

	if !wasActive {
		s.logEvent("tts.start", map[string]interface{}{"speaker": spk})
		s.setOrb(spk, OrbSpeaking)
		if s.bargeIn != nil {
			s.bargeIn.OnSpeechStart(spk, 0.9)
		}
	}
	s.logEvent("tts.chunk", map[string]interface{}{"speaker": spk, "bytes": len(data)})
	if s.deps.Publisher != nil {
		_ = s.deps.Publisher.AudioChunk(s.id, spk, processed)
	}
}

// HandleTTSComplete implements spec.md §4.5's "On TTS complete".
func (s *Session) HandleTTSComplete(spk speaker.Id) {
	s.mu.Lock()
	delete(s.activeAgents, spk)
	humanSpeaking := s.humanSpeaking
	s.mu.Unlock()

	s.logEvent("tts.complete", map[string]interface{}{"speaker": spk})
	if s.bargeIn != nil {
		s.bargeIn.OnSpeechEnd(spk, 0.9)
	}
	if !humanSpeaking {
		s.setOrb(spk, OrbListening)
	}
}

// HandleTTSError implements spec.md §4.5's "On TTS error": same orb
// policy as complete.
func (s *Session) HandleTTSError(spk speaker.Id, err error) {
	s.mu.Lock()
	delete(s.activeAgents, spk)
	humanSpeaking := s.humanSpeaking
	s.mu.Unlock()

	s.logEvent("tts.error", map[string]interface{}{"speaker": spk, "err": err.Error()})
	s.logger.Warn("tts adapter error", "session", s.id, "speaker", spk, "err", err)
	if s.deps.Publisher != nil {
		_ = s.deps.Publisher.ServerAck(s.id, fmt.Sprintf("error: %s voice unavailable", spk))
	}
	if !humanSpeaking {
		s.setOrb(spk, OrbListening)
	}
}

// ToggleAutopilot implements spec.md §4.5's "On client.toggle-autopilot".
func (s *Session) ToggleAutopilot(v bool) {
	s.mu.Lock()
	s.autopilot = v
	s.mu.Unlock()
	s.logEvent("autopilot.toggle", map[string]interface{}{"value": v})
	if s.deps.Publisher != nil {
		_ = s.deps.Publisher.ServerAck(s.id, "autopilot toggled")
		_ = s.deps.Publisher.StateSnapshot(s.id, s.snapshot())
	}
}

// RequestState implements spec.md §4.5's "On client.request-state".
func (s *Session) RequestState() {
	if s.deps.Publisher != nil {
		_ = s.deps.Publisher.StateSnapshot(s.id, s.snapshot())
	}
}

// snapshot implements spec.md §4.5's "Snapshot = {orb_states, captions
// (latest 6), autopilot, shared_screen}".
func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	orbs := make(map[speaker.Id]OrbState, len(s.orbStates))
	for k, v := range s.orbStates {
		orbs[k] = v
	}
	n := len(s.captions)
	if n > captionSnapshotCap {
		n = captionSnapshotCap
	}
	captions := make([]Caption, n)
	copy(captions, s.captions[:n])

	return Snapshot{
		OrbStates:    orbs,
		Captions:     captions,
		Autopilot:    s.autopilot,
		SharedScreen: s.orch.currentSharedScreen(),
	}
}

// teardown implements the per-session half of spec.md §4.5's disconnect
// sequence.
func (s *Session) teardown() ([]string, error) {
	s.cancel()

	var files []string
	var err error
	if s.deps.Recorder != nil {
		files, err = s.deps.Recorder.Stop()
	}
	if s.deps.STT != nil {
		_ = s.deps.STT.Stop(s.id)
	}
	s.logEvent("session.end", nil)
	if s.deps.EventLog != nil {
		if stopErr := s.deps.EventLog.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return files, err
}

func (s *Session) logEvent(kind string, fields map[string]interface{}) {
	if s.deps.EventLog == nil {
		return
	}
	event := map[string]interface{}{
		"type":      kind,
		"sessionId": string(s.id),
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range fields {
		event[k] = v
	}
	if err := s.deps.EventLog.Log(event); err != nil {
		s.logger.Warn("event log write failed", "session", s.id, "err", err)
	}
}

func (s *Session) setOrb(spk speaker.Id, state OrbState) {
	s.mu.Lock()
	s.orbStates[spk] = state
	s.mu.Unlock()
	s.publishOrb(spk, state)
}

func (s *Session) orbState(spk speaker.Id) OrbState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orbStates[spk]
}

func (s *Session) publishOrb(spk speaker.Id, state OrbState) {
	if s.deps.Publisher != nil {
		_ = s.deps.Publisher.OrbStateChanged(s.id, spk, state)
	}
}

// activeAgentKeys must be called with s.mu held.
func (s *Session) activeAgentKeys() []audioproc.SpeakerKey {
	out := make([]audioproc.SpeakerKey, 0, len(s.activeAgents))
	for id := range s.activeAgents {
		out = append(out, audioproc.SpeakerKey(id))
	}
	return out
}

func toSpeakerKeys(ids []speaker.Id) []audioproc.SpeakerKey {
	out := make([]audioproc.SpeakerKey, len(ids))
	for i, id := range ids {
		out[i] = audioproc.SpeakerKey(id)
	}
	return out
}

// applyStaticGain applies a fixed linear gain to 16-bit PCM, saturating at
// the int16 range; used for the non-enhanced ducking fallback (spec.md
// §4.5: "otherwise apply a single static ducking gain... else pass
// through").
func applyStaticGain(buffer []byte, gain float64) []byte {
	out := make([]byte, len(buffer))
	n := len(buffer) / 2
	for i := 0; i < n; i++ {
		sample := int16(buffer[2*i]) | int16(buffer[2*i+1])<<8
		scaled := math.Round(float64(sample) * gain)
		if scaled < -32768 {
			scaled = -32768
		}
		if scaled > 32767 {
			scaled = 32767
		}
		v := int16(scaled)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	if len(buffer)%2 == 1 {
		out[len(out)-1] = buffer[len(buffer)-1]
	}
	return out
}
