package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

// Orchestrator owns the process-wide session map, the process-scoped
// thinking timer, and the shared-screen value — the only process-wide
// state per spec.md §5. Mutated only while holding mu, a single-writer
// discipline.
//
// Grounded on the teacher's Orchestrator (pkg/orchestrator/orchestrator.go):
// mutex-guarded fields, New/NewWithLogger constructors, provider fields
// referenced not owned.
type Orchestrator struct {
	mu sync.Mutex

	cfg     Config
	logger  Logger
	metrics *Metrics

	sessions map[SessionId]*Session

	thinkingTimer *time.Timer
	sharedScreen  SharedScreen
}

// New constructs an Orchestrator. A nil logger defaults to NoOpLogger, per
// the teacher's New/NewWithLogger pattern. metrics may be nil, in which
// case Prometheus observation is skipped entirely.
func New(cfg Config, logger Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		sessions:     make(map[SessionId]*Session),
		sharedScreen: SharedScreen{Kind: SharedScreenConversation},
	}
}

// Deps bundles the external collaborators a new Session needs, all
// referenced not owned per spec.md §3 Ownership. The recorder and event
// log are constructed by the caller per connection since each episode gets
// its own recorder/event-log subtree (spec.md §6); STT/TTS adapters may be
// shared across sessions (cmd/stage-demo builds them once). STTCb is not
// read by Register or Session.
type Deps struct {
	Publisher ClientPublisher
	STT       STTPort
	STTCb     STTCallbacks
	TTS       map[speaker.Id]TTSPort // keyed by speaker.Host / speaker.Guest
	Recorder  RecorderPort
	EventLog  EventLogPort
}

// Register implements spec.md §4.5's "On connect (register(socket))"
// sequence. It returns ErrSessionAlreadyRegistered if sessionID is already
// live.
func (o *Orchestrator) Register(ctx context.Context, sessionID SessionId, episodeID string, deps Deps) (*Session, error) {
	o.mu.Lock()
	if _, exists := o.sessions[sessionID]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyRegistered, sessionID)
	}
	o.mu.Unlock()

	if episodeID == "" {
		episodeID = newEpisodeID()
	}

	s := newSession(ctx, o, sessionID, episodeID, o.cfg, o.logger, deps)

	if deps.EventLog != nil {
		if err := deps.EventLog.Start(); err != nil {
			o.logger.Warn("event log start failed", "session", sessionID, "err", err)
		} else {
			s.logEvent("session.start", nil)
		}
	}
	if deps.Recorder != nil {
		if err := deps.Recorder.Start(); err != nil {
			o.logger.Warn("recorder start failed", "session", sessionID, "err", err)
		}
	}
	if deps.STT != nil {
		if err := deps.STT.Start(ctx, sessionID); err != nil {
			o.logger.Warn("stt start failed", "session", sessionID, "err", err)
		}
	}

	o.mu.Lock()
	o.sessions[sessionID] = s
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.ActiveSessions.Inc()
	}

	if deps.Publisher != nil {
		_ = deps.Publisher.ServerAck(sessionID, "connected")
		_ = deps.Publisher.StateSnapshot(sessionID, s.snapshot())
	}

	return s, nil
}

// Disconnect implements spec.md §4.5's disconnect sequence: stop the
// recorder, collect its files, emit recording.ready, stop the event
// writer, and remove the session from the map.
func (o *Orchestrator) Disconnect(sessionID SessionId) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(o.sessions, sessionID)
	isLast := len(o.sessions) == 0
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.ActiveSessions.Dec()
	}

	files, err := s.teardown()
	if err != nil {
		o.logger.Warn("session teardown error", "session", sessionID, "err", err)
	}
	if s.deps.Publisher != nil && len(files) > 0 {
		_ = s.deps.Publisher.RecordingReady(sessionID, s.episodeID, files)
	}

	if isLast {
		o.mu.Lock()
		if o.thinkingTimer != nil {
			o.thinkingTimer.Stop()
			o.thinkingTimer = nil
		}
		o.sharedScreen = SharedScreen{Kind: SharedScreenConversation}
		o.mu.Unlock()
	}
	return nil
}

// Shutdown performs the disconnect sequence for every session, bounded by
// deadline. A non-nil return is exit-code-worthy per spec.md §4.5
// ("bounded by a shutdown deadline; exceeding it is a hard error").
func (o *Orchestrator) Shutdown(deadline time.Duration) error {
	o.mu.Lock()
	ids := make([]SessionId, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, id := range ids {
			_ = o.Disconnect(id)
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(deadline):
		return fmt.Errorf("shutdown exceeded deadline of %s", deadline)
	}
}

// Session looks up a live session by id, for wiring adapter callbacks
// (STT/TTS) that are constructed once and shared across sessions but
// dispatch per sessionID.
func (o *Orchestrator) Session(id SessionId) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	return s, ok
}

// sessionList returns every live session; used for the thinking-mode
// broadcast (spec.md §4.5: "Broadcast mode.thinking and shared-screen.state
// to every session").
func (o *Orchestrator) sessionList() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

// enterThinking implements the process-scoped half of the "thinking"
// command effect described in spec.md §4.5 and §9 ("Thinking-mode enter
// and exit are total-ordered across sessions; only one Thinking is active
// at a time per orchestrator"). The triggering session's own orb states
// are updated here (Session owns its agents' orb snapshot per spec.md
// §3); the broadcast to other sessions is purely the shared-screen and
// mode notification, not a cross-session orb mutation.
func (o *Orchestrator) enterThinking(origin *Session, target speaker.Id, durationMs int64) {
	now := time.Now()
	endsAt := now.Add(time.Duration(durationMs) * time.Millisecond)

	o.mu.Lock()
	if o.thinkingTimer != nil {
		o.thinkingTimer.Stop()
	}
	o.sharedScreen = SharedScreen{
		Kind:       SharedScreenThinking,
		Speaker:    target,
		DurationMs: durationMs,
		StartedAt:  now.UnixMilli(),
		EndsAt:     endsAt.UnixMilli(),
	}
	snap := o.sharedScreen
	startedAt := snap.StartedAt
	o.thinkingTimer = time.AfterFunc(time.Duration(durationMs)*time.Millisecond, func() {
		o.exitThinking(startedAt)
	})
	o.mu.Unlock()

	o.broadcastThinking(target, durationMs, now.UnixMilli(), snap)

	origin.mu.Lock()
	origin.orbStates[target] = OrbThinking
	for _, other := range speaker.Agents() {
		if other != target {
			origin.orbStates[other] = OrbMuted
		}
	}
	origin.mu.Unlock()
}

func (o *Orchestrator) broadcastThinking(target speaker.Id, durationMs, startedAt int64, snap SharedScreen) {
	for _, s := range o.sessionList() {
		if s.deps.Publisher == nil {
			continue
		}
		_ = s.deps.Publisher.ModeThinking(s.id, target, durationMs, startedAt)
		_ = s.deps.Publisher.SharedScreenState(s.id, snap)
	}
}

// exitThinking fires when the timer expires; it is a no-op if the shared
// screen already moved on (startedAt mismatch), guarding against a stale
// timer racing a newer "thinking" command.
func (o *Orchestrator) exitThinking(expectedStartedAt int64) {
	o.mu.Lock()
	if o.sharedScreen.Kind != SharedScreenThinking || o.sharedScreen.StartedAt != expectedStartedAt {
		o.mu.Unlock()
		return
	}
	endedSpeaker := o.sharedScreen.Speaker
	o.sharedScreen = SharedScreen{Kind: SharedScreenConversation}
	o.thinkingTimer = nil
	snap := o.sharedScreen
	endedAt := time.Now().UnixMilli()
	o.mu.Unlock()

	for _, s := range o.sessionList() {
		s.mu.Lock()
		s.orbStates[speaker.Host] = OrbListening
		s.orbStates[speaker.Guest] = OrbListening
		s.mu.Unlock()
		if s.deps.Publisher == nil {
			continue
		}
		_ = s.deps.Publisher.ModeNormal(s.id, endedSpeaker, endedAt)
		_ = s.deps.Publisher.SharedScreenState(s.id, snap)
	}
}

func (o *Orchestrator) currentSharedScreen() SharedScreen {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sharedScreen
}

// newEpisodeID mints an episode identifier via google/uuid, matching the
// identifier convention used across the rest of the example pack.
func newEpisodeID() string {
	return uuid.NewString()
}
