// Package bargein implements the barge-in state machine of spec.md §4.4:
// mediating overlapping speech between the three parties with grace
// periods, priorities, and ducking coordination.
//
// Grounded on the teacher's ManagedStream.internalInterrupt/Write
// interruption logic (pkg/orchestrator/managed_stream.go) — the
// cancel-under-lock-then-act-outside-lock discipline — and the bounded
// event-history pattern from EchoSuppressor's bounded playedAudioBuf.
// Generalized from "always interrupt" to the full
// immediate/graceful/sentence_complete/disabled mode matrix with timers.
package bargein

import (
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

// Mode selects how an interruption takes effect.
type Mode int

const (
	Graceful Mode = iota // default
	Immediate
	SentenceComplete
	Disabled
)

// Priority is the interrupting authority of a speaker, per spec.md §3.
// The human is fixed at PriorityHuman (100); SetPriority cannot change it,
// and on speech-start human authorization short-circuits.
type Priority int

const (
	PriorityLow    Priority = 25
	PriorityMedium Priority = 50
	PriorityHigh   Priority = 75
	PriorityHuman  Priority = 100
)

const (
	defaultGracePeriodMs         = 300
	defaultSentenceCompletionMax = 2000
	defaultDuckingLeadTimeMs     = 150
	historyCap                   = 100
)

// Config tunes the manager's timers and ducking coordination.
type Config struct {
	Mode                    Mode
	GracePeriodMs           int
	SentenceCompletionMaxMs int
	DuckingEnabled          bool
	DuckingLeadTimeMs       int
}

func DefaultConfig() Config {
	return Config{
		Mode:                    Graceful,
		GracePeriodMs:           defaultGracePeriodMs,
		SentenceCompletionMaxMs: defaultSentenceCompletionMax,
		DuckingEnabled:          true,
		DuckingLeadTimeMs:       defaultDuckingLeadTimeMs,
	}
}

// Entry is per-speaker barge-in state, per spec.md §3.
type Entry struct {
	Speaking          bool
	Priority          Priority
	StartedAt         time.Time
	LastActivityAt    time.Time
	AllowInterruption bool
}

// EventType distinguishes the three event-history kinds.
type EventType int

const (
	EventStart EventType = iota
	EventComplete
	EventCancelled
)

// Event records one barge-in occurrence, per spec.md §3.
type Event struct {
	Type            EventType
	Timestamp       time.Time
	Interrupter     speaker.Id
	Interrupted     []speaker.Id
	Mode            Mode
	Confidence      float64
	GracePeriodUsed bool
	DuckingApplied  bool
}

// Stats are derived on demand from the bounded event history.
type Stats struct {
	TotalCompletions  int
	PerMode           map[Mode]int
	AverageConfidence float64
	GracePeriodUsage  float64
}

// Callbacks are the manager's outbound effects. All are best-effort; a
// nil callback is simply skipped. Implementations that need exception
// safety should wrap their own callback (spec.md §4.4 "failure
// semantics").
type Callbacks struct {
	OnBargeInStart     func(interrupter speaker.Id, interrupted []speaker.Id)
	OnBargeInComplete  func(interrupter speaker.Id, interrupted []speaker.Id)
	OnBargeInCancelled func(interrupter speaker.Id)
	OnDuckingRequest   func(targets []speaker.Id, active bool)
}

type pendingBargeIn struct {
	interrupter    speaker.Id
	targets        []speaker.Id
	confidence     float64
	scheduledAt    time.Time
	timer          *time.Timer
	duckingEnabled bool
}

// Manager mediates barge-in across a fixed set of speakers.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	cb      Callbacks
	entries map[speaker.Id]*Entry
	pending *pendingBargeIn
	history []Event
}

// New constructs a Manager with the human (PriorityHuman) and both agents
// (PriorityMedium) pre-registered, all with allow_interruption = true.
func New(cfg Config, cb Callbacks) *Manager {
	m := &Manager{
		cfg:     cfg,
		cb:      cb,
		entries: make(map[speaker.Id]*Entry),
	}
	m.entries[speaker.Human] = &Entry{Priority: PriorityHuman, AllowInterruption: true}
	m.entries[speaker.Host] = &Entry{Priority: PriorityMedium, AllowInterruption: true}
	m.entries[speaker.Guest] = &Entry{Priority: PriorityMedium, AllowInterruption: true}
	return m
}

// SetPriority overrides a speaker's interruption priority (human stays
// fixed at PriorityHuman regardless).
func (m *Manager) SetPriority(s speaker.Id, p Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == speaker.Human {
		return
	}
	if e, ok := m.entries[s]; ok {
		e.Priority = p
	}
}

func (m *Manager) priorityOf(s speaker.Id) Priority {
	if s == speaker.Human {
		return PriorityHuman
	}
	if e, ok := m.entries[s]; ok {
		return e.Priority
	}
	return PriorityMedium
}

// OnSpeechStart implements spec.md §4.4's on_speech_start algorithm.
func (m *Manager) OnSpeechStart(s speaker.Id, confidence float64) {
	m.mu.Lock()

	entry := m.entryFor(s)
	entry.Speaking = true
	entry.StartedAt = time.Now()
	entry.LastActivityAt = entry.StartedAt

	if m.cfg.Mode == Disabled {
		m.mu.Unlock()
		return
	}

	var activeOthers []speaker.Id
	for id, e := range m.entries {
		if id != s && e.Speaking {
			activeOthers = append(activeOthers, id)
		}
	}
	if len(activeOthers) == 0 {
		m.mu.Unlock()
		return
	}

	var allowed []speaker.Id
	for _, id := range activeOthers {
		if m.entries[id].AllowInterruption {
			allowed = append(allowed, id)
		}
	}
	if len(allowed) == 0 {
		m.mu.Unlock()
		return
	}

	if !m.authorized(s, allowed) {
		m.mu.Unlock()
		return
	}

	mode := m.cfg.Mode
	cb := m.cb
	duckingEnabled := m.cfg.DuckingEnabled
	graceMs := m.cfg.GracePeriodMs
	sentenceMs := m.cfg.SentenceCompletionMaxMs
	m.mu.Unlock()

	switch mode {
	case Immediate:
		m.executeInterruption(s, allowed, confidence, mode, false, false)
	case Graceful:
		m.scheduleBargeIn(s, allowed, confidence, mode, time.Duration(graceMs)*time.Millisecond, duckingEnabled, cb)
	case SentenceComplete:
		m.scheduleBargeIn(s, allowed, confidence, mode, time.Duration(sentenceMs)*time.Millisecond, duckingEnabled, cb)
	}
}

// authorized requires the interrupter's priority to strictly exceed every
// remaining target's, or be the human.
func (m *Manager) authorized(s speaker.Id, targets []speaker.Id) bool {
	if s == speaker.Human {
		return true
	}
	p := m.priorityOf(s)
	for _, t := range targets {
		if p <= m.priorityOf(t) {
			return false
		}
	}
	return true
}

func (m *Manager) entryFor(s speaker.Id) *Entry {
	e, ok := m.entries[s]
	if !ok {
		e = &Entry{Priority: PriorityMedium, AllowInterruption: true}
		m.entries[s] = e
	}
	return e
}

func (m *Manager) scheduleBargeIn(interrupter speaker.Id, targets []speaker.Id, confidence float64, mode Mode, delay time.Duration, duckingEnabled bool, cb Callbacks) {
	if duckingEnabled && cb.OnDuckingRequest != nil {
		cb.OnDuckingRequest(targets, true)
	}

	m.mu.Lock()
	pb := &pendingBargeIn{
		interrupter:    interrupter,
		targets:        targets,
		confidence:     confidence,
		scheduledAt:    time.Now(),
		duckingEnabled: duckingEnabled,
	}
	m.pending = pb
	m.mu.Unlock()

	pb.timer = time.AfterFunc(delay, func() {
		m.resolveBargeIn(pb, interrupter, targets, confidence, mode, duckingEnabled)
	})
}

func (m *Manager) resolveBargeIn(pb *pendingBargeIn, interrupter speaker.Id, targets []speaker.Id, confidence float64, mode Mode, duckingEnabled bool) {
	m.mu.Lock()
	if m.pending != pb {
		m.mu.Unlock()
		return
	}
	stillSpeaking := m.entries[interrupter] != nil && m.entries[interrupter].Speaking
	m.pending = nil
	cb := m.cb
	m.mu.Unlock()

	if stillSpeaking {
		m.executeInterruption(interrupter, targets, confidence, mode, true, duckingEnabled)
		return
	}
	if duckingEnabled && cb.OnDuckingRequest != nil {
		cb.OnDuckingRequest(targets, false)
	}
}

func (m *Manager) executeInterruption(interrupter speaker.Id, targets []speaker.Id, confidence float64, mode Mode, graceUsed, duckingApplied bool) {
	m.mu.Lock()
	for _, t := range targets {
		if e, ok := m.entries[t]; ok {
			e.Speaking = false
		}
	}
	m.appendEvent(Event{
		Type: EventStart, Timestamp: time.Now(), Interrupter: interrupter,
		Interrupted: targets, Mode: mode, Confidence: confidence,
		GracePeriodUsed: graceUsed, DuckingApplied: duckingApplied,
	})
	m.appendEvent(Event{
		Type: EventComplete, Timestamp: time.Now(), Interrupter: interrupter,
		Interrupted: targets, Mode: mode, Confidence: confidence,
		GracePeriodUsed: graceUsed, DuckingApplied: duckingApplied,
	})
	cb := m.cb
	m.mu.Unlock()

	if cb.OnBargeInStart != nil {
		cb.OnBargeInStart(interrupter, targets)
	}
	if cb.OnBargeInComplete != nil {
		cb.OnBargeInComplete(interrupter, targets)
	}
}

// OnSpeechEnd implements spec.md §4.4's on_speech_end: clears the
// speaker's flag and cancels a pending barge-in it initiated.
func (m *Manager) OnSpeechEnd(s speaker.Id, _ float64) {
	m.mu.Lock()
	if e, ok := m.entries[s]; ok {
		e.Speaking = false
		e.LastActivityAt = time.Now()
	}

	var cancel *pendingBargeIn
	if m.pending != nil && m.pending.interrupter == s {
		cancel = m.pending
		m.pending = nil
	}
	cb := m.cb
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel.timer.Stop()
	m.mu.Lock()
	m.appendEvent(Event{Type: EventCancelled, Timestamp: time.Now(), Interrupter: s, Interrupted: cancel.targets})
	m.mu.Unlock()
	if cancel.duckingEnabled && cb.OnDuckingRequest != nil {
		cb.OnDuckingRequest(cancel.targets, false)
	}
	if cb.OnBargeInCancelled != nil {
		cb.OnBargeInCancelled(s)
	}
}

// NotifySentenceBoundary is an optional hook a caller may invoke if its
// STT/TTS adapter produces an external sentence/turn-end signal while a
// sentence_complete barge-in is pending for the named interrupter. The
// spec leaves the external signal source unspecified (§9 Open Questions);
// this module's ports (§6) carry none, so nothing in this module calls it
// — it exists for callers with a richer adapter to wire in.
func (m *Manager) NotifySentenceBoundary(interrupter speaker.Id) {
	m.mu.Lock()
	pb := m.pending
	if pb == nil || pb.interrupter != interrupter {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	pb.timer.Stop()
	pb.timer.Reset(0)
}

// appendEvent must be called with m.mu held.
func (m *Manager) appendEvent(e Event) {
	m.history = append(m.history, e)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}

// Stats derives summary statistics from the bounded event history.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{PerMode: make(map[Mode]int)}
	var confSum float64
	var graceCount int
	for _, e := range m.history {
		if e.Type != EventComplete {
			continue
		}
		s.TotalCompletions++
		s.PerMode[e.Mode]++
		confSum += e.Confidence
		if e.GracePeriodUsed {
			graceCount++
		}
	}
	if s.TotalCompletions > 0 {
		s.AverageConfidence = confSum / float64(s.TotalCompletions)
		s.GracePeriodUsage = float64(graceCount) / float64(s.TotalCompletions)
	}
	return s
}

// History returns a copy of the bounded event history.
func (m *Manager) History() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}
