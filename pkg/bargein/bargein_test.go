package bargein

import (
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

func TestOnSpeechStart_NoActiveOthersDoesNothing(t *testing.T) {
	var started bool
	m := New(DefaultConfig(), Callbacks{
		OnBargeInStart: func(speaker.Id, []speaker.Id) { started = true },
	})
	m.OnSpeechStart(speaker.Human, 0.9)
	if started {
		t.Fatal("expected no barge-in with nobody else speaking")
	}
}

func TestOnSpeechStart_ImmediateModeInterruptsNow(t *testing.T) {
	var mu sync.Mutex
	var gotStart, gotComplete bool
	cfg := DefaultConfig()
	cfg.Mode = Immediate
	m := New(cfg, Callbacks{
		OnBargeInStart:    func(speaker.Id, []speaker.Id) { mu.Lock(); gotStart = true; mu.Unlock() },
		OnBargeInComplete: func(speaker.Id, []speaker.Id) { mu.Lock(); gotComplete = true; mu.Unlock() },
	})
	m.OnSpeechStart(speaker.Host, 0.9)
	m.OnSpeechStart(speaker.Human, 0.9)

	mu.Lock()
	defer mu.Unlock()
	if !gotStart || !gotComplete {
		t.Fatalf("expected immediate start+complete, got start=%v complete=%v", gotStart, gotComplete)
	}
}

func TestOnSpeechStart_GracefulCancelledOnEarlyEnd(t *testing.T) {
	var mu sync.Mutex
	var completed, cancelled, duckingOn, duckingOff bool
	cfg := DefaultConfig()
	cfg.GracePeriodMs = 50
	m := New(cfg, Callbacks{
		OnBargeInComplete:  func(speaker.Id, []speaker.Id) { mu.Lock(); completed = true; mu.Unlock() },
		OnBargeInCancelled: func(speaker.Id) { mu.Lock(); cancelled = true; mu.Unlock() },
		OnDuckingRequest: func(_ []speaker.Id, active bool) {
			mu.Lock()
			if active {
				duckingOn = true
			} else {
				duckingOff = true
			}
			mu.Unlock()
		},
	})

	m.OnSpeechStart(speaker.Host, 0.9)
	m.OnSpeechStart(speaker.Human, 0.85)
	m.OnSpeechEnd(speaker.Human, 0.85)

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !duckingOn {
		t.Fatal("expected ducking-on request at speech start")
	}
	if !duckingOff {
		t.Fatal("expected ducking-off request on cancellation")
	}
	if !cancelled {
		t.Fatal("expected cancellation callback")
	}
	if completed {
		t.Fatal("expected no barge-in-complete event")
	}
}

func TestOnSpeechStart_GracefulCompletesAfterGracePeriod(t *testing.T) {
	var mu sync.Mutex
	var completed bool
	cfg := DefaultConfig()
	cfg.GracePeriodMs = 30
	m := New(cfg, Callbacks{
		OnBargeInComplete: func(speaker.Id, []speaker.Id) { mu.Lock(); completed = true; mu.Unlock() },
	})

	m.OnSpeechStart(speaker.Host, 0.9)
	m.OnSpeechStart(speaker.Human, 0.9)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !completed {
		t.Fatal("expected barge-in to complete after grace period elapses")
	}
	stats := m.Stats()
	if stats.TotalCompletions != 1 {
		t.Fatalf("expected 1 completion, got %d", stats.TotalCompletions)
	}
	if stats.GracePeriodUsage != 1.0 {
		t.Fatalf("expected gracePeriodUsageRate 1.0, got %v", stats.GracePeriodUsage)
	}
}

func TestAuthorization_LowerPriorityCannotInterruptHigher(t *testing.T) {
	var started bool
	cfg := DefaultConfig()
	cfg.Mode = Immediate
	m := New(cfg, Callbacks{
		OnBargeInStart: func(speaker.Id, []speaker.Id) { started = true },
	})
	m.SetPriority(speaker.Guest, PriorityHigh)
	m.SetPriority(speaker.Host, PriorityMedium)

	m.OnSpeechStart(speaker.Guest, 0.9)
	m.OnSpeechStart(speaker.Host, 0.9)
	if started {
		t.Fatal("expected host (medium) not authorized to interrupt guest (high)")
	}
}

func TestModeDisabled_NeverInterrupts(t *testing.T) {
	var started bool
	cfg := DefaultConfig()
	cfg.Mode = Disabled
	m := New(cfg, Callbacks{
		OnBargeInStart: func(speaker.Id, []speaker.Id) { started = true },
	})
	m.OnSpeechStart(speaker.Host, 0.9)
	m.OnSpeechStart(speaker.Human, 0.9)
	if started {
		t.Fatal("expected disabled mode to never interrupt")
	}
}

func TestHistory_BoundedTo100Entries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = Immediate
	m := New(cfg, Callbacks{})
	for i := 0; i < 120; i++ {
		m.OnSpeechStart(speaker.Host, 0.5)
		m.OnSpeechStart(speaker.Human, 0.5)
		m.OnSpeechEnd(speaker.Human, 0.5)
		m.OnSpeechEnd(speaker.Host, 0.5)
	}
	if len(m.History()) > 100 {
		t.Fatalf("expected history capped at 100, got %d", len(m.History()))
	}
}
