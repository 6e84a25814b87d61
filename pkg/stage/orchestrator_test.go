package stage

import (
	"context"
	"testing"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

func registerFakeSession(t *testing.T, orch *Orchestrator, id SessionId) (*Session, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	deps := Deps{
		Publisher: pub,
		Recorder:  &fakeRecorder{},
		EventLog:  &fakeEventLog{},
		TTS: map[speaker.Id]TTSPort{
			speaker.Host:  &fakeTTS{},
			speaker.Guest: &fakeTTS{},
		},
	}
	s, err := orch.Register(context.Background(), id, "", deps)
	if err != nil {
		t.Fatalf("Register %s: %v", id, err)
	}
	return s, pub
}

func TestEnterThinking_BroadcastsToEverySessionButOnlyMutatesOriginOrbs(t *testing.T) {
	orch := New(DefaultConfig(), nil, nil)
	origin, originPub := registerFakeSession(t, orch, SessionId("origin"))
	_, otherPub := registerFakeSession(t, orch, SessionId("other"))

	orch.enterThinking(origin, speaker.Host, 5000)

	if originPub.thinking != 1 || otherPub.thinking != 1 {
		t.Fatalf("expected ModeThinking broadcast to both sessions, got origin=%d other=%d", originPub.thinking, otherPub.thinking)
	}

	origin.mu.Lock()
	originHostOrb := origin.orbStates[speaker.Host]
	originGuestOrb := origin.orbStates[speaker.Guest]
	origin.mu.Unlock()
	if originHostOrb != OrbThinking {
		t.Fatalf("expected origin host orb Thinking, got %s", originHostOrb)
	}
	if originGuestOrb != OrbMuted {
		t.Fatalf("expected origin guest orb Muted, got %s", originGuestOrb)
	}

	other, _ := orch.Session(SessionId("other"))
	other.mu.Lock()
	otherHostOrb := other.orbStates[speaker.Host]
	other.mu.Unlock()
	if otherHostOrb != OrbListening {
		t.Fatalf("expected other session's orb states untouched by a different session's thinking command, got %s", otherHostOrb)
	}
}

func TestExitThinking_IgnoresStaleTimer(t *testing.T) {
	orch := New(DefaultConfig(), nil, nil)
	origin, _ := registerFakeSession(t, orch, SessionId("origin"))

	orch.enterThinking(origin, speaker.Host, 100000)
	firstStartedAt := orch.currentSharedScreen().StartedAt

	// A stale call using an older startedAt must not clear newer state.
	orch.exitThinking(firstStartedAt - 1)
	if orch.currentSharedScreen().Kind != SharedScreenThinking {
		t.Fatal("exitThinking with a mismatched startedAt must be a no-op")
	}

	orch.exitThinking(firstStartedAt)
	if orch.currentSharedScreen().Kind != SharedScreenConversation {
		t.Fatal("exitThinking with the matching startedAt must clear the shared screen")
	}
}

func TestDisconnect_UnknownSessionErrors(t *testing.T) {
	orch := New(DefaultConfig(), nil, nil)
	if err := orch.Disconnect(SessionId("nope")); err == nil {
		t.Fatal("expected error disconnecting an unregistered session")
	}
}
