package router

import (
	"strings"
	"testing"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

func TestRoute_EmptyOrWhitespaceIsNil(t *testing.T) {
	r := New(nil)
	if d := r.Route(""); d != nil {
		t.Fatalf("expected nil for empty input, got %+v", d)
	}
	if d := r.Route("   \t  "); d != nil {
		t.Fatalf("expected nil for whitespace input, got %+v", d)
	}
}

func TestRoute_DirectPrefixAddress(t *testing.T) {
	r := New(nil)
	d := r.Route("Claude, respond")
	if d == nil {
		t.Fatal("expected a decision")
	}
	if len(d.Targets) != 1 || d.Targets[0] != speaker.Host {
		t.Fatalf("expected targets {host}, got %v", d.Targets)
	}
	if d.Action != ActionAddress {
		t.Fatalf("expected address action, got %v", d.Action)
	}
	if d.Confidence < 0.7 {
		t.Fatalf("expected high confidence, got %v", d.Confidence)
	}
}

func TestRoute_ThinkingExtraction(t *testing.T) {
	r := New(nil)
	d := r.Route("Both of you, take 10 seconds to think")
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.Action != ActionThinking {
		t.Fatalf("expected thinking action, got %v", d.Action)
	}
	if d.DurationMs != 10000 {
		t.Fatalf("expected 10000ms duration, got %d", d.DurationMs)
	}
	if d.Confidence < 0.7 {
		t.Fatalf("expected confidence >= 0.7, got %v", d.Confidence)
	}
	wantHost, wantGuest := false, false
	for _, tgt := range d.Targets {
		if tgt == speaker.Host {
			wantHost = true
		}
		if tgt == speaker.Guest {
			wantGuest = true
		}
	}
	if !wantHost || !wantGuest {
		t.Fatalf("expected targets {host,guest}, got %v", d.Targets)
	}
}

func TestRoute_FuzzyHostAddress(t *testing.T) {
	r := New(nil)
	d := r.Route("Claud, respond")
	if d == nil {
		t.Fatal("expected a decision")
	}
	if !d.FuzzyMatched {
		t.Fatal("expected fuzzy_matched = true")
	}
	if len(d.Targets) != 1 || d.Targets[0] != speaker.Host {
		t.Fatalf("expected targets {host}, got %v", d.Targets)
	}
	if d.Confidence <= 0.5 || d.Confidence > 0.7 {
		t.Fatalf("expected confidence in (0.5, 0.7], got %v", d.Confidence)
	}
	if strings.Contains(strings.ToLower(d.Remainder), "claud") {
		t.Fatalf("expected remainder to not contain the matched keyword, got %q", d.Remainder)
	}
}

func TestRoute_ContextCarry(t *testing.T) {
	r := New(nil)
	first := r.Route("Claude, hello")
	if first == nil || len(first.Targets) != 1 || first.Targets[0] != speaker.Host {
		t.Fatalf("expected first call to address host, got %+v", first)
	}
	second := r.Route("Also respond to this")
	if second == nil {
		t.Fatal("expected a decision for the continuation")
	}
	if len(second.Targets) != 1 || second.Targets[0] != speaker.Host {
		t.Fatalf("expected continuation to target host, got %v", second.Targets)
	}
	if len(second.ContextSnapshot.LastAddressed) != 1 || second.ContextSnapshot.LastAddressed[0] != speaker.Host {
		t.Fatalf("expected context snapshot last_addressed = {host}, got %v", second.ContextSnapshot.LastAddressed)
	}
}

func TestRoute_BargeInControlBypassesAddressing(t *testing.T) {
	r := New(nil)
	d := r.Route("Claude, please stop")
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.Action != ActionBargeInControl {
		t.Fatalf("expected barge_in_control, got %v", d.Action)
	}
	if len(d.Targets) != 2 {
		t.Fatalf("expected fan-out to both agents, got %v", d.Targets)
	}
}

func TestRoute_DuckingControl(t *testing.T) {
	r := New(nil)
	d := r.Route("turn down")
	if d == nil || d.Action != ActionDuckingControl {
		t.Fatalf("expected ducking_control, got %+v", d)
	}
}

func TestRoute_Idempotence(t *testing.T) {
	a := New(nil).Route("Claude, hello there")
	b := New(nil).Route("Claude, hello there")
	if a.Action != b.Action || a.Confidence != b.Confidence || len(a.Targets) != len(b.Targets) {
		t.Fatalf("expected identical decisions for identical input with empty context: %+v vs %+v", a, b)
	}
}

func TestRoute_BroadcastWhenNoAddressOrThinking(t *testing.T) {
	r := New(nil)
	d := r.Route("what a nice day today")
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.Action != ActionBroadcast {
		t.Fatalf("expected broadcast, got %v", d.Action)
	}
}
