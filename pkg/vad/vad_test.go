package vad

import "testing"

func toneFrame(amplitude int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		buf[2*i] = byte(amplitude)
		buf[2*i+1] = byte(amplitude >> 8)
	}
	return buf
}

func TestProcess_EmptyFrameIsNoOp(t *testing.T) {
	v := New(DefaultConfig())
	if ev := v.Process(nil); ev != nil {
		t.Fatalf("expected nil event for empty frame, got %+v", ev)
	}
}

func TestProcess_SpeechStartRequiresConsecutiveFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adaptive = false
	cfg.ConfidenceGating = false
	cfg.InitialNoiseFloor = 0.01
	cfg.InitialSpeechThreshold = 0.02
	cfg.InitialReleaseThresh = 0.01
	cfg.SpeechFramesRequired = 3
	v := New(cfg)

	loud := toneFrame(12000, 960)
	var got *Event
	for i := 0; i < 3; i++ {
		got = v.Process(loud)
	}
	if got == nil || got.Type != SpeechStart {
		t.Fatalf("expected SpeechStart on 3rd consecutive loud frame, got %+v", got)
	}
	if !v.Speaking() {
		t.Fatal("expected Speaking() true after SpeechStart")
	}
}

func TestProcess_HysteresisInvariant(t *testing.T) {
	v := New(DefaultConfig())
	quiet := toneFrame(10, 960)
	for i := 0; i < 20; i++ {
		v.Process(quiet)
	}
	speech, release := v.Thresholds()
	if speech <= release {
		t.Fatalf("invariant violated: speech_threshold (%v) must be > release_threshold (%v)", speech, release)
	}
	if v.NoiseFloor() < noiseFloorMin || v.NoiseFloor() > noiseFloorMax {
		t.Fatalf("noise floor %v out of clamp range", v.NoiseFloor())
	}
}

func TestProcess_SpeechEndAfterSilenceRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adaptive = false
	cfg.ConfidenceGating = false
	cfg.InitialSpeechThreshold = 0.02
	cfg.InitialReleaseThresh = 0.01
	cfg.SpeechFramesRequired = 2
	cfg.SilenceFramesRequired = 2
	v := New(cfg)

	loud := toneFrame(12000, 960)
	for i := 0; i < 2; i++ {
		v.Process(loud)
	}
	if !v.Speaking() {
		t.Fatal("expected speaking after loud run")
	}

	silent := toneFrame(0, 960)
	var end *Event
	for i := 0; i < 2; i++ {
		end = v.Process(silent)
	}
	if end == nil || end.Type != SpeechEnd {
		t.Fatalf("expected SpeechEnd, got %+v", end)
	}
	if v.Speaking() {
		t.Fatal("expected not speaking after SpeechEnd")
	}
}

func TestConfidence_InRange(t *testing.T) {
	v := New(DefaultConfig())
	for i := 0; i < 10; i++ {
		v.Process(toneFrame(int16(i*500), 960))
		if c := v.Confidence(); c < 0 || c > 1 {
			t.Fatalf("confidence out of [0,1]: %v", c)
		}
	}
}
