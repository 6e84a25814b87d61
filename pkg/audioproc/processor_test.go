package audioproc

import (
	"math"
	"testing"
)

func constantTone(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		buf[2*i] = byte(amplitude)
		buf[2*i+1] = byte(amplitude >> 8)
	}
	return buf
}

func rmsOf(buf []byte) float64 {
	n := len(buf) / 2
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(buf[2*i]) | int16(buf[2*i+1])<<8
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

func TestProcess_PassThroughAtUnityGain(t *testing.T) {
	p := New(DefaultConfig())
	in := constantTone(10000, 100)
	out := p.Process(in)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("byte %d differs at unity gain", i)
		}
	}
}

func TestProcess_TrailingOddByteCopiedThrough(t *testing.T) {
	p := New(DefaultConfig())
	p.StartDucking(true)
	in := append(constantTone(10000, 10), 0x7f)
	out := p.Process(in)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	if out[len(out)-1] != 0x7f {
		t.Fatalf("trailing odd byte not copied through: got %x", out[len(out)-1])
	}
}

func TestProcess_MonotoneDucking(t *testing.T) {
	in := constantTone(10000, 4800)

	off := New(DefaultConfig())
	outOff := off.Process(in)

	on := New(DefaultConfig())
	on.StartDucking(true)
	outOn := on.Process(in)

	if rmsOf(outOn) >= rmsOf(outOff) {
		t.Fatalf("expected ducked RMS (%v) < undocked RMS (%v)", rmsOf(outOn), rmsOf(outOff))
	}
}

func TestProcess_NoClippingAtMaxAmplitude(t *testing.T) {
	p := New(DefaultConfig())
	in := constantTone(32767, 1000)
	out := p.Process(in)
	for i := 0; i < len(out); i += 2 {
		s := int16(out[i]) | int16(out[i+1])<<8
		if s < -32768 || s > 32767 {
			t.Fatalf("sample out of 16-bit range: %d", s)
		}
	}
}

func TestGainRoundTrip(t *testing.T) {
	for db := -60.0; db <= 0; db += 5 {
		gain := DBToGain(db)
		got := GainToDB(gain)
		if math.Abs(got-db) > 1e-9 {
			t.Fatalf("round-trip mismatch: db=%v got=%v", db, got)
		}
	}
}

func TestZeroLengthBufferPassesThroughEmpty(t *testing.T) {
	p := New(DefaultConfig())
	p.StartDucking(true)
	out := p.Process([]byte{})
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(out))
	}
}

func TestRampTerminatesAtTarget(t *testing.T) {
	p := New(DefaultConfig())
	p.StartDucking(false)
	// Drive enough samples to exceed the ramp-up duration.
	total := p.cfg.msToSamples(p.cfg.RampUpMs) + 100
	p.Process(constantTone(1000, total))
	if p.IsRamping() {
		t.Fatal("expected ramp to have completed")
	}
	target := DBToGain(p.cfg.Profile.reductionDB(p.cfg.CustomDB))
	if math.Abs(p.CurrentGain()-target) > 1e-6 {
		t.Fatalf("expected current gain %v, got %v", target, p.CurrentGain())
	}
}

func TestMultiChannel_LazyCreationAndFanOut(t *testing.T) {
	mc := NewMultiChannel(DefaultConfig())
	speakers := []SpeakerKey{"host", "guest"}
	mc.StartDucking(speakers, true)
	status := mc.Status()
	if len(status) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(status))
	}
	for _, s := range speakers {
		if !status[s].Ducking {
			t.Fatalf("expected %s to be ducking", s)
		}
	}
}
