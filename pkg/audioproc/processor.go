package audioproc

import (
	"math"
	"sync"
)

// Config tunes ducking depth, ramp durations, and sample rate for gain
// timing. SampleRate is needed to convert ramp durations (ms) to samples.
type Config struct {
	SampleRate    int
	Profile       Profile
	CustomDB      float64
	Curve         Curve
	RampUpMs      int
	RampDownMs    int
}

func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		Profile:    Medium,
		Curve:      Exponential,
		RampUpMs:   defaultRampUpMs,
		RampDownMs: defaultRampDownMs,
	}
}

func (c Config) msToSamples(ms int) int {
	return (c.SampleRate * ms) / 1000
}

// Processor applies one speaker's GainRamp to outgoing 16-bit PCM.
type Processor struct {
	mu   sync.Mutex
	cfg  Config
	ramp *GainRamp
}

// New constructs a Processor at unity gain.
func New(cfg Config) *Processor {
	return &Processor{cfg: cfg, ramp: newGainRamp()}
}

// StartDucking begins attenuating this speaker's audio per the configured
// profile. If immediate, the transition is instantaneous.
func (p *Processor) StartDucking(immediate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := DBToGain(p.cfg.Profile.reductionDB(p.cfg.CustomDB))
	p.ramp.begin(target, p.cfg.msToSamples(p.cfg.RampUpMs), p.cfg.Curve, immediate)
}

// StopDucking restores unity gain, by default over a slower ramp to avoid
// a jarring restoration.
func (p *Processor) StopDucking(immediate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ramp.begin(1.0, p.cfg.msToSamples(p.cfg.RampDownMs), p.cfg.Curve, immediate)
}

// Process applies the current gain (held or ramping) to buffer, sample by
// sample, and returns a newly allocated output of identical length. A
// trailing odd byte is copied through unchanged. If no ramp is active and
// current gain is unity, the input is returned unmodified (no allocation).
func (p *Processor) Process(buffer []byte) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ramp.active && p.ramp.currentGain == 1.0 {
		return buffer
	}

	out := make([]byte, len(buffer))
	n := len(buffer) / 2
	for i := 0; i < n; i++ {
		sample := int16(buffer[2*i]) | int16(buffer[2*i+1])<<8
		gain := p.ramp.advance()
		scaled := math.Round(float64(sample) * gain)
		scaled = clampSample(scaled)
		s := int16(scaled)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	if len(buffer)%2 == 1 {
		out[len(out)-1] = buffer[len(buffer)-1]
	}
	return out
}

// IsDucking reports whether gain is (or is headed) below near-unity.
func (p *Processor) IsDucking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ramp.currentGain < 0.99 || p.ramp.targetGain < 0.99
}

// IsRamping reports whether a ramp is currently in progress.
func (p *Processor) IsRamping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ramp.active
}

// CurrentGain reports the linear gain applied to the most recently
// processed sample (mid-ramp, the interpolated value; after a ramp
// completes, its target).
func (p *Processor) CurrentGain() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ramp.currentGain
}

// CurrentGainDB reports CurrentGain in decibels.
func (p *Processor) CurrentGainDB() float64 {
	return GainToDB(p.CurrentGain())
}

func clampSample(v float64) float64 {
	if v < -32768 {
		return -32768
	}
	if v > 32767 {
		return 32767
	}
	return v
}
