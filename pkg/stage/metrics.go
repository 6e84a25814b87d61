package stage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

// Metrics wires the VAD/ducking/barge-in counters and gauges named in
// SPEC_FULL.md's DOMAIN STACK table, grounded on the Prometheus usage
// pattern in MrWong99-glyphoxa and mbaxamb33-yuzu.agent.webrtc.toy
// (counter/gauge vectors labeled by a small fixed dimension — there,
// by event/channel; here, VAD vectors by session and ducking/barge-in
// vectors by speaker).
type Metrics struct {
	VADSpeechStarts  *prometheus.CounterVec
	VADSpeechEnds    *prometheus.CounterVec
	VADConfidence    *prometheus.GaugeVec
	DuckingActive    *prometheus.GaugeVec
	BargeInStarts    prometheus.Counter
	BargeInCompletes *prometheus.CounterVec
	BargeInCancelled prometheus.Counter
	ActiveSessions   prometheus.Gauge
}

// NewMetrics constructs and registers a Metrics set against reg. Passing
// prometheus.NewRegistry() isolates metrics per test; passing
// prometheus.DefaultRegisterer wires into the process default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VADSpeechStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stage",
			Subsystem: "vad",
			Name:      "speech_starts_total",
			Help:      "Count of VAD speech-start edges, by session.",
		}, []string{"session"}),
		VADSpeechEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stage",
			Subsystem: "vad",
			Name:      "speech_ends_total",
			Help:      "Count of VAD speech-end edges, by session.",
		}, []string{"session"}),
		VADConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stage",
			Subsystem: "vad",
			Name:      "confidence",
			Help:      "Most recent smoothed VAD confidence, by session.",
		}, []string{"session"}),
		DuckingActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stage",
			Subsystem: "audioproc",
			Name:      "ducking_active",
			Help:      "1 if the named speaker channel is currently ducked, else 0.",
		}, []string{"speaker"}),
		BargeInStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stage",
			Subsystem: "bargein",
			Name:      "starts_total",
			Help:      "Count of barge-in-start events across all sessions.",
		}),
		BargeInCompletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stage",
			Subsystem: "bargein",
			Name:      "completes_total",
			Help:      "Count of barge-in-complete events, by interrupted speaker.",
		}, []string{"speaker"}),
		BargeInCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stage",
			Subsystem: "bargein",
			Name:      "cancelled_total",
			Help:      "Count of barge-in-cancelled events across all sessions.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stage",
			Name:      "active_sessions",
			Help:      "Number of currently registered sessions.",
		}),
	}
	reg.MustRegister(
		m.VADSpeechStarts, m.VADSpeechEnds, m.VADConfidence, m.DuckingActive,
		m.BargeInStarts, m.BargeInCompletes, m.BargeInCancelled, m.ActiveSessions,
	)
	return m
}

// ObserveDucking records a StartDucking/StopDucking decision for a set of
// speakers.
func (m *Metrics) ObserveDucking(targets []speaker.Id, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	for _, t := range targets {
		m.DuckingActive.WithLabelValues(string(t)).Set(v)
	}
}
