package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(modelCallLatency, generationTokens, transcribedSeconds)
}

var (
	modelCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_call_latency_seconds",
			Help:    "Latency of calls to generation and transcription backends.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind", "provider", "model", "success"},
	)

	generationTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_tokens_total",
			Help: "Tokens consumed by generation calls, split by direction (in|out).",
		},
		[]string{"provider", "model", "direction"},
	)

	transcribedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcribed_audio_seconds_total",
			Help: "Seconds of audio returned by the transcription engine.",
		},
		[]string{"model"},
	)
)

// ObserveGeneration records one generation call.
func ObserveGeneration(provider, model string, tokensIn, tokensOut int, seconds float64, success bool) {
	p, m := norm(provider), norm(model)
	modelCallLatency.WithLabelValues("generation", p, m, strconv.FormatBool(success)).Observe(seconds)
	if tokensIn > 0 {
		generationTokens.WithLabelValues(p, m, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		generationTokens.WithLabelValues(p, m, "out").Add(float64(tokensOut))
	}
}

// ObserveTranscription records one call to the transcription engine and the
// audio it covered.
func ObserveTranscription(model string, audioSeconds, seconds float64, success bool) {
	m := norm(model)
	modelCallLatency.WithLabelValues("transcription", "whisper", m, strconv.FormatBool(success)).Observe(seconds)
	if success && audioSeconds > 0 {
		transcribedSeconds.WithLabelValues(m).Add(audioSeconds)
	}
}
