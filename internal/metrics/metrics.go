package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalChars atomic.Int64

var (
	TranslationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2s_translations_total",
		Help: "Translations processed, by outcome",
	}, []string{"outcome"})

	TranslationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "s2s_translation_duration_seconds",
		Help:    "End to end duration of a translation",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	DecodedCharsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "s2s_decoded_chars_total",
		Help: "Characters emitted by the sampling loop",
	})

	DecodeSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "s2s_decode_steps",
		Help:    "Decoder steps per translation",
		Buckets: []float64{1, 5, 10, 20, 40, 60, 80, 120, 200},
	})

	StopReasons = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2s_decode_stop_total",
		Help: "Sampling loop terminations, by reason",
	}, []string{"reason"})

	InputLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "s2s_input_length_chars",
		Help:    "Distribution of input lengths in characters",
		Buckets: []float64{8, 16, 32, 64, 96, 131, 256},
	})

	EntitiesFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "s2s_entities_found",
		Help:    "Entities extracted per input",
		Buckets: []float64{0, 1, 2, 3, 5, 8},
	})

	ModelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "s2s_model_call_duration_seconds",
		Help:    "Latency of encoder and decoder calls",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"op"})

	ModelCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2s_model_call_errors_total",
		Help: "Failed encoder and decoder calls",
	}, []string{"op"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2s_errors_total",
		Help: "Translation failures, by kind",
	}, []string{"kind"})

	NaNDistributions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "s2s_nan_distributions_total",
		Help: "Decoder outputs containing only NaN values",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2s_http_requests_total",
		Help: "HTTP requests, by endpoint and status code",
	}, []string{"endpoint", "code"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "s2s_active_streams",
		Help: "Open SSE and websocket streams",
	})
)

// RecordTranslation records one finished translation.
func RecordTranslation(outcome string, steps int, d time.Duration) {
	TranslationsTotal.WithLabelValues(outcome).Inc()
	TranslationDuration.Observe(d.Seconds())
	if steps > 0 {
		DecodeSteps.Observe(float64(steps))
	}
}

func RecordDecodedChar() {
	DecodedCharsTotal.Inc()
	totalChars.Add(1)
}

// TotalChars is the process lifetime count of decoded characters.
func TotalChars() int64 {
	return totalChars.Load()
}

func RecordStop(reason string) {
	StopReasons.WithLabelValues(reason).Inc()
}

func RecordInput(chars, entities int) {
	InputLength.Observe(float64(chars))
	EntitiesFound.Observe(float64(entities))
}

func RecordModelCall(op string, d time.Duration, err error) {
	ModelCallDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		ModelCallErrors.WithLabelValues(op).Inc()
	}
}

func RecordError(kind string) {
	Errors.WithLabelValues(kind).Inc()
}

func RecordNaNDistribution() {
	NaNDistributions.Inc()
}

func RecordHTTPRequest(endpoint, code string) {
	HTTPRequests.WithLabelValues(endpoint, code).Inc()
}
