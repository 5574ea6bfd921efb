// Package observe provides application-wide observability primitives for the
// assistant: OpenTelemetry metrics exported via a Prometheus bridge so the
// pipeline's latency and counters can be scraped over /metrics alongside the
// health package's /healthz and /readyz.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all assistant metrics.
const meterName = "github.com/mrwong99/lokutor"

// Metrics holds all OpenTelemetry metric instruments the pipeline records
// against. All fields are safe for concurrent use — the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks the capture of one utterance: from the request for
	// human input (including the playback drain, beeps and wake-word wait
	// when a wake word is required) until the STT delta stream closes.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks time from Chat call to stream close.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks per-sentence synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks the response phase of a turn: from the start of the
	// LLM exchange until every sentence has been handed to TTS and the
	// processing sound has been queued. Capture time and audio playback are
	// not included.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("capability", ...), attribute.String("name", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("capability", ...), attribute.String("name", ...)
	ProviderErrors metric.Int64Counter

	// TurnsCompleted counts turns that produced at least one spoken
	// sentence.
	TurnsCompleted metric.Int64Counter

	// SaneInputRejections counts utterances rejected by the sanity filter.
	SaneInputRejections metric.Int64Counter

	// Interrupts counts wake-word interrupts of in-flight playback.
	Interrupts metric.Int64Counter

	// --- Gauges ---

	// AvailableServices tracks the number of currently-available service
	// records per capability. Use with attribute.String("capability", ...).
	AvailableServices metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("lokutor.stt.duration",
		metric.WithDescription("Time to capture one utterance, input request to close of the STT delta stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("lokutor.llm.duration",
		metric.WithDescription("Latency of an LLM chat exchange, call to stream close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("lokutor.tts.duration",
		metric.WithDescription("Latency of per-sentence speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("lokutor.turn.duration",
		metric.WithDescription("Latency of a turn's response phase, LLM exchange start to last sentence handed to TTS."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("lokutor.provider.requests",
		metric.WithDescription("Total provider API requests by capability, name, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lokutor.provider.errors",
		metric.WithDescription("Total provider errors by capability and name."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("lokutor.turns.completed",
		metric.WithDescription("Total conversational turns that produced a spoken response."),
	); err != nil {
		return nil, err
	}
	if met.SaneInputRejections, err = m.Int64Counter("lokutor.sane_input.rejections",
		metric.WithDescription("Total utterances rejected by the sanity filter."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("lokutor.interrupts",
		metric.WithDescription("Total wake-word interrupts of in-flight playback."),
	); err != nil {
		return nil, err
	}

	if met.AvailableServices, err = m.Int64UpDownCounter("lokutor.services.available",
		metric.WithDescription("Number of currently-available service records, by capability."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, capability, name, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("name", name),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, capability, name string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("name", name),
		),
	)
}

// RecordTurnCompleted increments the completed-turn counter.
func (m *Metrics) RecordTurnCompleted(ctx context.Context) {
	m.TurnsCompleted.Add(ctx, 1)
}

// RecordSaneInputRejection increments the sanity-filter rejection counter.
func (m *Metrics) RecordSaneInputRejection(ctx context.Context) {
	m.SaneInputRejections.Add(ctx, 1)
}

// RecordInterrupt increments the wake-word interrupt counter.
func (m *Metrics) RecordInterrupt(ctx context.Context) {
	m.Interrupts.Add(ctx, 1)
}

// SetAvailableServices adjusts the available-service gauge for capability
// by delta. delta is computed by the caller against the previously-reported
// value since UpDownCounter only supports relative adjustments.
func (m *Metrics) SetAvailableServices(ctx context.Context, capability string, delta int64) {
	m.AvailableServices.Add(ctx, delta, metric.WithAttributes(attribute.String("capability", capability)))
}
