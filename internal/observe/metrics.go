// Package observe provides application-wide observability primitives for
// hark: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hark metrics.
const meterName = "github.com/MrWong99/hark"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Recognition ---

	// RecognitionSessions counts recognition sessions started by the loop.
	RecognitionSessions metric.Int64Counter

	// RecognitionActive tracks open recognition sessions. Never exceeds 1.
	RecognitionActive metric.Int64UpDownCounter

	// RecognitionErrors counts recognizer errors. Use with attribute:
	//   attribute.String("kind", ...)
	RecognitionErrors metric.Int64Counter

	// --- Resolution and dispatch ---

	// ResolveDuration tracks NLU round-trip latency.
	ResolveDuration metric.Float64Histogram

	// ResolveErrors counts resolution failures. Use with attribute:
	//   attribute.String("kind", ...)
	ResolveErrors metric.Int64Counter

	// Actions counts dispatched intents. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("effect", ...)
	Actions metric.Int64Counter

	// SpeechDuration tracks how long spoken acknowledgments take end to end.
	SpeechDuration metric.Float64Histogram

	// --- Loop and gesture ---

	// LoopRestarts counts transitions back to listening.
	LoopRestarts metric.Int64Counter

	// GestureShakes counts detected shake events.
	GestureShakes metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CircuitState reports circuit breaker state (0 closed, 1 open, 2
	// half-open). Use with attribute:
	//   attribute.String("breaker", ...)
	CircuitState metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-assistant latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Recognition.
	if met.RecognitionSessions, err = m.Int64Counter("hark.recognition.sessions",
		metric.WithDescription("Total recognition sessions started."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionActive, err = m.Int64UpDownCounter("hark.recognition.active",
		metric.WithDescription("Number of open recognition sessions."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("hark.recognition.errors",
		metric.WithDescription("Total recognizer errors by kind."),
	); err != nil {
		return nil, err
	}

	// Resolution and dispatch.
	if met.ResolveDuration, err = m.Float64Histogram("hark.resolve.duration",
		metric.WithDescription("Latency of intent resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResolveErrors, err = m.Int64Counter("hark.resolve.errors",
		metric.WithDescription("Total intent resolution failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.Actions, err = m.Int64Counter("hark.actions",
		metric.WithDescription("Total dispatched actions by intent and effect."),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("hark.speech.duration",
		metric.WithDescription("Duration of spoken acknowledgments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Loop and gesture.
	if met.LoopRestarts, err = m.Int64Counter("hark.loop.restarts",
		metric.WithDescription("Total returns to the listening state."),
	); err != nil {
		return nil, err
	}
	if met.GestureShakes, err = m.Int64Counter("hark.gesture.shakes",
		metric.WithDescription("Total shake gestures detected."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("hark.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("hark.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CircuitState, err = m.Int64Gauge("hark.circuit.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open, 2 half-open."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hark.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordRecognitionError records a recognizer error of the given kind.
func (m *Metrics) RecordRecognitionError(ctx context.Context, kind string) {
	m.RecognitionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordResolveError records a resolution failure of the given kind.
func (m *Metrics) RecordResolveError(ctx context.Context, kind string) {
	m.ResolveErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAction records a dispatched action.
func (m *Metrics) RecordAction(ctx context.Context, intent, effect string) {
	m.Actions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("effect", effect),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
