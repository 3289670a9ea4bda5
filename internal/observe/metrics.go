// Package observe provides application-wide observability primitives for
// OffBook: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all OffBook metrics.
const meterName = "github.com/offbook/offbook"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per speech stage ---

	// RecognitionDuration tracks how long a listening session stays open per
	// user line, from start to scored stop.
	RecognitionDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency per scene-
	// partner line.
	SynthesisDuration metric.Float64Histogram

	// --- Rehearsal quality ---

	// LineAccuracy distributes the 0-100 accuracy score of user line attempts.
	LineAccuracy metric.Int64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// LinesPlayed counts lines delivered during rehearsal. Use with attribute:
	//   attribute.String("role", "user"|"partner")
	LinesPlayed metric.Int64Counter

	// ScriptsUploaded counts script uploads.
	ScriptsUploaded metric.Int64Counter

	// --- Gauges ---

	// ActiveRehearsals tracks the number of live rehearsal sessions.
	ActiveRehearsals metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// accuracyBuckets spans the 0-100 score range in steps of ten.
var accuracyBuckets = []float64{
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("offbook.recognition.duration",
		metric.WithDescription("Duration of a listening session for one user line."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("offbook.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis per scene-partner line."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LineAccuracy, err = m.Int64Histogram("offbook.line.accuracy",
		metric.WithDescription("Accuracy score (0-100) of scored line attempts."),
		metric.WithExplicitBucketBoundaries(accuracyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("offbook.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("offbook.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.LinesPlayed, err = m.Int64Counter("offbook.lines.played",
		metric.WithDescription("Total rehearsal lines delivered by role."),
	); err != nil {
		return nil, err
	}
	if met.ScriptsUploaded, err = m.Int64Counter("offbook.scripts.uploaded",
		metric.WithDescription("Total script uploads."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRehearsals, err = m.Int64UpDownCounter("offbook.active_rehearsals",
		metric.WithDescription("Number of live rehearsal sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("offbook.http.request.duration",
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

// RecordLinePlayed is a convenience method that counts a delivered line by
// role ("user" or "partner").
func (m *Metrics) RecordLinePlayed(ctx context.Context, role string) {
	m.LinesPlayed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordLineAccuracy is a convenience method that records one scored attempt.
func (m *Metrics) RecordLineAccuracy(ctx context.Context, accuracy int) {
	m.LineAccuracy.Record(ctx, int64(accuracy))
}
