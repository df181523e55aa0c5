// Package observe provides application-wide observability primitives for
// sonavision: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all sonavision metrics.
const meterName = "github.com/echolens/sonavision"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Vision cadence ---

	// FrameDuration tracks one full mapping pass: depth → sample → tones.
	FrameDuration metric.Float64Histogram

	// FramesProcessed counts processed video frames.
	FramesProcessed metric.Int64Counter

	// FrameTones tracks the number of tones produced per frame.
	FrameTones metric.Int64Histogram

	// --- Audio cadence ---

	// RenderDuration tracks synthesis time per audio block. The real-time
	// budget is the block duration itself.
	RenderDuration metric.Float64Histogram

	// AudioBlocks counts rendered blocks. Use with attribute:
	//   attribute.Bool("fresh", ...) — whether the block used a new tone set.
	AudioBlocks metric.Int64Counter

	// ToneSetsDropped counts tone sets overwritten in the handoff slot
	// before the audio loop could render them.
	ToneSetsDropped metric.Int64Counter

	// ToneSetsStale counts audio blocks that re-rendered an already-used
	// tone set because no new one had arrived.
	ToneSetsStale metric.Int64Counter

	// Underruns counts device reads served with zeros.
	Underruns metric.Int64Counter

	// --- Visualization ---

	// VizClients tracks the number of connected visualization clients.
	VizClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame and per-block budgets (a 1024-frame block at 44.1 kHz is ~23 ms).
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
}

// toneBuckets covers typical sampled-grid sizes.
var toneBuckets = []float64{
	0, 10, 25, 50, 100, 250, 500, 1000, 2500,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameDuration, err = m.Float64Histogram("sonavision.frame.duration",
		metric.WithDescription("Latency of one frame's depth/sample/tone mapping pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RenderDuration, err = m.Float64Histogram("sonavision.audio.render.duration",
		metric.WithDescription("Latency of synthesising one audio block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FrameTones, err = m.Int64Histogram("sonavision.frame.tones",
		metric.WithDescription("Tones produced per processed frame."),
		metric.WithExplicitBucketBoundaries(toneBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("sonavision.frames.processed",
		metric.WithDescription("Total video frames processed."),
	); err != nil {
		return nil, err
	}
	if met.AudioBlocks, err = m.Int64Counter("sonavision.audio.blocks",
		metric.WithDescription("Total audio blocks rendered, by freshness of the tone set."),
	); err != nil {
		return nil, err
	}
	if met.ToneSetsDropped, err = m.Int64Counter("sonavision.toneset.dropped",
		metric.WithDescription("Tone sets overwritten in the handoff slot before rendering."),
	); err != nil {
		return nil, err
	}
	if met.ToneSetsStale, err = m.Int64Counter("sonavision.toneset.stale",
		metric.WithDescription("Audio blocks that re-rendered an already-used tone set."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("sonavision.audio.underruns",
		metric.WithDescription("Device reads served with zeros for lack of samples."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.VizClients, err = m.Int64UpDownCounter("sonavision.viz.clients",
		metric.WithDescription("Connected visualization clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sonavision.http.request.duration",
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

// RecordFrame records one completed mapping pass.
func (m *Metrics) RecordFrame(ctx context.Context, seconds float64, tones int) {
	m.FramesProcessed.Add(ctx, 1)
	m.FrameDuration.Record(ctx, seconds)
	m.FrameTones.Record(ctx, int64(tones))
}

// RecordBlock records one rendered audio block.
func (m *Metrics) RecordBlock(ctx context.Context, seconds float64, fresh bool) {
	m.AudioBlocks.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("fresh", fresh)),
	)
	m.RenderDuration.Record(ctx, seconds)
}
