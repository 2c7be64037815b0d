// Package observe wires OpenTelemetry metrics and tracing for avatarperf.
//
// Instruments are created from a metric.MeterProvider so tests can inspect
// them through a ManualReader. InitProvider installs a Prometheus exporter
// bridge whose registry is served on /metrics.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/example/go-avatar-perf"

// Render kinds.
const (
	KindSynthesize = "synthesize"
	KindTransform  = "transform"
)

// Render outcomes.
const (
	StatusOK          = "ok"
	StatusEmpty       = "empty"
	StatusStale       = "stale"
	StatusDecodeError = "decode_error"
	StatusError       = "error"
)

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// RenderDuration tracks offline synthesis and transform latency.
	// Attributes: kind, status.
	RenderDuration metric.Float64Histogram

	// ClipSeconds tracks the audio length of committed clips. Attribute: kind.
	ClipSeconds metric.Float64Histogram

	// Renders counts render requests. Attributes: kind, status.
	Renders metric.Int64Counter

	// Frames counts computed animation frames. Attribute: mode.
	Frames metric.Int64Counter

	// Excitation records per-frame excitation while a clip plays.
	Excitation metric.Float64Histogram

	// ActiveSessions tracks live playback sessions (WebSocket performances).
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

var unitBuckets = []float64{
	0, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RenderDuration, err = m.Float64Histogram("avatarperf.render.duration",
		metric.WithDescription("Latency of offline synthesis and transform renders."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClipSeconds, err = m.Float64Histogram("avatarperf.clip.length",
		metric.WithDescription("Audio length of committed clips."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Renders, err = m.Int64Counter("avatarperf.renders",
		metric.WithDescription("Render requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("avatarperf.frames",
		metric.WithDescription("Computed animation frames by avatar mode."),
	); err != nil {
		return nil, err
	}
	if met.Excitation, err = m.Float64Histogram("avatarperf.excitation",
		metric.WithDescription("Per-frame excitation while a clip plays."),
		metric.WithExplicitBucketBoundaries(unitBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("avatarperf.active_sessions",
		metric.WithDescription("Number of live playback sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("avatarperf.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide instance built on the global meter
// provider. It panics if instrument creation fails.
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

// RecordRender records one render outcome and its latency.
func (m *Metrics) RecordRender(ctx context.Context, kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.Renders.Add(ctx, 1, attrs)
	m.RenderDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordClip records the length of a committed clip.
func (m *Metrics) RecordClip(ctx context.Context, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.ClipSeconds.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFrame counts one animation frame and, while playing, its excitation.
func (m *Metrics) RecordFrame(ctx context.Context, mode string, playing bool, excitation float64) {
	if m == nil {
		return
	}
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	if playing {
		m.Excitation.Record(ctx, excitation)
	}
}

// SessionStarted and SessionEnded bracket a live session.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m != nil {
		m.ActiveSessions.Add(ctx, 1)
	}
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	if m != nil {
		m.ActiveSessions.Add(ctx, -1)
	}
}
