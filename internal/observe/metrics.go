// Package observe provides the observability primitives for udpaudio:
// OpenTelemetry metrics for the ingestion loop and network supervisor,
// tracing helpers, and the HTTP middleware used by the admin server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to a
// Prometheus registry by [InitProvider], so they can be scraped from the
// admin server's /metrics route. [DefaultMetrics] returns a lazily created
// instance bound to the global meter provider; tests should use [NewMetrics]
// with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/udpaudio"

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every metric instrument used by the service. The OTel
// instruments are safe for concurrent use.
type Metrics struct {
	// DatagramsReceived counts datagrams read from the ingestion socket.
	DatagramsReceived metric.Int64Counter

	// DatagramBytes counts payload bytes read from the ingestion socket.
	DatagramBytes metric.Int64Counter

	// DatagramsForwarded counts sink forward calls. Attributes: sink, status.
	DatagramsForwarded metric.Int64Counter

	// DatagramsOversize counts datagrams larger than the receive buffer.
	// Attribute: action ("truncate" or "drop").
	DatagramsOversize metric.Int64Counter

	// ReceiveErrors counts transient receive failures.
	ReceiveErrors metric.Int64Counter

	// ForwardDuration tracks how long a sink takes to consume one datagram.
	ForwardDuration metric.Float64Histogram

	// IngestRunning is 1 while an ingestion task is bound and looping.
	IngestRunning metric.Int64UpDownCounter

	// NetworkTransitions counts supervisor state changes. Attribute: state.
	NetworkTransitions metric.Int64Counter

	// NetworkConnected is 1 while the station link has an address.
	NetworkConnected metric.Int64UpDownCounter

	// ReconnectAttempts counts connect attempts issued after a disconnect.
	ReconnectAttempts metric.Int64Counter

	// PipelineBytes counts bytes written to a pipeline target. Attribute: target.
	PipelineBytes metric.Int64Counter

	// HTTPRequestDuration tracks admin server request latency.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// forwardBuckets are histogram boundaries (seconds) for per-datagram sink
// latency. A 1024 byte datagram is 32ms of 16kHz mono audio, so anything
// above a few milliseconds is already interesting.
var forwardBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DatagramsReceived, err = m.Int64Counter("udpaudio.datagrams.received",
		metric.WithDescription("Datagrams received on the ingestion socket."),
	); err != nil {
		return nil, err
	}
	if met.DatagramBytes, err = m.Int64Counter("udpaudio.datagrams.bytes",
		metric.WithDescription("Payload bytes received on the ingestion socket."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DatagramsForwarded, err = m.Int64Counter("udpaudio.datagrams.forwarded",
		metric.WithDescription("Sink forward calls by sink and status."),
	); err != nil {
		return nil, err
	}
	if met.DatagramsOversize, err = m.Int64Counter("udpaudio.datagrams.oversize",
		metric.WithDescription("Datagrams exceeding the receive buffer by action taken."),
	); err != nil {
		return nil, err
	}
	if met.ReceiveErrors, err = m.Int64Counter("udpaudio.receive.errors",
		metric.WithDescription("Transient receive failures on the ingestion socket."),
	); err != nil {
		return nil, err
	}
	if met.ForwardDuration, err = m.Float64Histogram("udpaudio.forward.duration",
		metric.WithDescription("Time a sink takes to consume one datagram."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(forwardBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IngestRunning, err = m.Int64UpDownCounter("udpaudio.ingest.running",
		metric.WithDescription("Number of bound ingestion tasks."),
	); err != nil {
		return nil, err
	}
	if met.NetworkTransitions, err = m.Int64Counter("udpaudio.network.transitions",
		metric.WithDescription("Network supervisor state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.NetworkConnected, err = m.Int64UpDownCounter("udpaudio.network.connected",
		metric.WithDescription("1 while the station link is connected."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("udpaudio.network.reconnect_attempts",
		metric.WithDescription("Connect attempts issued after a disconnect."),
	); err != nil {
		return nil, err
	}
	if met.PipelineBytes, err = m.Int64Counter("udpaudio.pipeline.bytes",
		metric.WithDescription("Bytes written to a pipeline target."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("udpaudio.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] bound to
// [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// RecordReceived records one received datagram of n payload bytes.
func (m *Metrics) RecordReceived(ctx context.Context, n int) {
	m.DatagramsReceived.Add(ctx, 1)
	m.DatagramBytes.Add(ctx, int64(n))
}

// RecordForward records a sink forward call and its latency.
func (m *Metrics) RecordForward(ctx context.Context, sink string, err error, d time.Duration) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.DatagramsForwarded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("status", status),
	))
	m.ForwardDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordOversize records a datagram that exceeded the receive buffer.
func (m *Metrics) RecordOversize(ctx context.Context, action string) {
	m.DatagramsOversize.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordNetworkState records a supervisor transition from one state name to
// another and keeps the connected gauge in step.
func (m *Metrics) RecordNetworkState(ctx context.Context, from, to string) {
	m.NetworkTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", to)))
	const connected = "connected"
	switch {
	case to == connected && from != connected:
		m.NetworkConnected.Add(ctx, 1)
	case from == connected && to != connected:
		m.NetworkConnected.Add(ctx, -1)
	}
}

// RecordPipelineWrite records n bytes written to the named pipeline target.
func (m *Metrics) RecordPipelineWrite(ctx context.Context, target string, n int) {
	m.PipelineBytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("target", target)))
}
