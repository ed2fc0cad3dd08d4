// Package observe holds the OpenTelemetry instruments for the relay.
//
// Metrics are recorded through the OTel metrics API and scraped through the
// Prometheus exporter installed by [InitProvider]. Tests should build their
// own [Metrics] with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/zhouzirui/ai-show/backend"

// Frame directions.
const (
	DirectionClientToAgent = "client_to_agent"
	DirectionAgentToClient = "agent_to_client"
)

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	// ActiveSessions tracks live relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Sessions counts finished sessions by kind and outcome.
	Sessions metric.Int64Counter

	// Frames counts relayed frames by direction and message type.
	Frames metric.Int64Counter

	// DroppedFrames counts client frames discarded because the pre-activation
	// buffer was full.
	DroppedFrames metric.Int64Counter

	// PromptDuration tracks interviewer prompt generation latency.
	PromptDuration metric.Float64Histogram

	// DialDuration tracks the voice agent handshake latency.
	DialDuration metric.Float64Histogram
}

// setupBuckets covers LLM calls that can take tens of seconds.
var setupBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("aishow.relay.active_sessions",
		metric.WithDescription("Number of live relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("aishow.relay.sessions",
		metric.WithDescription("Finished relay sessions by kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("aishow.relay.frames",
		metric.WithDescription("Relayed frames by direction and message type."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("aishow.relay.dropped_frames",
		metric.WithDescription("Client frames dropped before the agent was ready."),
	); err != nil {
		return nil, err
	}
	if met.PromptDuration, err = m.Float64Histogram("aishow.prompt.duration",
		metric.WithDescription("Latency of interviewer prompt generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(setupBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DialDuration, err = m.Float64Histogram("aishow.agent.dial.duration",
		metric.WithDescription("Latency of the voice agent WebSocket handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(setupBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance bound to the global
// meter provider. Call it after [InitProvider] so it reports through the
// Prometheus exporter.
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

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened(ctx context.Context, kind string) {
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed(ctx context.Context, kind string) {
	m.ActiveSessions.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSession counts a finished session. outcome is the terminal state.
func (m *Metrics) RecordSession(ctx context.Context, kind, outcome string) {
	m.Sessions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordFrame counts one relayed frame.
func (m *Metrics) RecordFrame(ctx context.Context, direction, messageType string) {
	m.Frames.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("type", messageType),
		),
	)
}

// RecordDropped counts client frames discarded before activation.
func (m *Metrics) RecordDropped(ctx context.Context, kind string) {
	m.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordPrompt records a prompt generation attempt.
func (m *Metrics) RecordPrompt(ctx context.Context, d time.Duration, status string) {
	m.PromptDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordDial records a voice agent handshake attempt.
func (m *Metrics) RecordDial(ctx context.Context, d time.Duration, status string) {
	m.DialDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
