// Package otel records bus deliveries and service lifecycle transitions as
// OpenTelemetry metrics.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	"github.com/next-trace/scg-service-kit/contract/lifecycle"
)

// Metrics is a bus.Observer; its Transition method is a lifecycle.Listener.
type Metrics struct {
	deliveries       metric.Int64Counter
	deliveryFailures metric.Int64Counter
	deliveryDuration metric.Float64Histogram
	deadLetters      metric.Int64Counter
	transitions      metric.Int64Counter
	startupDuration  metric.Float64Histogram
}

var _ cbus.Observer = (*Metrics)(nil)

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	deliveries, err := meter.Int64Counter("scgkit.bus.deliveries",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("scgkit.bus.delivery_failures",
		metric.WithDescription("Number of handler invocations that returned an error or panicked"),
	)
	if err != nil {
		return nil, err
	}

	deliveryDur, err := meter.Float64Histogram("scgkit.bus.delivery.duration",
		metric.WithDescription("Duration of a handler invocation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	dead, err := meter.Int64Counter("scgkit.bus.dead_letters",
		metric.WithDescription("Number of published events nobody handled"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("scgkit.service.transitions",
		metric.WithDescription("Number of service state transitions"),
	)
	if err != nil {
		return nil, err
	}

	startupDur, err := meter.Float64Histogram("scgkit.service.startup.duration",
		metric.WithDescription("Time from STARTING to RUNNING in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		deliveries:       deliveries,
		deliveryFailures: failures,
		deliveryDuration: deliveryDur,
		deadLetters:      dead,
		transitions:      transitions,
		startupDuration:  startupDur,
	}, nil
}

func (m *Metrics) Delivered(ctx context.Context, d cbus.Delivery) {
	attrs := metric.WithAttributes(
		attribute.String("handler", d.Handler),
		attribute.String("message_type", d.MessageType),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.deliveryDuration.Record(ctx, d.Elapsed.Seconds(), attrs)

	if d.Err != nil {
		m.deliveryFailures.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) DeadLettered(ctx context.Context, dl cbus.DeadLetter, handlers int) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", dl.Source),
		attribute.Bool("handled", handlers > 0),
	))
}

// Transition counts the transition and records startup time on RUNNING.
func (m *Metrics) Transition(t lifecycle.Transition) {
	ctx := context.Background()
	name := attribute.String("service", t.Service.Name())

	m.transitions.Add(ctx, 1, metric.WithAttributes(name, attribute.String("to", t.To.String())))

	if t.To != lifecycle.Running {
		return
	}

	if begin, ok := t.Service.TransitionTime(lifecycle.Starting); ok {
		m.startupDuration.Record(ctx, t.At.Sub(begin).Seconds(), metric.WithAttributes(name))
	}
}
