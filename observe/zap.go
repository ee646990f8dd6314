package observe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	"github.com/next-trace/scg-service-kit/contract/lifecycle"
)

// Zap logs deliveries, dead letters and transitions to a *zap.Logger.
type Zap struct {
	log *zap.Logger
}

var _ cbus.Observer = (*Zap)(nil)

// NewZap wraps log; nil selects a no-op logger.
func NewZap(log *zap.Logger) *Zap {
	if log == nil {
		log = zap.NewNop()
	}

	return &Zap{log: log}
}

func (o *Zap) Delivered(_ context.Context, d cbus.Delivery) {
	fields := []zap.Field{
		zap.String("handler", d.Handler),
		zap.String("message_type", d.MessageType),
		zap.Duration("elapsed", d.Elapsed),
	}

	if d.Err != nil {
		o.log.Warn("event delivery failed", append(fields, zap.Error(d.Err))...)
		return
	}

	o.log.Debug("event delivered", fields...)
}

func (o *Zap) DeadLettered(_ context.Context, dl cbus.DeadLetter, handlers int) {
	o.log.Info("dead letter",
		zap.Any("message", dl.Message),
		zap.String("message_type", typeName(dl.Message)),
		zap.String("source", dl.Source),
		zap.Int("handlers", handlers),
	)
}

// Transition logs a lifecycle transition; RUNNING entries carry the startup duration.
func (o *Zap) Transition(t lifecycle.Transition) {
	fields := []zap.Field{
		zap.String("service", t.Service.Name()),
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()),
	}

	switch t.To {
	case lifecycle.Running:
		if d, ok := startup(t); ok {
			fields = append(fields, zap.Duration("startup", d))
		}
	case lifecycle.Failed:
		o.log.Error("service transition", append(fields, zap.Error(t.Err))...)
		return
	default:
	}

	o.log.Info("service transition", fields...)
}

func startup(t lifecycle.Transition) (time.Duration, bool) {
	begin, ok := t.Service.TransitionTime(lifecycle.Starting)
	if !ok {
		return 0, false
	}

	return t.At.Sub(begin), true
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
