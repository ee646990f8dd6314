package observe

import (
	"context"
	"log/slog"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	"github.com/next-trace/scg-service-kit/contract/lifecycle"
)

// Slog logs deliveries, dead letters and transitions to a *slog.Logger.
type Slog struct {
	logger *slog.Logger
}

var _ cbus.Observer = (*Slog)(nil)

// NewSlog wraps l; nil selects slog.Default().
func NewSlog(l *slog.Logger) *Slog {
	if l == nil {
		l = slog.Default()
	}

	return &Slog{logger: l}
}

func (o *Slog) Delivered(ctx context.Context, d cbus.Delivery) {
	if d.Err != nil {
		o.logger.WarnContext(ctx, "event delivery failed",
			"handler", d.Handler, "message_type", d.MessageType, "elapsed", d.Elapsed, "error", d.Err)

		return
	}

	o.logger.DebugContext(ctx, "event delivered",
		"handler", d.Handler, "message_type", d.MessageType, "elapsed", d.Elapsed)
}

func (o *Slog) DeadLettered(ctx context.Context, dl cbus.DeadLetter, handlers int) {
	o.logger.InfoContext(ctx, "dead letter",
		"message", dl.Message, "message_type", typeName(dl.Message), "source", dl.Source, "handlers", handlers)
}

// Transition logs a lifecycle transition; RUNNING entries carry the startup duration.
func (o *Slog) Transition(t lifecycle.Transition) {
	attrs := []any{"service", t.Service.Name(), "from", t.From.String(), "to", t.To.String()}

	switch t.To {
	case lifecycle.Running:
		if d, ok := startup(t); ok {
			attrs = append(attrs, "startup", d)
		}
	case lifecycle.Failed:
		o.logger.Error("service transition", append(attrs, "error", t.Err)...)
		return
	default:
	}

	o.logger.Info("service transition", attrs...)
}
