// Package kafka exports dead letters to Kafka topics.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/next-trace/scg-service-kit/adapters/envelope"
	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	berr "github.com/next-trace/scg-service-kit/contract/errors"
)

// Writer is a minimal Kafka-like writer interface.
// Users can adapt any Kafka client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Sink implements cbus.DeadLetterSink using an injected Writer. Records are
// keyed by the source bus so one bus's dead letters stay ordered in a partition.
type Sink struct {
	Writer     Writer
	Topic      string // replaces deadletters.<type> when set
	Propagator cbus.HeaderPropagator
}

var _ cbus.DeadLetterSink = (*Sink)(nil)

// New creates a Kafka sink with the provided writer.
func New(w Writer) *Sink { return &Sink{Writer: w, Propagator: cbus.NopHeaderPropagator{}} }

func (s *Sink) Forward(ctx context.Context, dl cbus.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Writer == nil {
		return fmt.Errorf("kafka forward: %w", berr.ErrSinkNotConfigured)
	}

	env, val, err := envelope.Encode(dl)
	if err != nil {
		return fmt.Errorf("kafka forward serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := envelope.Headers(env)
	if s.Propagator != nil {
		s.Propagator.Inject(ctx, headers)
	}

	topic := envelope.Subject(dl.Message, s.Topic)
	if err = s.Writer.Write(ctx, topic, []byte(dl.Source), val, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka forward to %q: %w", topic, errors.Join(berr.ErrForwardFailed, err))
	}

	return nil
}
