// Package nats exports dead letters to NATS subjects.
package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/next-trace/scg-service-kit/adapters/envelope"
	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	berr "github.com/next-trace/scg-service-kit/contract/errors"
)

// Client is a minimal NATS-like publisher interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
}

// Sink implements cbus.DeadLetterSink using an injected NATS-like Client.
type Sink struct {
	Client     Client
	Subject    string // replaces deadletters.<type> when set
	Propagator cbus.HeaderPropagator
}

var _ cbus.DeadLetterSink = (*Sink)(nil)

// New creates a NATS sink with the provided client.
func New(c Client) *Sink { return &Sink{Client: c, Propagator: cbus.NopHeaderPropagator{}} }

func (s *Sink) Forward(ctx context.Context, dl cbus.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Client == nil {
		return fmt.Errorf("nats forward: %w", berr.ErrSinkNotConfigured)
	}

	env, body, err := envelope.Encode(dl)
	if err != nil {
		return fmt.Errorf("nats forward serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := envelope.Headers(env)
	if s.Propagator != nil {
		s.Propagator.Inject(ctx, headers)
	}

	if err := s.Client.Publish(envelope.Subject(dl.Message, s.Subject), body, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats forward publish: %w", errors.Join(berr.ErrForwardFailed, err))
	}

	return nil
}
