package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-service-kit/adapters/envelope"
	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	berr "github.com/next-trace/scg-service-kit/contract/errors"
)

// DefaultExchange is the topic exchange dead letters are published to.
const DefaultExchange = "deadletters"

type PubMsg struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

type Sink struct {
	Publisher  Publisher
	Exchange   string
	RoutingKey string                // replaces deadletters.<type> when set
	Propagator cbus.HeaderPropagator // nil skips header propagation
}

var _ cbus.DeadLetterSink = (*Sink)(nil)

func New(p Publisher) *Sink {
	return &Sink{Publisher: p, Exchange: DefaultExchange, Propagator: cbus.NopHeaderPropagator{}}
}

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp cbus.HeaderPropagator) *Sink {
	s := New(p)
	if hp != nil {
		s.Propagator = hp
	}

	return s
}

func (s *Sink) Forward(ctx context.Context, dl cbus.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Publisher == nil {
		return fmt.Errorf("rabbitmq forward: %w", berr.ErrSinkNotConfigured)
	}

	env, body, err := envelope.Encode(dl)
	if err != nil {
		return fmt.Errorf("rabbitmq forward serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := envelope.Headers(env)
	if s.Propagator != nil {
		s.Propagator.Inject(ctx, headers)
	}

	msg := PubMsg{
		Exchange:   s.Exchange,
		RoutingKey: envelope.Subject(dl.Message, s.RoutingKey),
		MessageID:  env.ID,
		Body:       body,
		Headers:    headers,
	}
	if err := s.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq forward publish: %w", errors.Join(berr.ErrForwardFailed, err))
	}

	return nil
}

func publishing(m PubMsg) amqp.Publishing {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		MessageId:    m.MessageID,
		Headers:      h,
		ContentType:  "application/json",
		Body:         m.Body,
	}
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m))
}

// NewWithAMQPChannel publishes on a caller-managed channel; the exchange must already exist.
func NewWithAMQPChannel(ch *amqp.Channel) *Sink {
	return New(amqpChannelPublisher{ch: ch})
}
