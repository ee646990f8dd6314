package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	berr "github.com/next-trace/scg-service-kit/contract/errors"
)

// Bus is an in-process event bus backed by a Registry.
//
// Publish runs on the caller's goroutine and returns once every matching
// handler has returned. Distinct handlers run in parallel unless the bus was
// built WithSequentialDelivery. Invocations of one handler's non-concurrent
// bindings never overlap, so a single publisher observes them in publish order.
// A non-concurrent handler must not synchronously publish a message it handles itself.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	id         string
	registry   *Registry
	observers  []cbus.Observer
	sinks      []cbus.DeadLetterSink
	sequential bool
	logger     *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

var _ cbus.EventBus = (*Bus)(nil)

// Option configures a Bus instance.
type Option func(*Bus)

// WithIdentifier names the bus. The name is the Source of its dead letters.
func WithIdentifier(id string) Option { return func(b *Bus) { b.id = id } }

// WithObserver adds an observer of deliveries and dead letters.
func WithObserver(o cbus.Observer) Option {
	return func(b *Bus) { b.observers = append(b.observers, o) }
}

// WithDeadLetterSink adds a sink that receives every synthesized dead letter.
func WithDeadLetterSink(s cbus.DeadLetterSink) Option {
	return func(b *Bus) { b.sinks = append(b.sinks, s) }
}

// WithSequentialDelivery invokes matching handlers one after another in registration order.
func WithSequentialDelivery() Option { return func(b *Bus) { b.sequential = true } }

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithRegistry shares a registry between buses.
func WithRegistry(r *Registry) Option { return func(b *Bus) { b.registry = r } }

// New constructs a Bus. Without WithIdentifier the bus is named "Bus-<uuid>".
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, o := range opts {
		o(b)
	}

	if b.id == "" {
		b.id = "Bus-" + uuid.NewString()
	}

	if b.registry == nil {
		b.registry = NewRegistry()
	}

	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}

	return b
}

// Identifier returns the bus name.
func (b *Bus) Identifier() string { return b.id }

// Registry exposes the dispatch registry for introspection.
func (b *Bus) Registry() *Registry { return b.registry }

// Register adds every binding h declares.
func (b *Bus) Register(h cbus.Handler) error {
	if err := validateOwner(h); err != nil {
		return err
	}

	if err := b.registry.Add(h, h.Bindings()...); err != nil {
		return err
	}

	b.logger.Debug("handler registered", "bus", b.id, "handler", fmt.Sprintf("%T", h))

	return nil
}

// Unregister removes every binding of h. It returns ErrNotRegistered, which
// callers may ignore, when h was not registered.
func (b *Bus) Unregister(h cbus.Handler) error {
	if err := b.registry.Remove(h); err != nil {
		return err
	}

	b.logger.Debug("handler unregistered", "bus", b.id, "handler", fmt.Sprintf("%T", h))

	return nil
}

// Publish delivers msg to every handler accepting its type. When none does,
// msg is wrapped in a DeadLetter which is forwarded to the configured sinks
// and delivered to the DeadLetter handlers; without such handlers it is
// dropped. Dead letters are never wrapped again.
//
// Handler failures do not stop the fan-out; they are returned together as
// DeliveryError values joined with errors.Join.
func (b *Bus) Publish(ctx context.Context, msg cbus.Message) error {
	if isAbsent(msg) {
		return fmt.Errorf("publish %T: %w", msg, berr.ErrInvalidMessage)
	}

	if !b.enter() {
		return fmt.Errorf("publish %T: %w", msg, berr.ErrClosed)
	}
	defer b.inflight.Done()

	t := reflect.TypeOf(msg)
	if entries := b.registry.resolve(t); len(entries) > 0 {
		return b.deliver(ctx, msg, t, entries)
	}

	if _, ok := msg.(cbus.DeadLetter); ok {
		return nil
	}

	dl := cbus.DeadLetter{Message: msg, Source: b.id}
	entries := b.registry.resolve(deadLetterType)

	b.logger.DebugContext(ctx, "dead letter", "bus", b.id, "message_type", t.String(), "handlers", len(entries))

	for _, o := range b.observers {
		o.DeadLettered(ctx, dl, len(entries))
	}

	b.forward(ctx, dl)

	if len(entries) == 0 {
		return nil
	}

	return b.deliver(ctx, dl, deadLetterType, entries)
}

// Close rejects further publishes and waits for in-flight ones to return.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()

	return nil
}

func (b *Bus) enter() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	b.inflight.Add(1)

	return true
}

func (b *Bus) deliver(ctx context.Context, msg cbus.Message, t reflect.Type, entries []*entry) error {
	errs := make([]error, len(entries))

	if b.sequential || len(entries) == 1 {
		for i, e := range entries {
			errs[i] = b.invoke(ctx, msg, t, e)
		}

		return errors.Join(errs...)
	}

	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Go(func() { errs[i] = b.invoke(ctx, msg, t, e) })
	}

	wg.Wait()

	return errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, msg cbus.Message, t reflect.Type, e *entry) (err error) {
	if !e.binding.Concurrent {
		e.gate.Lock()
		defer e.gate.Unlock()
	}

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		if err != nil {
			err = &berr.DeliveryError{Handler: e.name, MessageType: t.String(), Err: err}
			b.logger.WarnContext(ctx, "delivery failed", "bus", b.id, "handler", e.name, "error", err)
		}

		d := cbus.Delivery{
			Message:     msg,
			MessageType: t.String(),
			Handler:     e.name,
			Elapsed:     time.Since(start),
			Err:         err,
		}
		for _, o := range b.observers {
			o.Delivered(ctx, d)
		}
	}()

	return e.binding.Call(ctx, msg)
}

func (b *Bus) forward(ctx context.Context, dl cbus.DeadLetter) {
	for _, s := range b.sinks {
		if err := s.Forward(ctx, dl); err != nil {
			b.logger.WarnContext(ctx, "dead letter forward failed", "bus", b.id, "error", err)
		}
	}
}

func isAbsent(msg cbus.Message) bool {
	if msg == nil {
		return true
	}

	v := reflect.ValueOf(msg)

	return v.Kind() == reflect.Ptr && v.IsNil()
}
