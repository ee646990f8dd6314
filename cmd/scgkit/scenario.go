package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	"github.com/next-trace/scg-service-kit/eventbus"
)

// Event is the message the demo listener subscribes to.
type Event struct{ Name string }

// Listener records the events and dead letters delivered to it.
type Listener struct {
	name string
	log  *zap.Logger

	mu     sync.Mutex
	events []Event
	dead   []cbus.DeadLetter
}

func NewListener(name string, log *zap.Logger) *Listener {
	return &Listener{name: name, log: log}
}

func (l *Listener) Bindings() []cbus.Binding {
	return []cbus.Binding{
		eventbus.On(l.processEvent, eventbus.AllowConcurrent(), eventbus.Named(l.name)),
		eventbus.On(l.processDeadEvent, eventbus.Named(l.name+"/dead")),
	}
}

func (l *Listener) processEvent(_ context.Context, e Event) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()

	l.log.Info("event received", zap.String("listener", l.name), zap.String("event", e.Name))

	return nil
}

func (l *Listener) processDeadEvent(_ context.Context, dl cbus.DeadLetter) error {
	l.mu.Lock()
	l.dead = append(l.dead, dl)
	l.mu.Unlock()

	l.log.Info("dead event received",
		zap.String("listener", l.name), zap.Any("event", dl.Message), zap.String("source", dl.Source))

	return nil
}

// Received returns copies of what the listener has seen so far.
func (l *Listener) Received() ([]Event, []cbus.DeadLetter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Event(nil), l.events...), append([]cbus.DeadLetter(nil), l.dead...)
}

// monitor consumes what the demo services publish.
type monitor struct{ log *zap.Logger }

func (m monitor) Bindings() []cbus.Binding {
	return []cbus.Binding{
		eventbus.On(func(_ context.Context, t Tick) error {
			m.log.Info("tick", zap.String("service", t.Service), zap.Int("run", t.Run), zap.Time("at", t.At))
			return nil
		}, eventbus.AllowConcurrent(), eventbus.Named("monitor/tick")),
		eventbus.On(func(_ context.Context, p Progress) error {
			m.log.Info("progress", zap.String("service", p.Service), zap.Int("count", p.Count))
			return nil
		}, eventbus.AllowConcurrent(), eventbus.Named("monitor/progress")),
	}
}

// replay runs the register/publish, dead event and unregister walkthrough and
// writes one line per observation to report.
func replay(ctx context.Context, bus cbus.EventBus, log *zap.Logger, report func(string, ...any)) error {
	l := NewListener("Listener1", log)
	if err := bus.Register(l); err != nil {
		return fmt.Errorf("register %s: %w", l.name, err)
	}

	if err := bus.Publish(ctx, Event{Name: "Event1"}); err != nil {
		return err
	}

	if err := bus.Publish(ctx, "Banana"); err != nil {
		return err
	}

	events, dead := l.Received()
	for _, e := range events {
		report("%s received event %s", l.name, e.Name)
	}

	for _, d := range dead {
		report("%s received dead event %v from %s", l.name, d.Message, d.Source)
	}

	if err := bus.Unregister(l); err != nil {
		return fmt.Errorf("unregister %s: %w", l.name, err)
	}

	if err := bus.Publish(ctx, Event{Name: "Event2"}); err != nil {
		return err
	}

	if events, _ = l.Received(); len(events) == 1 {
		report("%s unregistered; Event2 was not delivered to it", l.name)
	}

	return nil
}
