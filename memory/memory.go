// Package memory wires an in-process event bus with a recording dead-letter sink.
package memory

import (
	"github.com/next-trace/scg-service-kit/adapters/inmemory"
	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	"github.com/next-trace/scg-service-kit/eventbus"
)

// New constructs an event bus whose dead letters are also kept by the returned
// recorder, along with a cleanup function that closes the bus.
func New(opts ...eventbus.Option) (cbus.EventBus, *inmemory.Recorder, func()) { //nolint:ireturn
	rec := inmemory.New()
	b := eventbus.New(append([]eventbus.Option{eventbus.WithDeadLetterSink(rec)}, opts...)...)
	cleanup := func() { _ = b.Close() }

	return b, rec, cleanup
}
