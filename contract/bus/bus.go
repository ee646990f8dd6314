package bus

import "context"

// EventBus is the tech-agnostic surface of the in-process event bus.
//
// Consumers that only publish or register handlers should depend on this
// interface rather than on the concrete eventbus package.
type EventBus interface {
	// Register adds every binding declared by h. A handler may not declare
	// the same message type twice, nor be registered twice for a type.
	Register(h Handler) error

	// Unregister removes all bindings of h.
	Unregister(h Handler) error

	// Publish delivers msg to every handler whose binding accepts it, or
	// wraps it in a DeadLetter when no handler does.
	Publish(ctx context.Context, msg Message) error

	// Identifier names the bus; it is the provenance of its dead letters.
	Identifier() string

	// Lifecycle
	Close() error
}
