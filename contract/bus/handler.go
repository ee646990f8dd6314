package bus

import (
	"context"
	"reflect"
)

// Binding associates a callback with the message type it accepts.
// Bindings are immutable once registered.
type Binding struct {
	// Type is the accepted message type. Interface types match every
	// message whose dynamic type implements them.
	Type reflect.Type
	// Call receives messages assignable to Type.
	Call func(ctx context.Context, msg Message) error
	// Concurrent allows invocations of this binding to overlap with other
	// invocations of the same handler.
	Concurrent bool
	// Name labels the binding in logs, metrics and delivery errors.
	Name string
}

// Handler declares, at registration time, the message types it accepts.
// The handler value is its identity and must be comparable; pointers are the usual choice.
type Handler interface {
	Bindings() []Binding
}
