package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	berr "github.com/next-trace/scg-service-kit/contract/errors"
)

// BindOption configures a binding built by On.
type BindOption func(*cbus.Binding)

// AllowConcurrent lets invocations of the binding overlap with other
// invocations of the same handler.
func AllowConcurrent() BindOption { return func(b *cbus.Binding) { b.Concurrent = true } }

// Named labels the binding in logs, metrics and delivery errors.
func Named(name string) BindOption { return func(b *cbus.Binding) { b.Name = name } }

// On builds a binding for messages of type M. M may be an interface type, in
// which case every message implementing it is accepted.
func On[M any](fn func(ctx context.Context, m M) error, opts ...BindOption) cbus.Binding {
	b := cbus.Binding{
		Type: reflect.TypeFor[M](),
		Call: func(ctx context.Context, v cbus.Message) error {
			m, ok := v.(M)
			if !ok {
				return fmt.Errorf("deliver %T: %w", v, berr.ErrInvalidMessage)
			}

			return fn(ctx, m)
		},
	}

	for _, o := range opts {
		o(&b)
	}

	return b
}

// HandlerSet is a handler assembled from bindings. Its pointer is its identity.
type HandlerSet struct {
	bindings []cbus.Binding
}

// Handlers builds an anonymous handler from bindings.
func Handlers(bindings ...cbus.Binding) *HandlerSet {
	return &HandlerSet{bindings: append([]cbus.Binding(nil), bindings...)}
}

// Bindings implements bus.Handler.
func (h *HandlerSet) Bindings() []cbus.Binding { return h.bindings }

// DeliveryErrors flattens the error returned by Publish into its per-handler failures.
func DeliveryErrors(err error) []*berr.DeliveryError {
	if err == nil {
		return nil
	}

	if de, ok := err.(*berr.DeliveryError); ok { //nolint:errorlint // exact match before unwrapping
		return []*berr.DeliveryError{de}
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok { //nolint:errorlint
		var out []*berr.DeliveryError
		for _, e := range joined.Unwrap() {
			out = append(out, DeliveryErrors(e)...)
		}

		return out
	}

	return DeliveryErrors(errors.Unwrap(err))
}
