package bus

import "context"

// HeaderPropagator abstracts injecting tracing context into headers of
// exported dead letters. Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// NopHeaderPropagator leaves headers untouched. Sinks use it until a propagator is set.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}
