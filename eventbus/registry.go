package eventbus

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	berr "github.com/next-trace/scg-service-kit/contract/errors"
)

var deadLetterType = reflect.TypeFor[cbus.DeadLetter]()

type entry struct {
	owner   cbus.Handler
	binding cbus.Binding
	name    string
	// gate serializes the owner's non-concurrent bindings.
	gate *sync.Mutex
}

// snapshot is immutable once published; resolved memoizes lookups against it.
type snapshot struct {
	entries  []*entry
	resolved sync.Map // reflect.Type -> []*entry
}

// Registry maps message types to the ordered bindings that accept them.
//
// Writers are serialized and publish a new snapshot; lookups read the current
// snapshot without locking, so a lookup never observes a half-applied
// registration and never returns a binding of an unregistered handler.
//
// A handler keeps its gate across unregistration, so an invocation resolved
// from an older snapshot still excludes the ones that follow a re-registration.
type Registry struct {
	mu    sync.Mutex
	gates map[cbus.Handler]*sync.Mutex
	snap  atomic.Pointer[snapshot]
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	r := &Registry{gates: make(map[cbus.Handler]*sync.Mutex)}
	r.snap.Store(&snapshot{})

	return r
}

// Add registers the bindings of owner. It is all-or-nothing: a binding whose
// type the owner already accepts fails the whole call with ErrDuplicateBinding.
func (r *Registry) Add(owner cbus.Handler, bindings ...cbus.Binding) error {
	if err := validateOwner(owner); err != nil {
		return err
	}

	if len(bindings) == 0 {
		return fmt.Errorf("register %T: no bindings: %w", owner, berr.ErrInvalidHandler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()

	seen := make(map[reflect.Type]struct{}, len(bindings))
	for _, e := range cur.entries {
		if e.owner == owner {
			seen[e.binding.Type] = struct{}{}
		}
	}

	for _, b := range bindings {
		if b.Type == nil || b.Call == nil {
			return fmt.Errorf("register %T: incomplete binding: %w", owner, berr.ErrInvalidHandler)
		}

		if _, dup := seen[b.Type]; dup {
			return fmt.Errorf("register %T for %s: %w", owner, b.Type.String(), berr.ErrDuplicateBinding)
		}

		seen[b.Type] = struct{}{}
	}

	gate, ok := r.gates[owner]
	if !ok {
		gate = &sync.Mutex{}
		r.gates[owner] = gate
	}

	next := make([]*entry, len(cur.entries), len(cur.entries)+len(bindings))
	copy(next, cur.entries)

	for _, b := range bindings {
		name := b.Name
		if name == "" {
			name = fmt.Sprintf("%T(%s)", owner, b.Type.String())
		}

		next = append(next, &entry{owner: owner, binding: b, name: name, gate: gate})
	}

	r.snap.Store(&snapshot{entries: next})

	return nil
}

// Remove drops every binding of owner. It reports ErrNotRegistered when owner has none.
func (r *Registry) Remove(owner cbus.Handler) error {
	if err := validateOwner(owner); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := make([]*entry, 0, len(cur.entries))

	for _, e := range cur.entries {
		if e.owner != owner {
			next = append(next, e)
		}
	}

	if len(next) == len(cur.entries) {
		return fmt.Errorf("unregister %T: %w", owner, berr.ErrNotRegistered)
	}

	r.snap.Store(&snapshot{entries: next})

	return nil
}

// Lookup returns, in registration order, the bindings accepting messages of type t.
func (r *Registry) Lookup(t reflect.Type) []cbus.Binding {
	entries := r.resolve(t)
	out := make([]cbus.Binding, 0, len(entries))

	for _, e := range entries {
		out = append(out, e.binding)
	}

	return out
}

// Registered reports whether owner has at least one binding.
func (r *Registry) Registered(owner cbus.Handler) bool {
	for _, e := range r.snap.Load().entries {
		if e.owner == owner {
			return true
		}
	}

	return false
}

// Len returns the number of bindings.
func (r *Registry) Len() int { return len(r.snap.Load().entries) }

func (r *Registry) resolve(t reflect.Type) []*entry {
	s := r.snap.Load()
	if v, ok := s.resolved.Load(t); ok {
		return v.([]*entry)
	}

	var out []*entry

	for _, e := range s.entries {
		if accepts(e.binding.Type, t) {
			out = append(out, e)
		}
	}

	s.resolved.Store(t, out)

	return out
}

func accepts(bound, msg reflect.Type) bool {
	if bound == msg {
		return true
	}

	return bound.Kind() == reflect.Interface && msg.Implements(bound)
}

func validateOwner(owner cbus.Handler) error {
	if owner == nil {
		return fmt.Errorf("handler <nil>: %w", berr.ErrInvalidHandler)
	}

	v := reflect.ValueOf(owner)
	if !v.Comparable() {
		return fmt.Errorf("handler %T is not comparable: %w", owner, berr.ErrInvalidHandler)
	}

	if v.Kind() == reflect.Ptr && v.IsNil() {
		return fmt.Errorf("handler %T is nil: %w", owner, berr.ErrInvalidHandler)
	}

	return nil
}
