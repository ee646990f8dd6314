package eventbus_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	berr "github.com/next-trace/scg-service-kit/contract/errors"
	"github.com/next-trace/scg-service-kit/eventbus"
)

func TestRegistry_LookupOrderAndMatching(t *testing.T) {
	r := eventbus.NewRegistry()

	first := eventbus.Handlers(eventbus.On(func(context.Context, labelled) error { return nil }, eventbus.Named("exact")))
	second := eventbus.Handlers(eventbus.On(func(context.Context, named) error { return nil }, eventbus.Named("iface")))
	third := eventbus.Handlers(eventbus.On(func(context.Context, cbus.DeadLetter) error { return nil }, eventbus.Named("dead")))

	for _, h := range []*eventbus.HandlerSet{first, second, third} {
		if err := r.Add(h, h.Bindings()...); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	got := r.Lookup(reflect.TypeFor[labelled]())
	if len(got) != 2 || got[0].Name != "exact" || got[1].Name != "iface" {
		t.Fatalf("lookup labelled=%v", names(got))
	}

	if got := r.Lookup(reflect.TypeFor[cbus.DeadLetter]()); len(got) != 1 || got[0].Name != "dead" {
		t.Fatalf("lookup dead letter=%v", names(got))
	}

	if got := r.Lookup(reflect.TypeFor[string]()); len(got) != 0 {
		t.Fatalf("lookup string=%v", names(got))
	}

	// snapshot replaced on write: cached lookups must not leak removed bindings
	if err := r.Remove(first); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if got := r.Lookup(reflect.TypeFor[labelled]()); len(got) != 1 || got[0].Name != "iface" {
		t.Fatalf("after remove=%v", names(got))
	}

	if err := r.Remove(first); !errors.Is(err, berr.ErrNotRegistered) {
		t.Fatalf("want ErrNotRegistered, got %v", err)
	}
}

func TestRegistry_IncompleteBinding(t *testing.T) {
	r := eventbus.NewRegistry()
	h := eventbus.Handlers()

	if err := r.Add(h, cbus.Binding{Type: reflect.TypeFor[string]()}); !errors.Is(err, berr.ErrInvalidHandler) {
		t.Fatalf("want ErrInvalidHandler, got %v", err)
	}
}

func names(bs []cbus.Binding) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Name)
	}

	return out
}
