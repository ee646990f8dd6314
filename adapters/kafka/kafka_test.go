package kafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/next-trace/scg-service-kit/adapters/envelope"
	"github.com/next-trace/scg-service-kit/adapters/kafka"
	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	berr "github.com/next-trace/scg-service-kit/contract/errors"
	"github.com/next-trace/scg-service-kit/eventbus"
)

type record struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	mu    sync.Mutex
	calls []record
	err   error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, record{topic, key, value, headers})

	return f.err
}

type ev struct{ X int }

func TestKafka_ForwardFromBus(t *testing.T) {
	fw := &fakeWriter{}
	b := eventbus.New(eventbus.WithIdentifier("Bus-K"), eventbus.WithDeadLetterSink(kafka.New(fw)))

	if err := b.Publish(t.Context(), &ev{X: 7}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fw.calls) != 1 {
		t.Fatalf("want 1 record, got %d", len(fw.calls))
	}

	r := fw.calls[0]
	if r.topic != "deadletters.ev" || string(r.key) != "Bus-K" {
		t.Fatalf("topic=%s key=%s", r.topic, r.key)
	}

	env, err := envelope.Decode(r.value)
	if err != nil || env.MessageType != "*kafka_test.ev" || string(env.Message) != `{"X":7}` {
		t.Fatalf("envelope=%+v err=%v", env, err)
	}

	if r.headers[envelope.HeaderMessageType] != "*kafka_test.ev" || len(r.headers) != 2 {
		t.Fatalf("headers=%v", r.headers)
	}
}

func TestKafka_DefaultPropagatorIsNop(t *testing.T) {
	if _, ok := kafka.New(&fakeWriter{}).Propagator.(cbus.NopHeaderPropagator); !ok {
		t.Fatal("New must install NopHeaderPropagator")
	}
}

func TestKafka_TopicOverride(t *testing.T) {
	fw := &fakeWriter{}
	s := &kafka.Sink{Writer: fw, Topic: "dlq"}

	_ = s.Forward(t.Context(), cbus.DeadLetter{Message: ev{}, Source: "b"})

	if fw.calls[0].topic != "dlq" {
		t.Fatalf("topic=%s", fw.calls[0].topic)
	}
}

func TestKafka_Errors(t *testing.T) {
	dl := cbus.DeadLetter{Message: ev{}, Source: "b"}

	if err := kafka.New(nil).Forward(t.Context(), dl); !errors.Is(err, berr.ErrSinkNotConfigured) {
		t.Fatalf("nil writer: %v", err)
	}

	err := kafka.New(&fakeWriter{err: errors.New("broker down")}).Forward(t.Context(), dl)
	if !errors.Is(err, berr.ErrForwardFailed) {
		t.Fatalf("write failure: %v", err)
	}

	err = kafka.New(&fakeWriter{err: context.Canceled}).Forward(t.Context(), dl)
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrForwardFailed) {
		t.Fatalf("cancel passthrough: %v", err)
	}

	err = kafka.New(&fakeWriter{}).Forward(t.Context(), cbus.DeadLetter{Message: func() {}})
	if !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("serialize: %v", err)
	}
}

func TestNewWithKgo_ConfigErrors(t *testing.T) {
	cases := []kafka.Config{
		{},
		{Brokers: []string{"localhost:9092"}, Acks: "some"},
		{Brokers: []string{"localhost:9092"}, Compression: "brotli"},
	}

	for _, cfg := range cases {
		if _, _, err := kafka.NewWithKgo(cfg); !errors.Is(err, berr.ErrSinkNotConfigured) {
			t.Fatalf("%+v: want ErrSinkNotConfigured, got %v", cfg, err)
		}
	}
}

func TestNewWithKgo_BuildsClient(t *testing.T) {
	// kgo connects lazily, so no broker is needed to build the client.
	s, cleanup, err := kafka.NewWithKgo(kafka.Config{
		Brokers: []string{"127.0.0.1:1"}, ClientID: "scgkit", Acks: "leader", Compression: "zstd", Topic: "dlq",
	})
	if err != nil {
		t.Fatalf("NewWithKgo: %v", err)
	}
	defer cleanup()

	if s.Topic != "dlq" {
		t.Fatalf("topic=%s", s.Topic)
	}
}
