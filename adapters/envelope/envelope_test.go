package envelope_test

import (
	"testing"
	"time"

	"github.com/next-trace/scg-service-kit/adapters/envelope"
	cbus "github.com/next-trace/scg-service-kit/contract/bus"
)

type orderPlaced struct {
	ID string `json:"id"`
}

func TestEncodeDecode(t *testing.T) {
	dl := cbus.DeadLetter{Message: &orderPlaced{ID: "o-1"}, Source: "Bus-1"}

	env, body, err := envelope.Encode(dl)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := envelope.Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.ID == "" || got.ID != env.ID {
		t.Fatalf("id mismatch: %q vs %q", got.ID, env.ID)
	}

	if got.Source != "Bus-1" || got.MessageType != "*envelope_test.orderPlaced" {
		t.Fatalf("unexpected envelope: %+v", got)
	}

	if string(got.Message) != `{"id":"o-1"}` {
		t.Fatalf("message=%s", got.Message)
	}

	if time.Since(got.Time) > time.Minute {
		t.Fatalf("stale time %v", got.Time)
	}

	h := envelope.Headers(got)
	if h[envelope.HeaderSource] != "Bus-1" || h[envelope.HeaderMessageType] != got.MessageType {
		t.Fatalf("headers=%v", h)
	}
}

func TestEncode_Unserializable(t *testing.T) {
	if _, _, err := envelope.Encode(cbus.DeadLetter{Message: func() {}}); err == nil {
		t.Fatal("expected error for func message")
	}
}

func TestSubject(t *testing.T) {
	cases := []struct {
		msg      any
		override string
		want     string
	}{
		{orderPlaced{}, "", "deadletters.orderPlaced"},
		{&orderPlaced{}, "", "deadletters.orderPlaced"},
		{"Banana", "", "deadletters.string"},
		{map[string]int{}, "", "deadletters.map[string]int"},
		{"Banana", "dlq", "dlq"},
	}

	for _, c := range cases {
		if got := envelope.Subject(c.msg, c.override); got != c.want {
			t.Fatalf("Subject(%T,%q)=%q want %q", c.msg, c.override, got, c.want)
		}
	}
}
