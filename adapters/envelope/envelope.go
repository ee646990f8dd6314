// Package envelope defines the JSON form in which dead-letter sinks export
// unhandled events.
package envelope

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
)

const (
	// SubjectPrefix prefixes the default subject, topic or routing key.
	SubjectPrefix = "deadletters."

	HeaderSource      = "x-dead-letter-source"
	HeaderMessageType = "x-message-type"
)

// Envelope is the exported form of a dead letter.
type Envelope struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	MessageType string          `json:"message_type"`
	Message     json.RawMessage `json:"message"`
	Time        time.Time       `json:"time"`
}

// New wraps dl with a fresh id. It fails when the message is not JSON encodable.
func New(dl cbus.DeadLetter, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(dl.Message)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		ID:          uuid.NewString(),
		Source:      dl.Source,
		MessageType: fmt.Sprintf("%T", dl.Message),
		Message:     raw,
		Time:        now.UTC(),
	}, nil
}

// Encode returns the envelope body for dl.
func Encode(dl cbus.DeadLetter) (Envelope, []byte, error) {
	env, err := New(dl, time.Now())
	if err != nil {
		return Envelope{}, nil, err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, err
	}

	return env, body, nil
}

// Decode parses an envelope body.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}

	return env, nil
}

// Headers returns the transport headers for env.
func Headers(env Envelope) map[string]string {
	return map[string]string{
		HeaderSource:      env.Source,
		HeaderMessageType: env.MessageType,
	}
}

// Subject returns override when set, otherwise SubjectPrefix plus the
// message's type name with pointers dereferenced.
func Subject(msg any, override string) string {
	if override != "" {
		return override
	}

	return SubjectPrefix + TypeName(msg)
}

func TypeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	name := t.Name()
	if name == "" { // unnamed (e.g., map/struct literal)
		name = t.String()
	}

	return name
}
