package bus

import (
	"context"
	"time"
)

// Delivery describes one handler invocation.
type Delivery struct {
	Message     Message
	MessageType string
	Handler     string
	Elapsed     time.Duration
	Err         error
}

// Observer is notified of deliveries and dead letters. Implementations must be
// safe for concurrent use; they are called from the delivering goroutine.
type Observer interface {
	Delivered(ctx context.Context, d Delivery)
	DeadLettered(ctx context.Context, dl DeadLetter, handlers int)
}

// DeadLetterSink exports dead letters outside the bus (a broker, a recorder).
// Sinks never take part in delivery: a sink error is logged, not returned to the publisher.
type DeadLetterSink interface {
	Forward(ctx context.Context, dl DeadLetter) error
}
