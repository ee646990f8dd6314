package lifecycle

import (
	"context"
	"time"
)

// Service is a unit with a start/stop lifecycle.
//
// The supervisor depends only on this interface; the service package provides
// the idle, loop and scheduled implementations.
type Service interface {
	Name() string
	State() State

	// StartAsync moves a New service to Starting and returns without waiting.
	StartAsync() error
	// StopAsync requests a stop. It never fails for a service that already stopped.
	StopAsync()

	AwaitRunning(ctx context.Context) error
	AwaitTerminated(ctx context.Context) error

	// FailureCause returns the error that moved the service to Failed, or nil.
	FailureCause() error
	// TransitionTime returns when the service entered st, if it ever did.
	TransitionTime(st State) (time.Time, bool)

	// AddListener subscribes to transitions. Listeners run in transition order.
	AddListener(l Listener)
}

// Transition records a single state change.
type Transition struct {
	Service Service
	From    State
	To      State
	At      time.Time
	// Err is set when To is Failed.
	Err error
}

// Listener observes transitions. It must not block for long: transitions of
// the same service are delivered one at a time.
type Listener func(t Transition)
