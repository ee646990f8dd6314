// Package inmemory provides a dead-letter sink that keeps what it receives,
// for tests and examples.
package inmemory

import (
	"context"
	"slices"
	"sync"

	cbus "github.com/next-trace/scg-service-kit/contract/bus"
)

// Recorder is a thread-safe in-memory implementation of cbus.DeadLetterSink.
type Recorder struct {
	mu      sync.Mutex
	letters []cbus.DeadLetter
}

var _ cbus.DeadLetterSink = (*Recorder)(nil)

// New creates an empty recorder.
func New() *Recorder { return &Recorder{} }

func (r *Recorder) Forward(ctx context.Context, dl cbus.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.letters = append(r.letters, dl)
	r.mu.Unlock()

	return nil
}

// DeadLetters returns a copy of everything forwarded so far, oldest first.
func (r *Recorder) DeadLetters() []cbus.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.letters)
}

// Reset drops the recorded dead letters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.letters = nil
	r.mu.Unlock()
}
