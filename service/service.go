package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	berr "github.com/next-trace/scg-service-kit/contract/errors"
	"github.com/next-trace/scg-service-kit/contract/lifecycle"
)

// Service drives a Task through the lifecycle state machine.
//
// Transitions are made by the service's own goroutine, except for the ones a
// stop request causes directly (New to Terminated, Running to Stopping).
// State reads are atomic and may happen from any goroutine.
type Service struct {
	name   string
	task   Task
	logger *slog.Logger

	state atomic.Int32

	mu            sync.Mutex
	stopRequested bool
	cancel        context.CancelFunc
	cause         error
	times         map[lifecycle.State]time.Time
	changed       chan struct{}
	listeners     []lifecycle.Listener
	pending       []lifecycle.Transition

	dispatching sync.Mutex
}

var _ lifecycle.Service = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithListener subscribes l before the service can transition.
func WithListener(l lifecycle.Listener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, l) }
}

// New constructs a service in state New.
func New(name string, task Task, opts ...Option) (*Service, error) {
	if name == "" {
		return nil, fmt.Errorf("service name required: %w", berr.ErrInvalidService)
	}

	if task == nil {
		return nil, fmt.Errorf("service %s without task: %w", name, berr.ErrInvalidService)
	}

	if err := task.validate(); err != nil {
		return nil, fmt.Errorf("service %s: %w", name, err)
	}

	s := &Service{
		name:    name,
		task:    task,
		times:   map[lifecycle.State]time.Time{lifecycle.New: time.Now()},
		changed: make(chan struct{}),
	}

	for _, o := range opts {
		o(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	return s, nil
}

func (s *Service) Name() string { return s.name }

func (s *Service) String() string { return s.name + " [" + s.State().String() + "]" }

func (s *Service) State() lifecycle.State { return lifecycle.State(s.state.Load()) }

// StartAsync moves the service to Starting and runs its task on a new goroutine.
func (s *Service) StartAsync() error {
	s.mu.Lock()

	if st := s.State(); st != lifecycle.New {
		s.mu.Unlock()
		return fmt.Errorf("start %s in state %s: %w", s.name, st, berr.ErrIllegalState)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.transition(lifecycle.Starting, nil)
	s.mu.Unlock()

	s.dispatch()

	go s.run(ctx)

	return nil
}

// StopAsync requests a stop. A New service terminates at once; a Starting
// service stops as soon as it is running; stopped services are left alone.
func (s *Service) StopAsync() {
	s.mu.Lock()

	switch s.State() {
	case lifecycle.New:
		s.transition(lifecycle.Terminated, nil)
	case lifecycle.Starting:
		s.stopRequested = true
	case lifecycle.Running:
		s.stopRequested = true
		s.transition(lifecycle.Stopping, nil)
		s.cancel()
	default:
	}

	s.mu.Unlock()
	s.dispatch()
}

// AwaitRunning blocks until the service is Running. It fails with the
// service's failure, with ErrIllegalState when the service stopped without
// running, or with ErrTimeout when ctx ends first.
func (s *Service) AwaitRunning(ctx context.Context) error {
	return s.await(ctx, "running", func(st lifecycle.State) (bool, error) {
		switch st {
		case lifecycle.Running:
			return true, nil
		case lifecycle.Stopping, lifecycle.Terminated:
			return true, fmt.Errorf("await running %s: service is %s: %w", s.name, st, berr.ErrIllegalState)
		default:
			return false, nil
		}
	})
}

// AwaitTerminated blocks until the service is Terminated, or returns its failure.
func (s *Service) AwaitTerminated(ctx context.Context) error {
	return s.await(ctx, "terminated", func(st lifecycle.State) (bool, error) {
		return st == lifecycle.Terminated, nil
	})
}

func (s *Service) FailureCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cause
}

func (s *Service) TransitionTime(st lifecycle.State) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.times[st]

	return at, ok
}

func (s *Service) AddListener(l lifecycle.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Service) await(ctx context.Context, label string, done func(lifecycle.State) (bool, error)) error {
	for {
		s.mu.Lock()
		st, cause, changed := s.State(), s.cause, s.changed
		s.mu.Unlock()

		if st == lifecycle.Failed {
			return cause
		}

		if ok, err := done(st); ok {
			return err
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("await %s %s in state %s: %w: %w", label, s.name, st, berr.ErrTimeout, ctx.Err())
		}
	}
}

func (s *Service) run(ctx context.Context) {
	hooks := context.WithoutCancel(ctx)

	if err := guard(hooks, s.task.startUp); err != nil {
		s.fail(err)
		return
	}

	if !s.running() {
		err := guard(ctx, s.task.serve)
		if err != nil && !(s.stopping() && errors.Is(err, context.Canceled)) {
			s.fail(err)
			return
		}

		s.beginStop()
	}

	if err := guard(hooks, s.task.shutDown); err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.State() == lifecycle.Stopping {
		s.transition(lifecycle.Terminated, nil)
	}
	s.mu.Unlock()
	s.cancel()
	s.dispatch()
}

// running moves Starting to Running and reports whether a stop was requested
// meanwhile, in which case the service is already Stopping.
func (s *Service) running() bool {
	s.mu.Lock()
	defer s.dispatch()
	defer s.mu.Unlock()

	s.transition(lifecycle.Running, nil)

	if s.stopRequested {
		s.transition(lifecycle.Stopping, nil)
		s.cancel()

		return true
	}

	return false
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopRequested
}

func (s *Service) beginStop() {
	s.mu.Lock()
	if s.State() == lifecycle.Running {
		s.transition(lifecycle.Stopping, nil)
	}
	s.mu.Unlock()
	s.dispatch()
}

func (s *Service) fail(err error) {
	s.mu.Lock()

	from := s.State()
	if from.IsTerminal() {
		s.mu.Unlock()
		return
	}

	s.cause = &berr.ServiceFailureError{Service: s.name, State: from.String(), Err: err}
	s.transition(lifecycle.Failed, s.cause)
	s.cancel()
	s.mu.Unlock()

	s.logger.Error("service failed", "service", s.name, "state", from.String(), "error", err)
	s.dispatch()
}

// transition must be called with s.mu held. It panics on an edge the
// lifecycle graph does not have.
func (s *Service) transition(to lifecycle.State, err error) {
	from := s.State()
	if !from.CanTransition(to) {
		panic(fmt.Sprintf("service %s: illegal transition %s -> %s", s.name, from, to))
	}

	now := time.Now()

	s.state.Store(int32(to))
	s.times[to] = now
	s.pending = append(s.pending, lifecycle.Transition{Service: s, From: from, To: to, At: now, Err: err})

	close(s.changed)
	s.changed = make(chan struct{})
}

// dispatch delivers queued transitions in order, outside s.mu, so listeners
// may call back into the service. Only one goroutine drains at a time.
func (s *Service) dispatch() {
	for {
		if !s.dispatching.TryLock() {
			return
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}

			t := s.pending[0]
			s.pending = s.pending[1:]
			listeners := append([]lifecycle.Listener(nil), s.listeners...)
			s.mu.Unlock()

			s.logger.Debug("service transition", "service", s.name, "from", t.From.String(), "to", t.To.String())

			for _, l := range listeners {
				l(t)
			}
		}

		s.dispatching.Unlock()

		s.mu.Lock()
		more := len(s.pending) > 0
		s.mu.Unlock()

		if !more {
			return
		}
	}
}

func guard(ctx context.Context, f func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return f(ctx)
}
