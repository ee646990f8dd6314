package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	berr "github.com/next-trace/scg-service-kit/contract/errors"
	"github.com/next-trace/scg-service-kit/contract/lifecycle"
)

// Supervisor owns a fixed set of services.
type Supervisor struct {
	services     []lifecycle.Service
	listeners    []lifecycle.Listener
	startTimeout time.Duration
	stopTimeout  time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	states  map[lifecycle.Service]lifecycle.State
	changed chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithStartTimeout bounds AwaitHealthy when the caller's context has no deadline.
func WithStartTimeout(d time.Duration) Option { return func(s *Supervisor) { s.startTimeout = d } }

// WithStopTimeout bounds AwaitStopped when the caller's context has no deadline.
func WithStopTimeout(d time.Duration) Option { return func(s *Supervisor) { s.stopTimeout = d } }

// WithListener receives the transitions of every supervised service.
func WithListener(l lifecycle.Listener) Option {
	return func(s *Supervisor) { s.listeners = append(s.listeners, l) }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// New supervises services. The set must be non-empty and must not contain the
// same service, or two services with the same name, twice.
func New(services []lifecycle.Service, opts ...Option) (*Supervisor, error) {
	if len(services) == 0 {
		return nil, fmt.Errorf("supervise: no services: %w", berr.ErrInvalidServiceSet)
	}

	names := make(map[string]struct{}, len(services))
	seen := make(map[lifecycle.Service]struct{}, len(services))

	for _, svc := range services {
		if svc == nil {
			return nil, fmt.Errorf("supervise: nil service: %w", berr.ErrInvalidServiceSet)
		}

		if _, dup := seen[svc]; dup {
			return nil, fmt.Errorf("supervise %s twice: %w", svc.Name(), berr.ErrInvalidServiceSet)
		}

		if _, dup := names[svc.Name()]; dup {
			return nil, fmt.Errorf("supervise: duplicate name %s: %w", svc.Name(), berr.ErrInvalidServiceSet)
		}

		seen[svc] = struct{}{}
		names[svc.Name()] = struct{}{}
	}

	s := &Supervisor{
		services: append([]lifecycle.Service(nil), services...),
		states:   make(map[lifecycle.Service]lifecycle.State, len(services)),
		changed:  make(chan struct{}),
	}

	for _, o := range opts {
		o(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	for _, svc := range s.services {
		svc.AddListener(s.observe)
	}

	// A transition delivered before the seed is newer than anything read here.
	s.mu.Lock()
	for _, svc := range s.services {
		if _, ok := s.states[svc]; !ok {
			s.states[svc] = svc.State()
		}
	}
	s.mu.Unlock()

	return s, nil
}

// Services returns the supervised services in construction order.
func (s *Supervisor) Services() []lifecycle.Service {
	return append([]lifecycle.Service(nil), s.services...)
}

// StartAll starts every service without waiting for any of them. It fails
// with ErrIllegalState, starting nothing, if a service is not New.
func (s *Supervisor) StartAll() error {
	for _, svc := range s.services {
		if st := svc.State(); st != lifecycle.New {
			return fmt.Errorf("start all: service %s is %s: %w", svc.Name(), st, berr.ErrIllegalState)
		}
	}

	var errs []error

	for _, svc := range s.services {
		if err := svc.StartAsync(); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("services starting", "count", len(s.services))

	return errors.Join(errs...)
}

// StopAll requests every service to stop without waiting.
func (s *Supervisor) StopAll() {
	for _, svc := range s.services {
		svc.StopAsync()
	}

	s.logger.Info("services stopping", "count", len(s.services))
}

// AwaitHealthy blocks until every service is RUNNING. It returns the
// ServiceFailureError of the first service seen FAILED, ErrIllegalState when
// a service stopped without failing, or ErrTimeout when ctx (or the start
// timeout) ends first.
func (s *Supervisor) AwaitHealthy(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx, s.startTimeout)
	defer cancel()

	return s.await(ctx, "healthy", func(states map[lifecycle.Service]lifecycle.State) (bool, error) {
		healthy := true

		for _, svc := range s.services {
			switch st := states[svc]; st {
			case lifecycle.Running:
			case lifecycle.Failed:
				return true, svc.FailureCause()
			case lifecycle.Stopping, lifecycle.Terminated:
				return true, fmt.Errorf("await healthy: service %s is %s: %w", svc.Name(), st, berr.ErrIllegalState)
			default:
				healthy = false
			}
		}

		return healthy, nil
	})
}

// AwaitStopped blocks until every service is TERMINATED or FAILED.
func (s *Supervisor) AwaitStopped(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx, s.stopTimeout)
	defer cancel()

	return s.await(ctx, "stopped", func(states map[lifecycle.Service]lifecycle.State) (bool, error) {
		for _, svc := range s.services {
			if !states[svc].IsTerminal() {
				return false, nil
			}
		}

		return true, nil
	})
}

// Shutdown stops every service and waits for all of them.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.StopAll()
	return s.AwaitStopped(ctx)
}

// IsHealthy reports whether every service is RUNNING.
func (s *Supervisor) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, svc := range s.services {
		if s.states[svc] != lifecycle.Running {
			return false
		}
	}

	return true
}

// ServicesByState groups the services by state, read at a single instant.
// Services keep construction order within a group; empty groups are omitted.
func (s *Supervisor) ServicesByState() map[lifecycle.State][]lifecycle.Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[lifecycle.State][]lifecycle.Service)
	for _, svc := range s.services {
		st := s.states[svc]
		out[st] = append(out[st], svc)
	}

	return out
}

// StartupDurations maps each service that reached RUNNING to the time it
// spent between STARTING and RUNNING.
func (s *Supervisor) StartupDurations() map[lifecycle.Service]time.Duration {
	out := make(map[lifecycle.Service]time.Duration, len(s.services))

	for _, svc := range s.services {
		begin, started := svc.TransitionTime(lifecycle.Starting)
		end, running := svc.TransitionTime(lifecycle.Running)

		if started && running {
			out[svc] = end.Sub(begin)
		}
	}

	return out
}

func (s *Supervisor) observe(t lifecycle.Transition) {
	s.mu.Lock()

	s.states[t.Service] = t.To
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if t.To == lifecycle.Failed {
		s.logger.Error("service failed", "service", t.Service.Name(), "from", t.From.String(), "error", t.Err)
	}

	for _, l := range s.listeners {
		l(t)
	}
}

func (s *Supervisor) await(
	ctx context.Context,
	label string,
	done func(map[lifecycle.Service]lifecycle.State) (bool, error),
) error {
	for {
		s.mu.Lock()
		ok, err := done(s.states)
		changed := s.changed
		s.mu.Unlock()

		if ok {
			return err
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("await %s: %s: %w: %w", label, s.pendingSummary(), berr.ErrTimeout, ctx.Err())
		}
	}
}

func (s *Supervisor) pendingSummary() string {
	byState := s.ServicesByState()

	summary := ""
	for _, st := range lifecycle.States {
		for _, svc := range byState[st] {
			if summary != "" {
				summary += ", "
			}

			summary += svc.Name() + "=" + st.String()
		}
	}

	return summary
}

func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d)
}
