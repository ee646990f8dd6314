package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	berr "github.com/next-trace/scg-service-kit/contract/errors"
	"github.com/next-trace/scg-service-kit/contract/lifecycle"
	"github.com/next-trace/scg-service-kit/service"
)

type recorder struct {
	mu          sync.Mutex
	transitions []lifecycle.Transition
	terminal    chan struct{}
}

func newRecorder() *recorder { return &recorder{terminal: make(chan struct{})} }

func (r *recorder) listen(t lifecycle.Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()

	if t.To.IsTerminal() {
		close(r.terminal)
	}
}

// all waits for the terminal transition to be delivered, which may trail AwaitTerminated.
func (r *recorder) all(t *testing.T) []lifecycle.Transition {
	t.Helper()

	select {
	case <-r.terminal:
	case <-time.After(5 * time.Second):
		t.Fatalf("no terminal transition delivered")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]lifecycle.Transition(nil), r.transitions...)
}

func (r *recorder) got(t *testing.T) []lifecycle.State {
	t.Helper()

	var out []lifecycle.State
	for _, tr := range r.all(t) {
		out = append(out, tr.To)
	}

	return out
}

func equalStates(a, b []lifecycle.State) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func timeout(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func mustNew(t *testing.T, name string, task service.Task, opts ...service.Option) *service.Service {
	t.Helper()

	s, err := service.New(name, task, opts...)
	if err != nil {
		t.Fatalf("new %s: %v", name, err)
	}

	return s
}

func TestIdle_FullLifecycle(t *testing.T) {
	var started, stopped atomic.Bool

	rec := newRecorder()
	s := mustNew(t, "idle", service.Idle{
		StartUp:  func(context.Context) error { started.Store(true); return nil },
		ShutDown: func(context.Context) error { stopped.Store(true); return nil },
	}, service.WithListener(rec.listen))

	if s.State() != lifecycle.New {
		t.Fatalf("state=%s", s.State())
	}

	if err := s.StartAsync(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.AwaitRunning(timeout(t)); err != nil {
		t.Fatalf("await running: %v", err)
	}

	if !started.Load() || stopped.Load() {
		t.Fatalf("started=%v stopped=%v", started.Load(), stopped.Load())
	}

	s.StopAsync()

	if err := s.AwaitTerminated(timeout(t)); err != nil {
		t.Fatalf("await terminated: %v", err)
	}

	if !stopped.Load() {
		t.Fatalf("shut down hook not called")
	}

	want := []lifecycle.State{lifecycle.Starting, lifecycle.Running, lifecycle.Stopping, lifecycle.Terminated}
	if got := rec.got(t); !equalStates(got, want) {
		t.Fatalf("transitions=%v want %v", got, want)
	}

	begin, ok1 := s.TransitionTime(lifecycle.Starting)
	end, ok2 := s.TransitionTime(lifecycle.Running)

	if !ok1 || !ok2 || end.Before(begin) {
		t.Fatalf("transition times starting=%v running=%v", begin, end)
	}

	// stopping twice is harmless
	s.StopAsync()

	if err := s.StartAsync(); !errors.Is(err, berr.ErrIllegalState) {
		t.Fatalf("restart: want ErrIllegalState, got %v", err)
	}
}

func TestIdle_StartUpFailure(t *testing.T) {
	boom := errors.New("no database")
	s := mustNew(t, "db", service.Idle{StartUp: func(context.Context) error { return boom }})

	_ = s.StartAsync()

	err := s.AwaitRunning(timeout(t))

	var sf *berr.ServiceFailureError
	if !errors.As(err, &sf) || sf.Service != "db" || sf.State != "STARTING" || !errors.Is(err, boom) {
		t.Fatalf("want ServiceFailureError for db, got %v", err)
	}

	if s.State() != lifecycle.Failed || !errors.Is(s.FailureCause(), boom) {
		t.Fatalf("state=%s cause=%v", s.State(), s.FailureCause())
	}

	if err := s.AwaitTerminated(timeout(t)); !errors.Is(err, berr.ErrServiceFailure) {
		t.Fatalf("await terminated on failed service: %v", err)
	}
}

func TestIdle_ShutDownPanicFails(t *testing.T) {
	s := mustNew(t, "leaky", service.Idle{ShutDown: func(context.Context) error { panic("closed twice") }})

	_ = s.StartAsync()
	_ = s.AwaitRunning(timeout(t))
	s.StopAsync()

	err := s.AwaitTerminated(timeout(t))

	var sf *berr.ServiceFailureError
	if !errors.As(err, &sf) || sf.State != "STOPPING" {
		t.Fatalf("want failure while stopping, got %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := mustNew(t, "never", service.Idle{})
	s.StopAsync()

	if s.State() != lifecycle.Terminated {
		t.Fatalf("state=%s", s.State())
	}

	if err := s.StartAsync(); !errors.Is(err, berr.ErrIllegalState) {
		t.Fatalf("want ErrIllegalState, got %v", err)
	}
}

func TestStopWhileStarting(t *testing.T) {
	release := make(chan struct{})
	rec := newRecorder()

	s := mustNew(t, "slow", service.Idle{StartUp: func(context.Context) error {
		<-release
		return nil
	}}, service.WithListener(rec.listen))

	_ = s.StartAsync()
	s.StopAsync()

	if s.State() != lifecycle.Starting {
		t.Fatalf("stop must wait for start-up, state=%s", s.State())
	}

	close(release)

	if err := s.AwaitTerminated(timeout(t)); err != nil {
		t.Fatalf("await terminated: %v", err)
	}

	want := []lifecycle.State{lifecycle.Starting, lifecycle.Running, lifecycle.Stopping, lifecycle.Terminated}
	if got := rec.got(t); !equalStates(got, want) {
		t.Fatalf("transitions=%v want %v", got, want)
	}
}

func TestLoop_RunsUntilStopped(t *testing.T) {
	var counter atomic.Int64

	loopStarted := make(chan struct{})
	s := mustNew(t, "counter", service.Loop{Run: func(ctx context.Context) error {
		close(loopStarted)

		for ctx.Err() == nil {
			counter.Add(1)
		}

		return ctx.Err()
	}})

	_ = s.StartAsync()

	if err := s.AwaitRunning(timeout(t)); err != nil {
		t.Fatalf("await running: %v", err)
	}

	<-loopStarted
	s.StopAsync()

	if err := s.AwaitTerminated(timeout(t)); err != nil {
		t.Fatalf("await terminated: %v", err)
	}

	if counter.Load() == 0 {
		t.Fatalf("loop never iterated")
	}
}

func TestLoop_NaturalCompletionTerminates(t *testing.T) {
	rec := newRecorder()
	s := mustNew(t, "once", service.Loop{Run: func(context.Context) error { return nil }},
		service.WithListener(rec.listen))

	_ = s.StartAsync()

	if err := s.AwaitTerminated(timeout(t)); err != nil {
		t.Fatalf("await terminated: %v", err)
	}

	want := []lifecycle.State{lifecycle.Starting, lifecycle.Running, lifecycle.Stopping, lifecycle.Terminated}
	if got := rec.got(t); !equalStates(got, want) {
		t.Fatalf("transitions=%v want %v", got, want)
	}
}

func TestLoop_ErrorFails(t *testing.T) {
	boom := errors.New("lost connection")
	s := mustNew(t, "consumer", service.Loop{Run: func(context.Context) error { return boom }})

	_ = s.StartAsync()

	err := s.AwaitTerminated(timeout(t))

	var sf *berr.ServiceFailureError
	if !errors.As(err, &sf) || sf.State != "RUNNING" || !errors.Is(err, boom) {
		t.Fatalf("want failure while running, got %v", err)
	}
}

func TestScheduled_RunsRepeatedlyAndStops(t *testing.T) {
	var runs atomic.Int32

	twice := make(chan struct{})
	s := mustNew(t, "ticker", service.Scheduled{
		Iteration: func(context.Context) error {
			if runs.Add(1) == 2 {
				close(twice)
			}

			return nil
		},
		Schedule: service.FixedRate{Period: 5 * time.Millisecond},
	})

	_ = s.StartAsync()

	select {
	case <-twice:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduled task ran %d times", runs.Load())
	}

	s.StopAsync()

	if err := s.AwaitTerminated(timeout(t)); err != nil {
		t.Fatalf("await terminated: %v", err)
	}
}

func TestScheduled_StopInterruptsPendingRun(t *testing.T) {
	var runs atomic.Int32

	first := make(chan struct{})
	s := mustNew(t, "hourly", service.Scheduled{
		Iteration: func(context.Context) error {
			if runs.Add(1) == 1 {
				close(first)
			}

			return nil
		},
		Schedule: service.FixedRate{Period: time.Hour},
	})

	_ = s.StartAsync()
	<-first

	stopAt := time.Now()
	s.StopAsync()

	if err := s.AwaitTerminated(timeout(t)); err != nil {
		t.Fatalf("await terminated: %v", err)
	}

	if time.Since(stopAt) > time.Second || runs.Load() != 1 {
		t.Fatalf("stop waited for the next run: runs=%d", runs.Load())
	}
}

func TestScheduled_IterationErrorFails(t *testing.T) {
	s := mustNew(t, "flaky", service.Scheduled{
		Iteration: func(context.Context) error { return errors.New("bad tick") },
		Schedule:  service.FixedDelay{Delay: time.Millisecond},
	})

	_ = s.StartAsync()

	if err := s.AwaitTerminated(timeout(t)); !errors.Is(err, berr.ErrServiceFailure) {
		t.Fatalf("want ErrServiceFailure, got %v", err)
	}
}

func TestAwaitRunning_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := mustNew(t, "stuck", service.Idle{StartUp: func(context.Context) error {
		<-release
		return nil
	}})
	_ = s.StartAsync()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	if err := s.AwaitRunning(ctx); !errors.Is(err, berr.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		svc  string
		task service.Task
		want error
	}{
		{"empty name", "", service.Idle{}, berr.ErrInvalidService},
		{"nil task", "x", nil, berr.ErrInvalidService},
		{"loop without body", "x", service.Loop{}, berr.ErrInvalidService},
		{"scheduled without iteration", "x", service.Scheduled{Schedule: service.FixedRate{Period: time.Second}}, berr.ErrInvalidService},
		{"scheduled without schedule", "x", service.Scheduled{Iteration: func(context.Context) error { return nil }}, berr.ErrInvalidSchedule},
		{"zero period", "x", service.Scheduled{
			Iteration: func(context.Context) error { return nil },
			Schedule:  service.FixedRate{},
		}, berr.ErrInvalidSchedule},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := service.New(tc.svc, tc.task); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTransitionsFollowLifecycleGraph(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		task  service.Task
		drive func(s *service.Service)
	}{
		{
			name:  "stop before start",
			task:  service.Idle{},
			drive: func(s *service.Service) { s.StopAsync() },
		},
		{
			name: "idle stopped",
			task: service.Idle{},
			drive: func(s *service.Service) {
				_ = s.StartAsync()
				_ = s.AwaitRunning(timeout(t))
				s.StopAsync()
			},
		},
		{
			name: "stop while starting",
			task: service.Idle{StartUp: func(context.Context) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			}},
			drive: func(s *service.Service) {
				_ = s.StartAsync()
				s.StopAsync()
			},
		},
		{
			name:  "start-up fails",
			task:  service.Idle{StartUp: func(context.Context) error { return boom }},
			drive: func(s *service.Service) { _ = s.StartAsync() },
		},
		{
			name:  "loop fails",
			task:  service.Loop{Run: func(context.Context) error { return boom }},
			drive: func(s *service.Service) { _ = s.StartAsync() },
		},
		{
			name: "shut-down fails",
			task: service.Idle{ShutDown: func(context.Context) error { return boom }},
			drive: func(s *service.Service) {
				_ = s.StartAsync()
				_ = s.AwaitRunning(timeout(t))
				s.StopAsync()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			s := mustNew(t, "graph", tt.task, service.WithListener(rec.listen))

			tt.drive(s)

			from := lifecycle.New
			for _, tr := range rec.all(t) {
				if tr.From != from || !tr.From.CanTransition(tr.To) {
					t.Fatalf("transition %s -> %s after %s", tr.From, tr.To, from)
				}

				from = tr.To
			}

			if !from.IsTerminal() {
				t.Fatalf("ended in %s", from)
			}
		})
	}
}
