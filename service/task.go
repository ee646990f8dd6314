package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	berr "github.com/next-trace/scg-service-kit/contract/errors"
)

// Func is a task body. The context is cancelled when the service is asked to stop.
type Func func(ctx context.Context) error

// Task is one of Idle, Loop or Scheduled.
type Task interface {
	startUp(ctx context.Context) error
	serve(ctx context.Context) error
	shutDown(ctx context.Context) error
	validate() error
}

// Idle holds a resource between StartUp and ShutDown without ongoing work.
type Idle struct {
	StartUp  Func
	ShutDown Func
}

func (t Idle) startUp(ctx context.Context) error  { return call(ctx, t.StartUp) }
func (t Idle) shutDown(ctx context.Context) error { return call(ctx, t.ShutDown) }
func (t Idle) validate() error                    { return nil }

func (t Idle) serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Loop runs Run on a dedicated goroutine. Run should return once its context is done.
type Loop struct {
	StartUp  Func
	Run      Func
	ShutDown Func
}

func (t Loop) startUp(ctx context.Context) error  { return call(ctx, t.StartUp) }
func (t Loop) serve(ctx context.Context) error    { return t.Run(ctx) }
func (t Loop) shutDown(ctx context.Context) error { return call(ctx, t.ShutDown) }

func (t Loop) validate() error {
	if t.Run == nil {
		return fmt.Errorf("loop without run body: %w", berr.ErrInvalidService)
	}

	return nil
}

// Scheduled runs Iteration at the times produced by Schedule.
// Executions never overlap; a schedule returning the zero time ends the service.
type Scheduled struct {
	StartUp   Func
	Iteration Func
	Schedule  Schedule
	ShutDown  Func
}

func (t Scheduled) startUp(ctx context.Context) error  { return call(ctx, t.StartUp) }
func (t Scheduled) shutDown(ctx context.Context) error { return call(ctx, t.ShutDown) }

func (t Scheduled) validate() error {
	if t.Iteration == nil {
		return fmt.Errorf("scheduled task without iteration: %w", berr.ErrInvalidService)
	}

	return ValidateSchedule(t.Schedule)
}

func (t Scheduled) serve(ctx context.Context) error {
	next := t.Schedule.First(time.Now())
	if next.IsZero() {
		return nil
	}

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return nil
		}

		if err := t.Iteration(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}

			return err
		}

		next = t.Schedule.Next(next, time.Now())
		if next.IsZero() {
			return nil
		}

		timer.Reset(time.Until(next))
	}
}

func call(ctx context.Context, f Func) error {
	if f == nil {
		return nil
	}

	return f(ctx)
}
