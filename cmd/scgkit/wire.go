package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/next-trace/scg-service-kit/adapters/inmemory"
	"github.com/next-trace/scg-service-kit/adapters/kafka"
	"github.com/next-trace/scg-service-kit/adapters/nats"
	"github.com/next-trace/scg-service-kit/adapters/rabbitmq"
	"github.com/next-trace/scg-service-kit/config"
	cbus "github.com/next-trace/scg-service-kit/contract/bus"
	"github.com/next-trace/scg-service-kit/contract/lifecycle"
	"github.com/next-trace/scg-service-kit/service"
)

// sinks holds the configured dead-letter sinks and their cleanups.
type sinks struct {
	all      []cbus.DeadLetterSink
	recorder *inmemory.Recorder
	cleanups []func()
}

func (s *sinks) close() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}

func buildSinks(cfgs []config.SinkConfig, logger *slog.Logger) (*sinks, error) {
	out := &sinks{}

	for i, c := range cfgs {
		var (
			sink    cbus.DeadLetterSink
			cleanup func()
			err     error
		)

		switch c.Kind {
		case config.SinkMemory:
			if out.recorder != nil {
				continue
			}

			out.recorder = inmemory.New()
			sink = out.recorder
		case config.SinkNATS:
			sink, cleanup, err = nats.NewWithNATS(nats.Config{
				URL:         c.URL,
				Name:        c.ClientID,
				ConnTimeout: c.ConnTimeout.Std(),
				Subject:     c.Subject,
			})
		case config.SinkKafka:
			sink, cleanup, err = kafka.NewWithKgo(kafka.Config{
				Brokers:     c.Brokers,
				ClientID:    c.ClientID,
				Acks:        c.Acks,
				Compression: c.Compression,
				Topic:       c.Subject,
			})
		case config.SinkRabbitMQ:
			sink, cleanup, err = rabbitmq.NewWithAMQPConn(rabbitmq.Config{
				URL:         c.URL,
				ConnTimeout: c.ConnTimeout.Std(),
				Exchange:    c.Exchange,
				RoutingKey:  c.Subject,
				Logger:      logger,
			})
		default:
			err = fmt.Errorf("unknown sink kind %q", c.Kind)
		}

		if err != nil {
			out.close()
			return nil, fmt.Errorf("sinks[%d] %s: %w", i, c.Kind, err)
		}

		if cleanup != nil {
			out.cleanups = append(out.cleanups, cleanup)
		}

		out.all = append(out.all, sink)
	}

	return out, nil
}

// Tick is published by scheduled demo services on every run.
type Tick struct {
	Service string
	Run     int
	At      time.Time
}

// Progress is published by loop demo services once per second of work.
type Progress struct {
	Service string
	Count   int
}

func buildServices(cfg config.Config, bus cbus.EventBus, logger *slog.Logger) ([]lifecycle.Service, error) {
	services := make([]lifecycle.Service, 0, len(cfg.Services))

	for _, sc := range cfg.Services {
		task, err := demoTask(cfg, sc, bus, logger)
		if err != nil {
			return nil, err
		}

		svc, err := service.New(sc.Name, task, service.WithLogger(logger))
		if err != nil {
			return nil, err
		}

		services = append(services, svc)
	}

	return services, nil
}

func demoTask(cfg config.Config, sc config.ServiceConfig, bus cbus.EventBus, logger *slog.Logger) (service.Task, error) {
	startUp := func(ctx context.Context) error {
		logger.InfoContext(ctx, "start up", "service", sc.Name)

		if d := sc.StartupDelay.Std(); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}

		return nil
	}
	shutDown := func(ctx context.Context) error {
		logger.InfoContext(ctx, "shut down", "service", sc.Name)
		return nil
	}

	switch sc.Kind {
	case config.ServiceIdle:
		return service.Idle{StartUp: startUp, ShutDown: shutDown}, nil
	case config.ServiceLoop:
		return service.Loop{StartUp: startUp, Run: counter(sc.Name, bus), ShutDown: shutDown}, nil
	case config.ServiceScheduled:
		sched, err := cfg.Schedules[sc.Schedule].Schedule()
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", sc.Name, err)
		}

		return service.Scheduled{
			StartUp:   startUp,
			Iteration: ticker(sc.Name, bus),
			Schedule:  sched,
			ShutDown:  shutDown,
		}, nil
	default:
		return nil, fmt.Errorf("service %s: unknown kind %q", sc.Name, sc.Kind)
	}
}

// counter increments until stopped, reporting progress every second.
func counter(name string, bus cbus.EventBus) service.Func {
	return func(ctx context.Context) error {
		count := 0
		report := time.NewTicker(time.Second)
		defer report.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-report.C:
				if err := bus.Publish(ctx, Progress{Service: name, Count: count}); err != nil {
					return err
				}
			default:
				count++
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func ticker(name string, bus cbus.EventBus) service.Func {
	run := 0

	return func(ctx context.Context) error {
		run++
		return bus.Publish(ctx, Tick{Service: name, Run: run, At: time.Now()})
	}
}
