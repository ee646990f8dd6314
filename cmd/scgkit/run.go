package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/next-trace/scg-service-kit/config"
	"github.com/next-trace/scg-service-kit/contract/lifecycle"
	"github.com/next-trace/scg-service-kit/eventbus"
	"github.com/next-trace/scg-service-kit/observe"
	kitotel "github.com/next-trace/scg-service-kit/otel"
	"github.com/next-trace/scg-service-kit/supervisor"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the configured services, replay the bus walkthrough and wait",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}

	cmd.Flags().StringP("config", "c", "", "YAML or TOML config file (default: built-in demo)")
	cmd.Flags().Duration("for", 0, "Stop after this long (default: until interrupted)")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}

		cfg = loaded
	}

	log, logger, err := newLoggers(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if d, _ := cmd.Flags().GetDuration("for"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)

		defer cancel()
	}

	return run(ctx, cfg, log, logger, cmd.OutOrStdout())
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, logger *slog.Logger, out io.Writer) error {
	report := func(format string, args ...any) { fmt.Fprintf(out, format+"\n", args...) }

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := kitotel.NewMetrics(mp.Meter("github.com/next-trace/scg-service-kit"))
	if err != nil {
		return err
	}

	zobs := observe.NewZap(log)

	sk, err := buildSinks(cfg.Sinks, logger)
	if err != nil {
		return err
	}
	defer sk.close()

	opts := []eventbus.Option{
		eventbus.WithObserver(zobs),
		eventbus.WithObserver(metrics),
		eventbus.WithLogger(logger),
	}
	if cfg.Bus.Name != "" {
		opts = append(opts, eventbus.WithIdentifier(cfg.Bus.Name))
	}

	if cfg.Bus.Sequential {
		opts = append(opts, eventbus.WithSequentialDelivery())
	}

	for _, s := range sk.all {
		opts = append(opts, eventbus.WithDeadLetterSink(s))
	}

	bus := eventbus.New(opts...)
	defer func() { _ = bus.Close() }()

	if err := bus.Register(monitor{log: log}); err != nil {
		return err
	}

	services, err := buildServices(cfg, bus, logger)
	if err != nil {
		return err
	}

	supOpts := []supervisor.Option{
		supervisor.WithListener(zobs.Transition),
		supervisor.WithListener(metrics.Transition),
		supervisor.WithLogger(logger),
	}
	if d := cfg.Supervisor.StartTimeout.Std(); d > 0 {
		supOpts = append(supOpts, supervisor.WithStartTimeout(d))
	}

	if d := cfg.Supervisor.StopTimeout.Std(); d > 0 {
		supOpts = append(supOpts, supervisor.WithStopTimeout(d))
	}

	sup, err := supervisor.New(services, supOpts...)
	if err != nil {
		return err
	}

	log.Info("starting services", zap.String("bus", bus.Identifier()), zap.Int("services", len(services)))

	if err := sup.StartAll(); err != nil {
		return err
	}

	if err := sup.AwaitHealthy(ctx); err != nil {
		_ = sup.Shutdown(context.Background())
		return err
	}

	reportStartup(sup, report)

	if err := replay(ctx, bus, log, report); err != nil {
		_ = sup.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	log.Info("shutting down...")

	if err := sup.Shutdown(context.Background()); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, st := range lifecycle.States {
		for _, svc := range sup.ServicesByState()[st] {
			report("service %s: %s", svc.Name(), st)
		}
	}

	if sk.recorder != nil {
		report("dead letters recorded: %d", len(sk.recorder.DeadLetters()))
	}

	return reportMetrics(reader, report)
}

func reportStartup(sup *supervisor.Supervisor, report func(string, ...any)) {
	durations := sup.StartupDurations()

	names := make([]string, 0, len(durations))
	byName := make(map[string]int64, len(durations))

	for svc, d := range durations {
		names = append(names, svc.Name())
		byName[svc.Name()] = d.Milliseconds()
	}

	slices.Sort(names)

	for _, n := range names {
		report("Service %s started in %d millis", n, byName[n])
	}
}
