// Package config loads the scgkit runtime configuration from YAML or TOML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	berr "github.com/next-trace/scg-service-kit/contract/errors"
	"github.com/next-trace/scg-service-kit/service"
)

// Sink kinds.
const (
	SinkMemory   = "memory"
	SinkNATS     = "nats"
	SinkKafka    = "kafka"
	SinkRabbitMQ = "rabbitmq"
)

// Schedule kinds.
const (
	ScheduleFixedRate  = "fixed_rate"
	ScheduleFixedDelay = "fixed_delay"
	ScheduleCron       = "cron"
)

// Service kinds.
const (
	ServiceIdle      = "idle"
	ServiceLoop      = "loop"
	ServiceScheduled = "scheduled"
)

type Config struct {
	Bus        BusConfig                 `yaml:"bus"        toml:"bus"`
	Sinks      []SinkConfig              `yaml:"sinks"      toml:"sinks"`
	Supervisor SupervisorConfig          `yaml:"supervisor" toml:"supervisor"`
	Schedules  map[string]ScheduleConfig `yaml:"schedules"  toml:"schedules"`
	Services   []ServiceConfig           `yaml:"services"   toml:"services"`
	Log        LogConfig                 `yaml:"log"        toml:"log"`
}

type BusConfig struct {
	Name       string `yaml:"name"       toml:"name"`
	Sequential bool   `yaml:"sequential" toml:"sequential"`
}

// SinkConfig selects a dead-letter sink. Subject overrides the NATS subject,
// Kafka topic or RabbitMQ routing key.
type SinkConfig struct {
	Kind        string   `yaml:"kind"         toml:"kind"`
	URL         string   `yaml:"url"          toml:"url"`
	Brokers     []string `yaml:"brokers"      toml:"brokers"`
	ClientID    string   `yaml:"client_id"    toml:"client_id"`
	Acks        string   `yaml:"acks"         toml:"acks"`
	Compression string   `yaml:"compression"  toml:"compression"`
	Exchange    string   `yaml:"exchange"     toml:"exchange"`
	Subject     string   `yaml:"subject"      toml:"subject"`
	ConnTimeout Duration `yaml:"conn_timeout" toml:"conn_timeout"`
}

type SupervisorConfig struct {
	StartTimeout Duration `yaml:"start_timeout" toml:"start_timeout"`
	StopTimeout  Duration `yaml:"stop_timeout"  toml:"stop_timeout"`
}

// ScheduleConfig describes a named schedule. Period is the rate for
// fixed_rate and the delay for fixed_delay; Expr is used by cron.
type ScheduleConfig struct {
	Kind         string   `yaml:"kind"          toml:"kind"`
	InitialDelay Duration `yaml:"initial_delay" toml:"initial_delay"`
	Period       Duration `yaml:"period"        toml:"period"`
	Expr         string   `yaml:"expr"          toml:"expr"`
}

// ServiceConfig declares a demo service. Schedule names an entry of
// Config.Schedules and is required for scheduled services.
type ServiceConfig struct {
	Name         string   `yaml:"name"          toml:"name"`
	Kind         string   `yaml:"kind"          toml:"kind"`
	Schedule     string   `yaml:"schedule"      toml:"schedule"`
	StartupDelay Duration `yaml:"startup_delay" toml:"startup_delay"`
}

type LogConfig struct {
	Level       string `yaml:"level"       toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

// Duration decodes Go duration strings such as "1h" or "250ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(v)

	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error { return d.UnmarshalText([]byte(n.Value)) }

// Default returns the configuration used when no file is given: an in-memory
// sink and the three demo services with an hourly fixed-rate schedule.
func Default() Config {
	return Config{
		Sinks: []SinkConfig{{Kind: SinkMemory}},
		Supervisor: SupervisorConfig{
			StartTimeout: Duration(10 * time.Second),
			StopTimeout:  Duration(30 * time.Second),
		},
		Schedules: map[string]ScheduleConfig{
			"hourly": {Kind: ScheduleFixedRate, Period: Duration(time.Hour)},
		},
		Services: []ServiceConfig{
			{Name: "idle", Kind: ServiceIdle},
			{Name: "execution-thread", Kind: ServiceLoop},
			{Name: "scheduled", Kind: ServiceScheduled, Schedule: "hourly"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path as YAML (.yaml, .yml) or TOML (.toml) and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var cfg Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		return Config{}, fmt.Errorf("config load failed (%s): unsupported extension: %w", path, berr.ErrInvalidConfig)
	}

	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, errors.Join(berr.ErrInvalidConfig, err))
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}

	return cfg, nil
}

// Validate reports every problem it finds, joined.
func (c Config) Validate() error {
	var errs []error

	for i, s := range c.Sinks {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("sinks[%d]: %w", i, err))
		}
	}

	if c.Supervisor.StartTimeout < 0 || c.Supervisor.StopTimeout < 0 {
		errs = append(errs, invalid("supervisor timeouts must not be negative"))
	}

	for name, s := range c.Schedules {
		if _, err := s.Schedule(); err != nil {
			errs = append(errs, fmt.Errorf("schedules.%s: %w", name, err))
		}
	}

	seen := make(map[string]bool, len(c.Services))
	for i, s := range c.Services {
		if err := c.validateService(s, seen); err != nil {
			errs = append(errs, fmt.Errorf("services[%d]: %w", i, err))
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

func (s SinkConfig) validate() error {
	switch s.Kind {
	case SinkMemory:
	case SinkNATS, SinkRabbitMQ:
		if strings.TrimSpace(s.URL) == "" {
			return invalid(s.Kind + " sink requires url")
		}
	case SinkKafka:
		if len(s.Brokers) == 0 {
			return invalid("kafka sink requires brokers")
		}
	default:
		return invalid(fmt.Sprintf("unknown sink kind %q", s.Kind))
	}

	return nil
}

func (c Config) validateService(s ServiceConfig, seen map[string]bool) error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return invalid("service name is required")
	}

	if seen[name] {
		return invalid(fmt.Sprintf("duplicate service %q", name))
	}

	seen[name] = true

	if s.StartupDelay < 0 {
		return invalid("startup_delay must not be negative")
	}

	switch s.Kind {
	case ServiceIdle, ServiceLoop:
	case ServiceScheduled:
		if _, ok := c.Schedules[s.Schedule]; !ok {
			return invalid(fmt.Sprintf("service %q references unknown schedule %q", name, s.Schedule))
		}
	default:
		return invalid(fmt.Sprintf("unknown service kind %q", s.Kind))
	}

	return nil
}

// Schedule builds the service schedule described by s.
func (s ScheduleConfig) Schedule() (service.Schedule, error) {
	var sched service.Schedule

	switch s.Kind {
	case ScheduleFixedRate:
		sched = service.FixedRate{InitialDelay: s.InitialDelay.Std(), Period: s.Period.Std()}
	case ScheduleFixedDelay:
		sched = service.FixedDelay{InitialDelay: s.InitialDelay.Std(), Delay: s.Period.Std()}
	case ScheduleCron:
		cron, err := service.Cron(s.Expr)
		if err != nil {
			return nil, errors.Join(berr.ErrInvalidConfig, err)
		}

		return cron, nil
	default:
		return nil, invalid(fmt.Sprintf("unknown schedule kind %q", s.Kind))
	}

	if err := service.ValidateSchedule(sched); err != nil {
		return nil, errors.Join(berr.ErrInvalidConfig, err)
	}

	return sched, nil
}

// SlogLevel parses Level; an empty level is Info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(l.Level) == "" {
		return slog.LevelInfo, nil
	}

	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, errors.Join(berr.ErrInvalidConfig, err)
	}

	return lvl, nil
}

func invalid(msg string) error { return fmt.Errorf("%s: %w", msg, berr.ErrInvalidConfig) }
