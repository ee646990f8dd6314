package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	berr "github.com/next-trace/scg-service-kit/contract/errors"
)

// Schedule decides when a Scheduled task runs.
type Schedule interface {
	// First returns the first execution time for a service that entered RUNNING at now.
	First(now time.Time) time.Time
	// Next returns the execution time following the one planned for scheduled,
	// which finished at finished. The zero time ends the schedule.
	Next(scheduled, finished time.Time) time.Time
}

// FixedRate runs every Period measured from the planned start of each
// execution. A late execution is followed immediately by the next due one.
type FixedRate struct {
	InitialDelay time.Duration
	Period       time.Duration
}

func (s FixedRate) First(now time.Time) time.Time { return now.Add(s.InitialDelay) }

func (s FixedRate) Next(scheduled, _ time.Time) time.Time { return scheduled.Add(s.Period) }

// FixedDelay waits Delay after each execution finishes.
type FixedDelay struct {
	InitialDelay time.Duration
	Delay        time.Duration
}

func (s FixedDelay) First(now time.Time) time.Time { return now.Add(s.InitialDelay) }

func (s FixedDelay) Next(_, finished time.Time) time.Time { return finished.Add(s.Delay) }

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

type cronSchedule struct{ spec cron.Schedule }

func (s cronSchedule) First(now time.Time) time.Time { return s.spec.Next(now) }

func (s cronSchedule) Next(_, finished time.Time) time.Time { return s.spec.Next(finished) }

// Cron parses a five-field cron expression (or a descriptor such as "@hourly").
func Cron(expr string) (Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required: %w", berr.ErrInvalidSchedule)
	}

	spec, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w: %w", clean, berr.ErrInvalidSchedule, err)
	}

	return cronSchedule{spec: spec}, nil
}

// ValidateSchedule rejects fixed schedules with a non-positive period or a negative initial delay.
func ValidateSchedule(s Schedule) error {
	switch v := s.(type) {
	case nil:
		return fmt.Errorf("schedule is required: %w", berr.ErrInvalidSchedule)
	case FixedRate:
		if v.Period <= 0 || v.InitialDelay < 0 {
			return fmt.Errorf("fixed rate %s after %s: %w", v.Period, v.InitialDelay, berr.ErrInvalidSchedule)
		}
	case FixedDelay:
		if v.Delay <= 0 || v.InitialDelay < 0 {
			return fmt.Errorf("fixed delay %s after %s: %w", v.Delay, v.InitialDelay, berr.ErrInvalidSchedule)
		}
	}

	return nil
}
