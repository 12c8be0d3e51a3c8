package memory

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/halcyonai/halcyon/pkg/logger"
)

// Scheduler drives consolidation cycles in the background: on a cron
// schedule, on demand via Trigger, and when the short-term tier reports
// soft pressure. All paths funnel into the same serialized RunCycle.
type Scheduler struct {
	consolidator *Consolidator
	tiers        *Tiers
	schedule     string
	gron         *gronx.Gronx

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewScheduler(consolidator *Consolidator, tiers *Tiers, schedule string) *Scheduler {
	return &Scheduler{
		consolidator: consolidator,
		tiers:        tiers,
		schedule:     schedule,
		gron:         gronx.New(),
		trigger:      make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the background loop. The cron expression is checked
// once a minute; an invalid expression disables scheduled runs but
// Trigger still works.
func (s *Scheduler) Start(ctx context.Context) {
	if s.schedule != "" && !s.gron.IsValid(s.schedule) {
		logger.WarnCF("scheduler", "invalid consolidation schedule, cron runs disabled", map[string]interface{}{
			"schedule": s.schedule,
		})
		s.schedule = ""
	}
	go s.loop(ctx)
}

// Trigger requests a cycle without waiting for the schedule. Coalesces:
// a pending request absorbs further triggers.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// NotifyPressure nudges the scheduler after a commit. Soft pressure
// requests a background cycle; the hard path is handled synchronously by
// the committer, not here.
func (s *Scheduler) NotifyPressure(p Pressure) {
	if p >= PressureSoft {
		s.Trigger()
	}
}

// Stop halts the loop and waits for any in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	tick := time.NewTicker(time.Minute)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.trigger:
			s.run(ctx, "trigger")
		case <-tick.C:
			if s.schedule == "" {
				continue
			}
			due, err := s.gron.IsDue(s.schedule, time.Now())
			if err != nil || !due {
				continue
			}
			s.run(ctx, "schedule")
		}
	}
}

func (s *Scheduler) run(ctx context.Context, cause string) {
	report, err := s.consolidator.RunCycle(ctx)
	if err != nil {
		logger.WarnCF("scheduler", "consolidation cycle failed", map[string]interface{}{
			"cause": cause, "error": err.Error(),
		})
		return
	}
	if report.Records > 0 {
		logger.InfoCF("scheduler", "consolidation cycle ran", map[string]interface{}{
			"cause": cause, "records": report.Records, "facts": report.FactsWritten,
		})
	}
}
