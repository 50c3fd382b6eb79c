package automation

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"drems/native/rent"
	"drems/native/schedule"
	"drems/native/valuation"
	"drems/observability"
)

// Property describes one managed property the runner operates on.
type Property struct {
	ID           string
	ExpectedRent *big.Int
}

// ValuationWriter persists computed valuations.
type ValuationWriter interface {
	PutValuation(record *valuation.PropertyValuation) error
}

// Runner drives the recurring per-property duties: rent collection, valuation
// refresh and maintenance checks. It owns no clock semantics beyond the tick;
// due decisions and advancement live in the schedule package.
type Runner struct {
	properties []Property
	schedules  schedule.Store
	intervals  schedule.Intervals
	tick       time.Duration

	collector  *rent.Collector
	processor  *rent.Processor
	fetcher    *valuation.Fetcher
	valuations ValuationWriter

	logger *slog.Logger
	now    func() time.Time
}

// Config wires a Runner.
type Config struct {
	Properties []Property
	Schedules  schedule.Store
	Intervals  schedule.Intervals
	Tick       time.Duration
	Collector  *rent.Collector
	Processor  *rent.Processor
	Fetcher    *valuation.Fetcher
	Valuations ValuationWriter
	Logger     *slog.Logger
}

// NewRunner constructs the automation loop.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	return &Runner{
		properties: cfg.Properties,
		schedules:  cfg.Schedules,
		intervals:  cfg.Intervals.Normalise(),
		tick:       tick,
		collector:  cfg.Collector,
		processor:  cfg.Processor,
		fetcher:    cfg.Fetcher,
		valuations: cfg.Valuations,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the wall clock for tests.
func (r *Runner) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Run blocks until ctx is cancelled, executing due tasks once per tick.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	// Execute once at startup so fresh deployments do not wait a full tick.
	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce walks every property and executes its due tasks. Failures are logged
// and retried on the next tick; the schedule only advances past tasks that
// succeeded.
func (r *Runner) RunOnce(ctx context.Context) {
	if r.schedules == nil {
		return
	}
	now := r.now()
	for _, property := range r.properties {
		sched, ok, err := r.schedules.GetSchedule(property.ID)
		if err != nil {
			r.logger.Error("load schedule failed", "property", property.ID, "error", err)
			continue
		}
		changed := false
		if !ok {
			// Property seen for the first time: seed every task as due now so
			// the seeded timestamps survive even if the first run fails.
			sched = schedule.NewSchedule(property.ID, now)
			changed = true
		}
		for _, task := range schedule.DueTasks(sched, now) {
			if err := r.execute(ctx, property, task, now); err != nil {
				r.logger.Error("automation task failed", "property", property.ID, "task", task.String(), "error", err)
				continue
			}
			if err := schedule.Advance(sched, task, now, r.intervals); err != nil {
				r.logger.Error("schedule advance failed", "property", property.ID, "task", task.String(), "error", err)
				continue
			}
			changed = true
		}
		if changed {
			if err := r.schedules.PutSchedule(sched); err != nil {
				r.logger.Error("persist schedule failed", "property", property.ID, "error", err)
			}
		}
	}
}

func (r *Runner) execute(ctx context.Context, property Property, task schedule.Task, now time.Time) error {
	switch task {
	case schedule.TaskRentCollection:
		return r.collectRent(ctx, property, now)
	case schedule.TaskValuationUpdate:
		return r.refreshValuation(ctx, property)
	case schedule.TaskMaintenanceCheck:
		// Placeholder duty until on-site inspection feeds land: surfaces the
		// check in logs so operators can act on it.
		r.logger.Info("maintenance check due", "property", property.ID)
		return nil
	default:
		return nil
	}
}

func (r *Runner) collectRent(ctx context.Context, property Property, now time.Time) error {
	if r.collector == nil || r.processor == nil {
		return nil
	}
	periodKey := rent.PeriodKeyFor(now)
	periodStart := now.Add(-r.intervals.Rent)
	result, err := r.collector.Collect(ctx, property.ID, periodStart, now, property.ExpectedRent)
	if err != nil {
		return err
	}
	record, err := r.processor.Process(property.ID, periodKey, result.Payments, result.Expenses, result.Tenants)
	if err != nil {
		return err
	}
	observability.Rent().Observe(property.ID, record.NetRentCollected, record.DataQuality.Degraded())
	r.logger.Info("rent period processed",
		"property", property.ID,
		"period", periodKey,
		"netRent", record.NetRentCollected.String(),
		"degraded", record.DataQuality.Degraded(),
	)
	return nil
}

func (r *Runner) refreshValuation(ctx context.Context, property Property) error {
	if r.fetcher == nil || r.valuations == nil {
		return nil
	}
	started := r.now()
	record, err := r.fetcher.Fetch(ctx, property.ID)
	if err != nil {
		return err
	}
	if err := r.valuations.PutValuation(&record); err != nil {
		return err
	}
	observability.Valuations().Observe(property.ID, record.Confidence, record.DataQuality.Degraded(), time.Since(started).Seconds())
	r.logger.Info("valuation refreshed",
		"property", property.ID,
		"confidence", record.Confidence,
		"trend", record.MarketTrend,
		"authoritative", record.Authoritative(),
	)
	return nil
}
