// Package scheduler implements §4.7's cron-like trigger: a background
// goroutine that fires the daily batch and the monthly methods at their
// configured times without any external scheduler process. It is the only
// caller of IngestionJob.Run that supplies RequestSourceScheduled.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipsa-ingest/ingestor/internal/ingestion"
	"github.com/sipsa-ingest/ingestor/internal/methods"
)

// runner is the subset of *orchestrator.IngestionJob the scheduler depends
// on, so tests can substitute a fake instead of wiring a full job.
type runner interface {
	Run(ctx context.Context, methodName string, force bool, requestID string, source ingestion.RequestSource) error
}

// Config holds the tick cadence and the local time-of-day the daily batch
// fires at. The monthly methods piggyback on the same ticks; window.Policy
// is what actually gates whether a given day is a legal run day, so the
// scheduler itself only needs to know when to check, not which days are
// valid (§4.1/§4.7 split of responsibility).
type Config struct {
	// CheckInterval is how often the scheduler wakes up to evaluate
	// whether it's time to fire. Must be short enough to land inside the
	// configured daily window (default 1 minute).
	CheckInterval time.Duration
	// DailyTriggerTime is the local "HH:MM" time of day from which the
	// daily batch and the monthly methods are attempted. The scheduler fires at most once per method per
	// calendar day; window.Policy still has final say over whether the
	// attempt is accepted.
	DailyTriggerTime string
	TimeZone         string
}

const defaultCheckInterval = time.Minute

// DefaultConfig returns the §6.4 scheduler defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:    defaultCheckInterval,
		DailyTriggerTime: "06:00",
		TimeZone:         "America/Bogota",
	}
}

// Scheduler fires the daily and monthly method batches on a ticker,
// tracking per-method last-fired dates in memory so a restart at worst
// re-attempts today's batch (harmless: the orchestrator's window-key
// idempotency absorbs the duplicate). Grounded on the teacher's
// cleanup-goroutine shutdown pattern: a stop/done channel pair guarded by
// sync.Once, rather than a context passed at construction time, so Close
// is safe to call from any goroutine exactly once.
type Scheduler struct {
	job    runner
	cfg    Config
	loc    *time.Location
	logger *slog.Logger

	mu        sync.Mutex
	lastFired map[string]string // method -> "2006-01-02" local date last attempted

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Scheduler. It does not start the background goroutine —
// call Start for that.
func New(job runner, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		job:       job,
		cfg:       cfg,
		loc:       loc,
		logger:    logger,
		lastFired: make(map[string]string),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the background ticker goroutine. Safe to call once per
// Scheduler instance.
func (s *Scheduler) Start() {
	go s.run()
}

// Close stops the background goroutine gracefully and waits for it to
// exit, with a timeout so shutdown never hangs on a stuck tick.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)

		select {
		case <-s.done:
			s.logger.Info("scheduler stopped gracefully")
		case <-time.After(5 * time.Second):
			s.logger.Warn("scheduler did not stop within timeout")
		}
	})

	return nil
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(time.Now())
		}
	}
}

// tick evaluates every registered method against now and fires the ones
// due. Nothing fires before DailyTriggerTime; from then on each daily-batch
// method and each monthly method fires at most once per local day.
// fireOnce starts every run in its own goroutine, so the three daily
// methods run concurrently, not one after another: DailyBatch order
// (city, partial, weekly) is only the order in which they are dispatched.
func (s *Scheduler) tick(now time.Time) {
	local := now.In(s.loc)
	today := local.Format("2006-01-02")

	atOrAfterDailyTrigger, err := s.atOrAfter(local, s.cfg.DailyTriggerTime)
	if err != nil {
		s.logger.Error("scheduler: invalid daily trigger time", slog.String("error", err.Error()))

		return
	}

	if atOrAfterDailyTrigger {
		for _, method := range methods.DailyBatch {
			s.fireOnce(method, today)
		}

		for _, method := range methods.MonthlyMethods {
			s.fireOnce(method, today)
		}
	}
}

func (s *Scheduler) atOrAfter(local time.Time, hhmm string) (bool, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return false, err
	}

	trigger := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	return offset >= trigger, nil
}

// fireOnce attempts method at most once per local calendar day, dispatching
// the actual pull asynchronously so a slow SOAP endpoint never delays the
// scheduler's next tick (§5 — ingestion runs are independent of the trigger
// loop). window.Policy, invoked inside IngestionJob.Run, is the real
// authority on whether the attempt is legal; this guard only prevents the
// scheduler from hammering the same method every minute once its window is
// open.
func (s *Scheduler) fireOnce(method, today string) {
	s.mu.Lock()
	if s.lastFired[method] == today {
		s.mu.Unlock()

		return
	}

	s.lastFired[method] = today
	s.mu.Unlock()

	requestID := uuid.NewString()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Minute)
		defer cancel()

		if err := s.job.Run(ctx, method, false, requestID, ingestion.RequestSourceScheduled); err != nil {
			s.logger.Error("scheduler: run failed",
				slog.String("method", method),
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
