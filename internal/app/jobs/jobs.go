package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stride-app/backend/internal/app/domain/task"
	"github.com/stride-app/backend/internal/app/metrics"
	"github.com/stride-app/backend/internal/app/services/billing"
	"github.com/stride-app/backend/internal/app/services/chat"
	"github.com/stride-app/backend/internal/app/services/streaks"
	"github.com/stride-app/backend/internal/app/system"
	"github.com/stride-app/backend/pkg/logger"
)

// Cron schedules, UTC. The purge runs on the weekly quota boundary so usage
// rows from closed weeks disappear the moment they stop counting.
const (
	schedulePurge    = "0 0 * * 0"
	scheduleRollover = "10 0 * * *"
	scheduleSweep    = "30 2 * * *"

	jobTimeout = 5 * time.Minute
)

// Scheduler runs the recurring maintenance work: weekly chat purge, daily
// streak rollover, daily billing sweep. Services left nil have their job
// skipped, which lets the container hand the billing sweep to the dedicated
// sweeper instead.
type Scheduler struct {
	chats   *chat.Service
	streaks *streaks.Service
	billing *billing.Service
	log     *logger.Logger
	now     func() time.Time

	cron *cron.Cron

	mu         sync.Mutex
	registered bool
	running    bool
}

var _ system.Service = (*Scheduler)(nil)

// NewScheduler constructs the job scheduler. Any of the services may be nil.
func NewScheduler(chats *chat.Service, streaksSvc *streaks.Service, billingSvc *billing.Service, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	return &Scheduler{
		chats:   chats,
		streaks: streaksSvc,
		billing: billingSvc,
		log:     log,
		now:     time.Now,
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "jobs" }

// Start registers the schedules and starts the cron loop.
func (s *Scheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.register(); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.log.WithField("jobs", len(s.cron.Entries())).Info("job scheduler started")
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("job scheduler stopped")
	return nil
}

func (s *Scheduler) register() error {
	if s.registered {
		return nil
	}

	if s.chats != nil {
		if _, err := s.cron.AddFunc(schedulePurge, s.run("chat-purge", s.purgeChats)); err != nil {
			return err
		}
	}
	if s.streaks != nil {
		if _, err := s.cron.AddFunc(scheduleRollover, s.run("streak-rollover", s.rolloverStreaks)); err != nil {
			return err
		}
	}
	if s.billing != nil {
		if _, err := s.cron.AddFunc(scheduleSweep, s.run("billing-sweep", s.sweepBilling)); err != nil {
			return err
		}
	}

	s.registered = true
	return nil
}

// run wraps a job with a timeout, logging, and metrics. Job failures are
// logged and absorbed; the scheduler itself never goes down with a job.
func (s *Scheduler) run(name string, fn func(ctx context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		log := s.log.WithField("job", name)
		log.Debug("job started")

		start := time.Now()
		affected, err := fn(ctx)
		elapsed := time.Since(start)
		metrics.RecordJobRun(name, elapsed, err == nil)

		if err != nil {
			log.WithError(err).Warn("job failed")
			return
		}
		log.WithField("affected", affected).
			WithField("elapsed", elapsed.String()).
			Info("job finished")
	}
}

func (s *Scheduler) purgeChats(ctx context.Context) (int, error) {
	purged, err := s.chats.Purge(ctx)
	return int(purged), err
}

func (s *Scheduler) rolloverStreaks(ctx context.Context) (int, error) {
	// At 00:10 UTC the day that just ended is yesterday.
	day := task.Day(s.now().UTC().AddDate(0, 0, -1))
	return s.streaks.Rollover(ctx, day)
}

func (s *Scheduler) sweepBilling(ctx context.Context) (int, error) {
	return s.billing.SettleLapsed(ctx, s.now().UTC())
}
