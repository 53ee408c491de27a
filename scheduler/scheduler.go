package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"tasktracker/service"
)

// DefaultSweepSchedule runs the retention sweep once a day at 03:00.
const DefaultSweepSchedule = "0 3 * * *"

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

// Purger removes trashed tasks past the retention window.
type Purger interface {
	PurgeExpired(ctx context.Context) (service.PurgeReport, error)
}

// Scheduler wraps cron-based background jobs. A job that is still running
// when its next tick fires is skipped rather than run concurrently.
type Scheduler struct {
	cron    *cron.Cron
	log     *log.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location, logger *log.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cl := cron.PrintfLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     logger,
		timeout: DefaultJobTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers job under a standard five-field cron spec or a
// descriptor such as "@daily" or "@every 1h".
func (s *Scheduler) Schedule(spec, name string, job func(ctx context.Context) error) (cron.EntryID, error) {
	if job == nil {
		return 0, errors.New("scheduler: job is nil")
	}
	return s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		start := time.Now()
		entry := s.log.WithField("job", name)
		if err := job(ctx); err != nil {
			entry.WithError(err).Error("scheduled job failed")
			return
		}
		entry.WithField("elapsed_ms", time.Since(start).Milliseconds()).Debug("scheduled job finished")
	})
}

// ScheduleSweep runs the retention sweep on the given spec.
func (s *Scheduler) ScheduleSweep(spec string, p Purger) (cron.EntryID, error) {
	if p == nil {
		return 0, errors.New("scheduler: purger is nil")
	}
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	return s.Schedule(spec, "retention-sweep", func(ctx context.Context) error {
		report, err := p.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			s.log.WithField("failed", len(report.Failed)).Warn("retention sweep left tasks in the trash")
		}
		return nil
	})
}

// Next reports when the entry fires next; zero before Start.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
}
