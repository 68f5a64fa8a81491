// Package schedule runs the daily maintenance jobs: gathering the day's bars
// after the close and retraining models overnight. Jobs are plain functions
// so the daemon decides what each one actually does.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"tradeflow/internal/util"
)

// Job is one scheduled unit of work. Jobs receive a background context and
// report failures through their error; the scheduler logs and moves on.
type Job func(ctx context.Context) error

// Config sets the local wall-clock times jobs fire at, in the calendar's
// time zone.
type Config struct {
	// GatherAt is when the daily bar gather runs, after the close.
	GatherAt string
	// RetrainAt is when the overnight retrain runs.
	RetrainAt string
	// JobTimeout bounds a single job run.
	JobTimeout time.Duration
}

// Scheduler wires the daily jobs onto a cron. Gathering is gated on trading
// days; retraining runs every night so weekend data revisions are picked up.
type Scheduler struct {
	cron     *gocron.Scheduler
	cfg      Config
	calendar *util.TradingCalendar
	gather   Job
	retrain  Job
	log      *slog.Logger
}

func New(cfg Config, calendar *util.TradingCalendar, gather, retrain Job, log *slog.Logger) *Scheduler {
	if cfg.GatherAt == "" {
		cfg.GatherAt = "16:10"
	}
	if cfg.RetrainAt == "" {
		cfg.RetrainAt = "01:30"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	loc := time.UTC
	if calendar != nil {
		loc = calendar.Location()
	}
	return &Scheduler{
		cron:     gocron.NewScheduler(loc),
		cfg:      cfg,
		calendar: calendar,
		gather:   gather,
		retrain:  retrain,
		log:      log.With("component", "schedule"),
	}
}

// Start registers the jobs and launches the cron in the background.
func (s *Scheduler) Start() error {
	if s.gather != nil {
		_, err := s.cron.Every(1).Day().At(s.cfg.GatherAt).Do(func() {
			now := time.Now()
			if s.calendar != nil && !s.calendar.IsTradingDay(now) {
				s.log.Info("skipping gather, not a trading day")
				return
			}
			s.runJob("gather", s.gather)
		})
		if err != nil {
			return err
		}
	}
	if s.retrain != nil {
		_, err := s.cron.Every(1).Day().At(s.cfg.RetrainAt).Do(func() {
			s.runJob("retrain", s.retrain)
		})
		if err != nil {
			return err
		}
	}

	s.cron.StartAsync()
	s.log.Info("scheduler started",
		"jobs", s.cron.Len(),
		"gather_at", s.cfg.GatherAt,
		"retrain_at", s.cfg.RetrainAt,
	)
	return nil
}

// Stop halts the cron. Running jobs finish; no new ones fire.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("scheduler stopped")
}

// Jobs returns how many jobs are registered.
func (s *Scheduler) Jobs() int { return s.cron.Len() }

func (s *Scheduler) runJob(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Error("scheduled job failed", "job", name, "err", err)
		return
	}
	s.log.Info("scheduled job complete", "job", name, "elapsed", time.Since(start))
}
