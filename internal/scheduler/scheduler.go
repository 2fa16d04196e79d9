// Package scheduler triggers runs on a cron schedule for `mcf daemon`.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// Config holds the daemon schedule
type Config struct {
	// Cron is a standard five-field cron expression or descriptor
	// ("@daily", "@every 6h")
	// Default: "0 6 * * *" (06:00 every day)
	Cron string `yaml:"cron"`

	// Timezone the expression is evaluated in
	// Default: "America/Toronto"
	Timezone string `yaml:"timezone"`

	// RunOnStart triggers one run immediately when the daemon starts
	// Default: false
	RunOnStart bool `yaml:"run_on_start"`
}

// DefaultConfig returns the default schedule
func DefaultConfig() Config {
	return Config{
		Cron:     "0 6 * * *",
		Timezone: "America/Toronto",
	}
}

// Validate checks the expression parses and the timezone exists
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", c.Cron, err)
	}
	return nil
}

// Job is one scheduled run.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a cron schedule. A trigger that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cfg     Config
	cron    *cron.Cron
	entry   cron.EntryID
	job     Job
	baseCtx context.Context
}

// New creates a Scheduler. It does not start it.
func New(cfg Config, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, _ := time.LoadLocation(cfg.Timezone)

	logger := cron.PrintfLogger(log.Default())
	s := &Scheduler{
		cfg: cfg,
		job: job,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		baseCtx: context.Background(),
	}
	id, err := s.cron.AddFunc(cfg.Cron, s.trigger)
	if err != nil {
		return nil, fmt.Errorf("add cron: %w", err)
	}
	s.entry = id
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// run in progress to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.baseCtx = ctx
	s.cron.Start()
	log.Printf("[SCHED] Scheduled %q (%s), next run at %s", s.cfg.Cron, s.cfg.Timezone, s.Next().Format(time.RFC3339))

	if s.cfg.RunOnStart {
		s.cron.Entry(s.entry).WrappedJob.Run()
	}

	<-ctx.Done()
	log.Printf("[SCHED] Stopping, waiting for a run in progress")
	<-s.cron.Stop().Done()
	return nil
}

// Next returns the next scheduled trigger time.
func (s *Scheduler) Next() time.Time {
	if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
		return next
	}
	sched, err := cron.ParseStandard(s.cfg.Cron)
	if err != nil {
		return time.Time{}
	}
	loc, _ := time.LoadLocation(s.cfg.Timezone)
	return sched.Next(time.Now().In(loc))
}

func (s *Scheduler) trigger() {
	ctx := s.baseCtx
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	log.Printf("[SCHED] Starting scheduled run")
	if err := s.job(ctx); err != nil {
		log.Printf("[SCHED] Scheduled run failed after %v: %v", time.Since(started).Round(time.Second), err)
		return
	}
	log.Printf("[SCHED] Scheduled run finished in %v", time.Since(started).Round(time.Second))
}
