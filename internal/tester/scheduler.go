package tester

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler periodically retests providers that are not passing.
type Scheduler struct {
	orch     *Orchestrator
	schedule string
	opts     Options

	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
	lastRun uint64
}

// NewScheduler creates a scheduler that runs RunFailedOnly with opts on the
// given cron spec. Descriptors such as "@every 30m" are accepted.
func NewScheduler(orch *Orchestrator, schedule string, opts Options) *Scheduler {
	return &Scheduler{
		orch:     orch,
		schedule: schedule,
		opts:     opts,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "tester.scheduler"),
	}
}

// Start registers the job and starts the cron loop. An empty schedule is a
// no-op. The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("retest schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, s.retest); err != nil {
		return fmt.Errorf("schedule retest: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retest scheduler started", "schedule", s.schedule, "refresh", s.opts.Refresh)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) retest() {
	run := s.orch.RunFailedOnly(s.opts)
	s.mu.Lock()
	s.lastRun = run.ID
	s.mu.Unlock()

	if len(run.Providers()) == 0 {
		s.logger.Debug("scheduled retest found no failing providers")
		return
	}
	s.logger.Info("scheduled retest started", "run_id", run.ID, "providers", len(run.Providers()))
}

// Stop stops the cron loop and waits for a job in progress to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	// retest takes mu, so wait for it outside the lock.
	<-s.cron.Stop().Done()
	s.logger.Info("retest scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled retest, nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// LastRunID returns the id of the most recent scheduled run, 0 if none.
func (s *Scheduler) LastRunID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
