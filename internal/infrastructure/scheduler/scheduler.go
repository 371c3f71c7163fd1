// Package scheduler implements background job scheduling for the
// launch service. Its one recurring duty is the grade sweep that pulls
// completion and score data from the LRS into the gradebook.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next time the job should run after the given time.
	Next(t time.Time) time.Time

	// String returns a human-readable representation of the schedule.
	String() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	mu sync.RWMutex

	logger     *slog.Logger
	jobTimeout time.Duration

	jobs    map[string]*scheduledJob
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastRuns map[string]JobResult
}

// scheduledJob wraps a Job with scheduling information.
type scheduledJob struct {
	job      Job
	schedule Schedule
}

// Config contains configuration for the Scheduler.
type Config struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// JobTimeout bounds a single run of any job; zero disables it.
	JobTimeout time.Duration
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		logger:     cfg.Logger,
		jobTimeout: cfg.JobTimeout,
		jobs:       make(map[string]*scheduledJob),
		lastRuns:   make(map[string]JobResult),
	}
}

// Register adds a job under a schedule. Registering a duplicate name is
// an error.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.Name())
	}
	s.jobs[job.Name()] = &scheduledJob{job: job, schedule: schedule}
	return nil
}

// Start launches one goroutine per registered job. It is a no-op when
// already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)

	for _, sj := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, sj)
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// LastRun returns the most recent result for a job, if any.
func (s *Scheduler) LastRun(name string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastRuns[name]
	return r, ok
}

func (s *Scheduler) runLoop(ctx context.Context, sj *scheduledJob) {
	defer s.wg.Done()

	for {
		next := sj.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.execute(ctx, sj.job)
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	runCtx := ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	result := JobResult{JobName: job.Name(), StartedAt: time.Now()}
	s.logger.Info("job starting", "job", job.Name())

	err := job.Run(runCtx)

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = err == nil
	result.Error = err

	if err != nil {
		s.logger.Error("job failed", "job", job.Name(), "duration", result.Duration.String(), "error", err)
	} else {
		s.logger.Info("job completed", "job", job.Name(), "duration", result.Duration.String())
	}

	s.mu.Lock()
	s.lastRuns[job.Name()] = result
	s.mu.Unlock()
}
