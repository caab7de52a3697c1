// Package scheduler drives the engines from cron expressions in auto mode
// and guards every run with a cross-process lock.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hevygrow/internal/engine"
)

// Job is one engine bound to a cron schedule
type Job struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	runner  engine.Runner
	entryID cron.EntryID
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string          `json:"job_name"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Duration  time.Duration   `json:"duration"`
	Skipped   bool            `json:"skipped"`
	Outcome   *engine.Outcome `json:"outcome,omitempty"`
}

// Status represents scheduler status
type Status struct {
	Running bool                 `json:"running"`
	Jobs    int                  `json:"jobs"`
	NextRun map[string]time.Time `json:"next_run"`
	Uptime  time.Duration        `json:"uptime"`
}

// Scheduler runs jobs one at a time. Inside the process a mutex serializes
// them; across processes a lock file does, and a job that finds the lock
// held is skipped rather than queued.
type Scheduler struct {
	cron     *cron.Cron
	lockPath string

	runMu sync.Mutex

	mu        sync.RWMutex
	jobs      map[string]*Job
	last      map[string]engine.Outcome
	baseCtx   context.Context
	running   bool
	startTime time.Time
}

// NewScheduler creates a scheduler whose run lock lives at lockPath
func NewScheduler(lockPath string) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		lockPath: lockPath,
		jobs:     make(map[string]*Job),
		last:     make(map[string]engine.Outcome),
		baseCtx:  context.Background(),
	}
}

// Add registers runner under its name on a standard 5-field cron schedule
func (s *Scheduler) Add(schedule string, runner engine.Runner) error {
	name := runner.Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunJob(s.context(), name); err != nil {
			log.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}

	s.jobs[name] = &Job{Name: name, Schedule: schedule, runner: runner, entryID: id}
	return nil
}

// ListJobs returns all registered jobs sorted by name
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Running: s.running,
		Jobs:    len(s.jobs),
		NextRun: make(map[string]time.Time, len(s.jobs)),
	}
	if s.running {
		status.Uptime = time.Since(s.startTime)
	}
	for name, j := range s.jobs {
		status.NextRun[name] = s.cron.Entry(j.entryID).Next
	}
	return status
}

// Start runs the cron loop until ctx is cancelled, then waits for any
// running job to finish its cleanup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	jobs := len(s.jobs)
	s.mu.Unlock()

	log.Info().Int("jobs", jobs).Msg("scheduler starting")
	s.cron.Start()

	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

// Stop halts the cron loop and blocks until in-flight jobs return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

// RunJob executes a registered job immediately
func (s *Scheduler) RunJob(ctx context.Context, name string) (*JobResult, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job not found: %s", name)
	}
	return s.Run(ctx, job.runner)
}

// Run executes runner under the run lock. The result is Skipped when another
// process holds the lock.
func (s *Scheduler) Run(ctx context.Context, runner engine.Runner) (*JobResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result := &JobResult{JobName: runner.Name(), StartTime: time.Now()}

	lock, locked, err := s.tryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		log.Warn().Str("job", runner.Name()).Str("lock", s.lockPath).Msg("another run holds the lock, skipping")
		result.Skipped = true
		result.EndTime = time.Now()
		return result, nil
	}
	defer lock.Unlock()

	log.Info().Str("job", runner.Name()).Msg("executing job")
	outcome := runner.Run(ctx)

	s.mu.Lock()
	s.last[outcome.Engine] = outcome
	s.mu.Unlock()

	result.Outcome = &outcome
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	return result, nil
}

func (s *Scheduler) tryLock() (*flock.Flock, bool, error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0755); err != nil {
		return nil, false, fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(s.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring run lock: %w", err)
	}
	return lock, locked, nil
}

// LastRuns returns the latest outcome of each engine sorted by engine name
func (s *Scheduler) LastRuns() []engine.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]engine.Outcome, 0, len(s.last))
	for _, o := range s.last {
		out = append(out, o)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Engine < out[k].Engine })
	return out
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
