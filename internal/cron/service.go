// Package cron implements the orchestrator's recurring job scheduler (C12):
// a registry of named jobs, each running its callback on a fixed interval in
// its own goroutine, isolated from the others by panic recovery and
// per-iteration error logging.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/orchestra/internal/telemetry"
)

// Service is the process-wide cron job registry. The zero value is not
// usable; construct with NewService.
type Service struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	logger *slog.Logger

	executionStore ExecutionStore
	metrics        *telemetry.Metrics
	now            func() time.Time
}

// ServiceOption configures a Service at construction time.
type ServiceOption func(*Service)

// WithLogger overrides the service's logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExecutionStore wires a durable or in-memory execution history store.
// The default is an in-memory store.
func WithExecutionStore(store ExecutionStore) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.executionStore = store
		}
	}
}

// WithMetrics wires Prometheus counters for job runs.
func WithMetrics(metrics *telemetry.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an empty cron service ready for AddJob calls.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		jobs:           make(map[string]*Job),
		logger:         slog.Default().With("component", "cron"),
		executionStore: NewMemoryExecutionStore(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers name to run callback every interval, starting
// immediately in its own goroutine. If a job is already registered under
// name, it is cancelled and replaced.
func (s *Service) AddJob(name string, interval time.Duration, callback Callback, args map[string]any) error {
	if name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	if callback == nil {
		return fmt.Errorf("job %q: callback must not be nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		existing.cancel()
		<-existing.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		Name:     name,
		Interval: interval,
		Callback: callback,
		Args:     args,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.jobs[name] = job
	go s.run(ctx, job)
	return nil
}

// run is the job's own task: await callback, sleep(interval), repeat. Each
// iteration is isolated by panic recovery so one bad run never kills the
// loop or any other job.
func (s *Service) run(ctx context.Context, job *Job) {
	defer close(job.done)
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Service) runOnce(ctx context.Context, job *Job) {
	start := s.now()
	runErr := s.invoke(ctx, job)

	s.mu.Lock()
	job.LastRun = start
	if runErr != nil {
		job.LastError = runErr.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()

	outcome := "success"
	if runErr != nil {
		outcome = "error"
		s.logger.Error("cron job failed", "job", job.Name, "error", runErr)
	}
	if s.metrics != nil {
		s.metrics.CronJobRuns.WithLabelValues(job.Name, outcome).Inc()
	}

	if s.executionStore != nil {
		exec := &JobExecution{
			ID:       uuid.NewString(),
			JobName:  job.Name,
			RanAt:    start,
			Duration: s.now().Sub(start),
		}
		if runErr != nil {
			exec.Error = runErr.Error()
		}
		if err := s.executionStore.Create(ctx, exec); err != nil {
			s.logger.Error("cron execution history write failed", "job", job.Name, "error", err)
		}
	}
}

// invoke calls job.Callback, converting a panic into an error so it never
// takes down the job's goroutine.
func (s *Service) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Callback(ctx, job.Args)
}

// StopJob cancels and removes the named job. It is a no-op if the job is not
// registered.
func (s *Service) StopJob(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if ok {
		job.cancel()
		<-job.done
	}
}

// JobSnapshot is a read-only view of one registered job's state, as returned
// by ListJobs.
type JobSnapshot struct {
	Name      string
	Interval  time.Duration
	LastRun   time.Time
	LastError string
}

// ListJobs returns a snapshot of every registered job.
func (s *Service) ListJobs() []JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobSnapshot, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, JobSnapshot{
			Name:      job.Name,
			Interval:  job.Interval,
			LastRun:   job.LastRun,
			LastError: job.LastError,
		})
	}
	return out
}

// Stop cancels every registered job and waits for their goroutines to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.jobs = make(map[string]*Job)
	s.mu.Unlock()

	for _, job := range jobs {
		job.cancel()
		<-job.done
	}
}
