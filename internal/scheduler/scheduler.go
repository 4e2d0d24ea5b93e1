// Package scheduler drives the pipeline queues and housekeeping jobs on fixed periods.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/jon4hz/jellyfetch/internal/metrics"
)

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusSkipped   JobStatus = "skipped"
)

// JobInfo contains information about a scheduled job.
type JobInfo struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	Status            JobStatus  `json:"status"`
	LastRun           time.Time  `json:"lastRun"`
	LastDuration      string     `json:"lastDuration,omitempty"`
	NextRun           time.Time  `json:"nextRun"`
	Schedule          string     `json:"schedule"`
	Enabled           bool       `json:"enabled"`
	RunCount          int        `json:"runCount"`
	ErrorCount        int        `json:"errorCount"`
	SkipCount         int        `json:"skipCount"`
	LastError         string     `json:"lastError,omitempty"`
	Singleton         bool       `json:"singleton"`
	Gated             bool       `json:"gated"`
	GocronJob         gocron.Job `json:"-"`                           // Store gocron job reference, exclude from JSON
	InstantAfterStart bool       `json:"instantAfterStart,omitempty"` // Whether to run immediately after adding
}

// JobFunc represents a function that can be scheduled.
type JobFunc func(ctx context.Context) error

// Gate is consulted before every gated tick. A non-nil error skips the tick.
type Gate func(ctx context.Context) error

// Scheduler manages scheduled jobs.
type Scheduler struct {
	gocron      gocron.Scheduler
	mu          sync.RWMutex
	jobs        map[string]*JobInfo
	order       []string
	jobFuncs    map[string]JobFunc
	gate        Gate
	taskTimeout time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	log         *log.Logger
}

// New creates a new scheduler. Every tick is bounded by taskTimeout when it is positive.
func New(taskTimeout time.Duration) (*Scheduler, error) {
	gocronScheduler, err := gocron.NewScheduler(gocron.WithLogger(newLogger()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		gocron:      gocronScheduler,
		jobs:        make(map[string]*JobInfo),
		jobFuncs:    make(map[string]JobFunc),
		taskTimeout: taskTimeout,
		ctx:         ctx,
		cancel:      cancel,
		log:         log.Default().WithPrefix("scheduler"),
	}, nil
}

// SetGate installs the gate for gated jobs.
func (s *Scheduler) SetGate(g Gate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = g
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.log.Info("Starting job scheduler")
	s.gocron.Start()

	s.mu.Lock()
	var instant []string
	for _, id := range s.order {
		jobInfo := s.jobs[id]
		if nextRun, err := jobInfo.GocronJob.NextRun(); err == nil {
			jobInfo.NextRun = nextRun
		} else {
			s.log.Warn("Failed to get next run time for job", "id", id, "error", err)
		}
		if jobInfo.InstantAfterStart {
			instant = append(instant, id)
		}
	}
	s.mu.Unlock()

	for _, id := range instant {
		if err := s.RunJobNow(id); err != nil {
			s.log.Error("Failed to run job immediately after start", "id", id, "error", err)
		}
	}
	s.log.Info("Job scheduler started", "jobs", len(s.order))
}

// Stop cancels running ticks and stops the scheduler.
func (s *Scheduler) Stop() error {
	s.log.Info("Stopping job scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// AddPeriodicJob adds a singleton job that runs every period. Overlapping ticks are skipped.
func (s *Scheduler) AddPeriodicJob(id, name, description string, period time.Duration, jobFunc JobFunc, gated, instantAfterStart bool) error {
	if period <= 0 {
		return fmt.Errorf("job %s: period must be positive", id)
	}
	return s.AddJobWithOptions(id, name, description, "every "+period.String(),
		gocron.DurationJob(period),
		jobFunc,
		true, gated, instantAfterStart,
	)
}

// AddJobWithOptions adds a new job to the scheduler.
func (s *Scheduler) AddJobWithOptions(
	id, name, description, definitionString string,
	jobDef gocron.JobDefinition,
	jobFunc JobFunc,
	singleton, gated, instantAfterStart bool,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job %s already exists", id)
	}

	jobInfo := &JobInfo{
		ID:                id,
		Name:              name,
		Description:       description,
		Status:            JobStatusScheduled,
		Schedule:          definitionString,
		Enabled:           true,
		Singleton:         singleton,
		Gated:             gated,
		InstantAfterStart: instantAfterStart,
	}

	var jobOptions []gocron.JobOption
	if singleton {
		jobOptions = append(jobOptions, gocron.WithSingletonMode(gocron.LimitModeReschedule))
	}

	job, err := s.gocron.NewJob(jobDef, gocron.NewTask(s.wrapJobFunc(id, jobFunc)), jobOptions...)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}
	jobInfo.GocronJob = job

	s.jobFuncs[id] = jobFunc
	s.jobs[id] = jobInfo
	s.order = append(s.order, id)
	s.log.Debug("Added job to scheduler", "id", id, "name", name, "schedule", definitionString, "singleton", singleton)
	return nil
}

// RunJobNow manually triggers a job to run immediately.
func (s *Scheduler) RunJobNow(id string) error {
	s.mu.RLock()
	jobInfo, exists := s.jobs[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	s.log.Info("Manually triggering job", "id", id, "name", jobInfo.Name)
	if err := jobInfo.GocronJob.RunNow(); err != nil {
		return fmt.Errorf("failed to trigger job %s: %w", id, err)
	}
	return nil
}

// GetJobs returns a snapshot of every job in registration order.
func (s *Scheduler) GetJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id])
	}
	return out
}

// GetJob returns a snapshot of a specific job.
func (s *Scheduler) GetJob(id string) (JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return JobInfo{}, false
	}
	return *job, true
}

// EnableJob enables a job.
func (s *Scheduler) EnableJob(id string) error {
	return s.setEnabled(id, true)
}

// DisableJob disables a job. Ticks of a disabled job return immediately.
func (s *Scheduler) DisableJob(id string) error {
	return s.setEnabled(id, false)
}

func (s *Scheduler) setEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobInfo, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}
	jobInfo.Enabled = enabled
	s.log.Info("Changed job state", "id", id, "name", jobInfo.Name, "enabled", enabled)
	return nil
}

// wrapJobFunc wraps a job function to enforce the gate and the timeout and to update job statistics.
func (s *Scheduler) wrapJobFunc(id string, jobFunc JobFunc) func() {
	return func() {
		s.mu.Lock()
		jobInfo := s.jobs[id]
		if jobInfo == nil || !jobInfo.Enabled {
			s.mu.Unlock()
			return
		}
		gate := s.gate
		if !jobInfo.Gated {
			gate = nil
		}
		s.mu.Unlock()

		ctx := s.ctx
		if s.taskTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.taskTimeout)
			defer cancel()
		}

		if gate != nil {
			if err := gate(ctx); err != nil {
				s.update(id, func(j *JobInfo) {
					j.Status = JobStatusSkipped
					j.SkipCount++
					j.LastError = err.Error()
				})
				s.log.Debug("Skipping job", "id", id, "reason", err)
				return
			}
		}

		start := time.Now()
		s.update(id, func(j *JobInfo) {
			j.Status = JobStatusRunning
			j.LastRun = start
			j.RunCount++
		})

		err := jobFunc(ctx)
		elapsed := time.Since(start)
		metrics.RecordTick(id, elapsed.Seconds())

		s.update(id, func(j *JobInfo) {
			j.LastDuration = elapsed.Round(time.Millisecond).String()
			if nextRun, nerr := j.GocronJob.NextRun(); nerr == nil {
				j.NextRun = nextRun
			}
			if err != nil {
				j.Status = JobStatusFailed
				j.ErrorCount++
				j.LastError = err.Error()
				return
			}
			j.Status = JobStatusCompleted
			j.LastError = ""
		})
		if err != nil {
			s.log.Error("Job failed", "id", id, "error", err, "duration", elapsed)
		} else {
			s.log.Debug("Job completed", "id", id, "duration", elapsed)
		}
	}
}

func (s *Scheduler) update(id string, fn func(*JobInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
	}
}
