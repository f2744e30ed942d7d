package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// ErrJobExists is returned when creating a job whose ID is already stored.
var ErrJobExists = errors.New("job already exists")

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]crawler.Job
	results map[string]crawler.Result
	now     func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]crawler.Job),
		results: make(map[string]crawler.Result),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrJobExists
	}
	if job.Status == "" {
		job.Status = crawler.JobStatusQueued
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus applies update to a job. Jobs in a terminal status are not
// modified and crawler.ErrJobFinished is returned.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, update crawler.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return crawler.ErrJobFinished
	}
	job.Status = update.Status
	if update.Progress > 0 {
		job.Progress = update.Progress
	}
	if update.Message != "" {
		job.Message = update.Message
	}
	job.ErrorText = update.ErrorText
	if update.Counters != (crawler.JobCounters{}) {
		job.Counters = update.Counters
	}
	now := s.now()
	if update.Status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if update.Status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// SaveResult stores the output of a finished job.
func (s *JobStore) SaveResult(_ context.Context, result crawler.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[result.JobID]; !ok {
		return crawler.ErrJobNotFound
	}
	result.Chunks = append([]string(nil), result.Chunks...)
	s.results[result.JobID] = result
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return job, nil
}

// GetResult returns the stored result for a job.
func (s *JobStore) GetResult(_ context.Context, jobID string) (crawler.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return crawler.Result{}, crawler.ErrJobNotFound
	}
	result, ok := s.results[jobID]
	if !ok {
		return crawler.Result{}, crawler.ErrResultNotFound
	}
	return result, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
