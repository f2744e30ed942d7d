package worker

import (
	"context"
	"sync"
)

// Registry tracks the cancel functions of running jobs.
type Registry struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[string]context.CancelFunc)}
}

// Register records cancel for jobID.
func (r *Registry) Register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[jobID] = cancel
}

// Unregister forgets jobID.
func (r *Registry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, jobID)
}

// Cancel stops jobID if it is running and reports whether it was.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running returns the number of registered jobs.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
