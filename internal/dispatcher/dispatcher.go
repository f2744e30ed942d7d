// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers and routes
// cancellation requests to whichever worker holds a job.
type Dispatcher struct {
	queue    crawler.Queue
	workers  []*worker.Worker
	registry *worker.Registry
}

// New creates a Dispatcher. registry should be the one shared with workers;
// nil disables Cancel.
func New(queue crawler.Queue, workers []*worker.Worker, registry *worker.Registry) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		workers:  workers,
		registry: registry,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel interrupts a running job and reports whether one was found.
func (d *Dispatcher) Cancel(jobID string) bool {
	if d.registry == nil {
		return false
	}
	return d.registry.Cancel(jobID)
}
