package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors shared by queue and store implementations.
var (
	// ErrQueueClosed is returned by Dequeue once a queue has been shut down.
	ErrQueueClosed = errors.New("queue closed")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrResultNotFound is returned when a job has no stored result yet.
	ErrResultNotFound = errors.New("result not found")
	// ErrJobFinished is returned when updating a job already in a terminal status.
	ErrJobFinished = errors.New("job already finished")
)

// PageRenderer fetches a URL and returns its rendered HTML.
type PageRenderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// RelevanceClassifier returns the subset of candidates relevant to topic.
// Implementations must preserve the relative order of the input.
type RelevanceClassifier interface {
	Classify(ctx context.Context, candidates []string, topic string, strictness Strictness) ([]string, error)
}

// DocumentExtractor fetches a non-HTML document and returns its text.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, rawURL string) (string, error)
}

// ContentExtractor turns rendered HTML into ordered content lines.
type ContentExtractor interface {
	Extract(ctx context.Context, html string) ([]string, error)
}

// RobotsPolicy decides whether a URL may be crawled.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// JobStore persists harvest jobs and their results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, update StatusUpdate) error
	SaveResult(ctx context.Context, result Result) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	GetResult(ctx context.Context, jobID string) (Result, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ChunkStore persists the chunks produced for a job.
type ChunkStore interface {
	StoreChunks(ctx context.Context, jobID string, chunks []ChunkRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for harvest jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
