// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Strictness controls how liberal a RelevanceClassifier should be.
type Strictness string

// Strictness levels understood by the classifiers.
const (
	StrictnessCertain    Strictness = "certain"
	StrictnessLikely     Strictness = "likely"
	StrictnessEvenRemote Strictness = "even remote"
)

// Valid reports whether s is a known strictness level.
func (s Strictness) Valid() bool {
	switch s {
	case StrictnessCertain, StrictnessLikely, StrictnessEvenRemote:
		return true
	default:
		return false
	}
}

// CrawlTask is one unit of work dispatched to the wave pool.
type CrawlTask struct {
	URL   string
	Depth int
	// ViaRelevantLink is true for the root and for links the classifier approved.
	ViaRelevantLink bool
}

// RelevantPage is a page judged relevant, paired with the HTML snapshot used
// to classify it so downstream stages do not fetch it again.
type RelevantPage struct {
	URL   string   `json:"url"`
	HTML  string   `json:"-"`
	Lines []string `json:"lines,omitempty"`
}

// CrawlResult is the final state of a crawl's Frontier.
type CrawlResult struct {
	StartURL      string         `json:"start_url"`
	Visited       map[string]int `json:"visited"`
	DocumentLinks []string       `json:"document_links"`
	RelevantPages []RelevantPage `json:"relevant_pages"`
}

// JobStatus represents the lifecycle state of a harvest job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters captures per-job knobs requested by the client.
type JobParameters struct {
	URL          string   `json:"url" mapstructure:"url"`
	DocumentURLs []string `json:"document_urls,omitempty" mapstructure:"document_urls"`
	MaxDepth     int      `json:"max_depth" mapstructure:"max_depth"`
	MaxWorkers   int      `json:"max_workers" mapstructure:"max_workers"`
	ChunkSize    int      `json:"chunk_size" mapstructure:"chunk_size"`
	Overlap      int      `json:"overlap" mapstructure:"overlap"`
}

// JobCounters tracks what a harvest produced.
type JobCounters struct {
	PagesVisited    int `json:"pages_visited"`
	RelevantPages   int `json:"relevant_pages"`
	Documents       int `json:"documents"`
	DocumentsFailed int `json:"documents_failed"`
	ContentLines    int `json:"content_lines"`
	Chunks          int `json:"chunks"`
}

// Job represents the metadata persisted for each submitted harvest.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Progress   int           `json:"progress"`
	Message    string        `json:"message,omitempty"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// StatusUpdate is applied to a stored Job by the worker.
type StatusUpdate struct {
	Status    JobStatus
	Progress  int
	Message   string
	ErrorText string
	Counters  JobCounters
}

// Result is the output of a finished harvest job.
type Result struct {
	JobID         string    `json:"job_id"`
	StartURL      string    `json:"start_url"`
	Chunks        []string  `json:"chunks"`
	RelevantPages []string  `json:"relevant_pages"`
	DocumentLinks []string  `json:"document_links"`
	BlobURI       string    `json:"blob_uri,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// ChunkRecord is one persisted chunk row.
type ChunkRecord struct {
	JobID     string
	Index     int
	Text      string
	Hash      string
	CreatedAt time.Time
}
