package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

func TestWorker_ProcessJob_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := newFakeQueue(crawler.QueueItem{
		JobID:  "job-success",
		Params: crawler.JobParameters{URL: "https://example.com/"},
	})
	jobStore := newFakeJobStore()
	blobStore := newFakeBlobStore()
	chunkStore := &fakeChunkStore{}
	publisher := &fakePublisher{}
	harvester := NewHarvester(&fakeCrawler{result: menuCrawl()}, nil, HarvestConfig{}, zap.NewNop())

	w := New(queue, jobStore, blobStore, chunkStore, publisher,
		&fakeHasher{hash: "abc123"}, &fakeClock{now: time.Unix(100, 0)},
		harvester, nil, Config{BlobPrefix: "results/", Topic: "harvests"}, zap.NewNop())

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []int{0, ProgressCrawling, ProgressDocuments, ProgressChunking, ProgressPersisting, ProgressDone},
		jobStore.progressHistory())
	require.Equal(t, "results/job-success/result.json", blobStore.lastPath)

	var stored crawler.Result
	require.NoError(t, json.Unmarshal(blobStore.objects[blobStore.lastPath], &stored))
	require.Equal(t, "job-success", stored.JobID)
	require.Equal(t, []string{"https://example.com/", "https://example.com/menu"}, stored.RelevantPages)

	result, ok := jobStore.results["job-success"]
	require.True(t, ok)
	require.Equal(t, "memory://results/job-success/result.json", result.BlobURI)
	require.Equal(t, "abc123", result.ContentHash)
	require.Equal(t, time.Unix(100, 0), result.CompletedAt)
	require.Len(t, chunkStore.records, 1)
	require.Equal(t, 0, chunkStore.records[0].Index)
	require.Equal(t, "job-success", chunkStore.records[0].JobID)

	require.Len(t, publisher.messages, 1)
	require.Equal(t, "harvests", publisher.topics[0])
	require.Equal(t, "job-success", publisher.messages[0]["job_id"])
	require.Equal(t, 1, publisher.messages[0]["chunks"])
	require.Equal(t, 1, jobStore.lastCounters().Chunks)
}

func TestWorker_ProcessJob_PublishFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := newFakeQueue(crawler.QueueItem{
		JobID:  "job-publish-fail",
		Params: crawler.JobParameters{URL: "https://example.com/"},
	})
	jobStore := newFakeJobStore()
	publisher := &fakePublisher{err: errors.New("pub failure")}
	harvester := NewHarvester(&fakeCrawler{result: menuCrawl()}, nil, HarvestConfig{}, nil)

	w := New(queue, jobStore, nil, nil, publisher, &fakeHasher{}, &fakeClock{now: time.Unix(200, 0)},
		harvester, nil, Config{Topic: "harvests"}, nil)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusFailed
	}, time.Second, 10*time.Millisecond)
	require.Contains(t, jobStore.lastUpdate().ErrorText, "pub failure")
}

func TestWorker_ProcessJob_NoContentFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := newFakeQueue(crawler.QueueItem{
		JobID:  "job-empty",
		Params: crawler.JobParameters{URL: "https://empty.example/"},
	})
	jobStore := newFakeJobStore()
	harvester := NewHarvester(&fakeCrawler{result: crawler.CrawlResult{
		Visited: map[string]int{"https://empty.example/": 0},
	}}, nil, HarvestConfig{}, nil)

	w := New(queue, jobStore, nil, nil, nil, &fakeHasher{}, &fakeClock{}, harvester, nil, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusFailed
	}, time.Second, 10*time.Millisecond)
	update := jobStore.lastUpdate()
	require.Equal(t, ErrNoContent.Error(), update.ErrorText)
	require.Equal(t, 1, update.Counters.PagesVisited)
	_, saved := jobStore.results["job-empty"]
	require.False(t, saved)
}

func TestWorker_ProcessJob_CancelViaRegistry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := newFakeQueue(crawler.QueueItem{
		JobID:  "job-cancel",
		Params: crawler.JobParameters{URL: "https://example.com/"},
	})
	jobStore := newFakeJobStore()
	registry := NewRegistry()
	harvester := NewHarvester(&fakeCrawler{result: menuCrawl(), block: true}, nil, HarvestConfig{}, nil)

	w := New(queue, jobStore, nil, nil, nil, &fakeHasher{}, &fakeClock{}, harvester, registry, Config{}, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return registry.Running() == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, registry.Cancel("job-cancel"))

	require.Eventually(t, func() bool {
		return jobStore.lastStatus() == crawler.JobStatusCanceled
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return registry.Running() == 0
	}, time.Second, 5*time.Millisecond)
	require.False(t, registry.Cancel("job-cancel"))
}

func TestWorker_SkipsJobCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	jobStore.jobs["job-early"] = crawler.Job{ID: "job-early", Status: crawler.JobStatusCanceled}
	c := &fakeCrawler{result: menuCrawl()}
	w := New(nil, jobStore, nil, nil, nil, &fakeHasher{}, &fakeClock{},
		NewHarvester(c, nil, HarvestConfig{}, nil), nil, Config{}, nil)

	w.processJob(context.Background(), crawler.QueueItem{JobID: "job-early"})

	require.Empty(t, jobStore.updates)
	require.Empty(t, c.calls)
}

func TestWorker_CancelDuringRegisterIsHonored(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	jobStore.setStatus("job-race", crawler.JobStatusQueued)
	registry := NewRegistry()
	// The cancel lands after the worker dequeued the job, while it registers.
	jobStore.onGet = func(jobID string) {
		jobStore.setStatus(jobID, crawler.JobStatusCanceled)
		registry.Cancel(jobID)
	}
	c := &fakeCrawler{result: menuCrawl()}
	w := New(nil, jobStore, nil, nil, nil, &fakeHasher{}, &fakeClock{},
		NewHarvester(c, nil, HarvestConfig{}, nil), registry, Config{}, nil)

	w.processJob(context.Background(), crawler.QueueItem{
		JobID:  "job-race",
		Params: crawler.JobParameters{URL: "https://example.com/"},
	})

	require.Empty(t, jobStore.updates)
	require.Empty(t, c.calls)
	require.Equal(t, 0, registry.Running())
}

func TestWorker_RunningUpdatesCarryCounters(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	harvester := NewHarvester(&fakeCrawler{result: menuCrawl()}, nil, HarvestConfig{}, nil)
	w := New(nil, jobStore, newFakeBlobStore(), &fakeChunkStore{}, &fakePublisher{}, &fakeHasher{}, &fakeClock{},
		harvester, nil, Config{}, nil)

	w.processJob(context.Background(), crawler.QueueItem{
		JobID:  "job-counters",
		Params: crawler.JobParameters{URL: "https://example.com/"},
	})

	persisting, ok := jobStore.updateAt(ProgressPersisting)
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusRunning, persisting.Status)
	require.Positive(t, persisting.Counters.PagesVisited)
	require.Positive(t, persisting.Counters.ContentLines)

	documents, ok := jobStore.updateAt(ProgressDocuments)
	require.True(t, ok)
	require.Equal(t, persisting.Counters.PagesVisited, documents.Counters.PagesVisited)
}

func TestWorker_NoHarvesterFailsJob(t *testing.T) {
	t.Parallel()

	jobStore := newFakeJobStore()
	w := New(nil, jobStore, nil, nil, nil, &fakeHasher{}, &fakeClock{}, nil, nil, Config{}, nil)
	w.processJob(context.Background(), crawler.QueueItem{JobID: "job-x"})

	require.Equal(t, crawler.JobStatusFailed, jobStore.lastStatus())
}

func TestWorker_RunReturnsWhenContextDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	w := New(newFakeQueue(), newFakeJobStore(), nil, nil, nil, &fakeHasher{}, &fakeClock{}, nil, nil, Config{}, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestBuildBlobPath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":          "job/result.json",
		"results":   "results/job/result.json",
		"/results/": "results/job/result.json",
		"a/b":       "a/b/job/result.json",
	}
	for prefix, want := range tests {
		w := &Worker{cfg: Config{BlobPrefix: prefix}}
		require.Equal(t, want, w.buildBlobPath("job"), "prefix %q", prefix)
	}
}

type fakeQueue struct {
	items chan crawler.QueueItem
}

func newFakeQueue(items ...crawler.QueueItem) *fakeQueue {
	q := &fakeQueue{items: make(chan crawler.QueueItem, len(items)+1)}
	for _, item := range items {
		q.items <- item
	}
	return q
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.items <- item
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return crawler.QueueItem{}, ctx.Err()
	}
}

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]crawler.Job
	updates []crawler.StatusUpdate
	results map[string]crawler.Result
	onGet   func(jobID string)
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:    make(map[string]crawler.Job),
		results: make(map[string]crawler.Result),
	}
}

func (f *fakeJobStore) CreateJob(_ context.Context, job crawler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) UpdateJobStatus(_ context.Context, _ string, update crawler.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeJobStore) SaveResult(_ context.Context, result crawler.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[result.JobID] = result
	return nil
}

func (f *fakeJobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	if f.onGet != nil {
		f.onGet(jobID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return crawler.Job{}, errors.New("not found")
	}
	return job, nil
}

func (f *fakeJobStore) GetResult(_ context.Context, jobID string) (crawler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[jobID]
	if !ok {
		return crawler.Result{}, errors.New("not found")
	}
	return result, nil
}

func (f *fakeJobStore) lastUpdate() crawler.StatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return crawler.StatusUpdate{}
	}
	return f.updates[len(f.updates)-1]
}

func (f *fakeJobStore) lastStatus() crawler.JobStatus {
	return f.lastUpdate().Status
}

func (f *fakeJobStore) lastCounters() crawler.JobCounters {
	return f.lastUpdate().Counters
}

func (f *fakeJobStore) setStatus(jobID string, status crawler.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.ID = jobID
	job.Status = status
	f.jobs[jobID] = job
}

func (f *fakeJobStore) updateAt(progress int) (crawler.StatusUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.updates {
		if u.Progress == progress {
			return u, true
		}
	}
	return crawler.StatusUpdate{}, false
}

func (f *fakeJobStore) progressHistory() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.updates))
	for _, u := range f.updates {
		out = append(out, u.Progress)
	}
	return out
}

type fakeBlobStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	lastPath string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = payload
	b.lastPath = path
	return "memory://" + path, nil
}

type fakeChunkStore struct {
	mu      sync.Mutex
	records []crawler.ChunkRecord
}

func (s *fakeChunkStore) StoreChunks(_ context.Context, _ string, chunks []crawler.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, chunks...)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []map[string]any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if m, ok := payload.(map[string]any); ok {
		p.messages = append(p.messages, m)
	}
	return "msgid", nil
}

type fakeHasher struct {
	hash string
	err  error
}

func (h *fakeHasher) Hash(data []byte) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	if h.hash != "" {
		return h.hash, nil
	}
	return string(data), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func TestWorker_RunStopsOnClosedQueue(t *testing.T) {
	t.Parallel()

	w := New(closedQueue{}, newFakeJobStore(), nil, nil, nil, &fakeHasher{}, &fakeClock{}, nil, nil, Config{}, nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker kept polling a closed queue")
	}
}

type closedQueue struct{}

func (closedQueue) Enqueue(context.Context, crawler.QueueItem) error { return crawler.ErrQueueClosed }

func (closedQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, crawler.ErrQueueClosed
}
