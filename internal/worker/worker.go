// Package worker implements the harvest pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	BlobPrefix string
	Topic      string
}

// Worker consumes queue items and executes the harvest pipeline.
type Worker struct {
	queue      crawler.Queue
	jobStore   crawler.JobStore
	blobStore  crawler.BlobStore
	chunkStore crawler.ChunkStore
	publisher  crawler.Publisher
	hasher     crawler.Hasher
	clock      crawler.Clock
	harvester  *Harvester
	registry   *Registry
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. blobStore, chunkStore and publisher are optional.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	chunkStore crawler.ChunkStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	harvester *Harvester,
	registry *Registry,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Worker{
		queue:      queue,
		jobStore:   jobStore,
		blobStore:  blobStore,
		chunkStore: chunkStore,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		harvester:  harvester,
		registry:   registry,
		cfg:        cfg,
		logger:     logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

var tracer = otel.Tracer("github.com/JakeFAU/menu-harvester/internal/worker")

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	ctx, span := tracer.Start(ctx, "harvest.job",
		trace.WithAttributes(
			attribute.String("job.id", item.JobID),
			attribute.String("job.url", item.Params.URL),
		),
	)
	defer span.End()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	logger := w.logger.With(zap.String("job_id", item.JobID))

	if w.harvester == nil {
		w.update(ctx, logger, item.JobID, crawler.StatusUpdate{
			Status:    crawler.JobStatusFailed,
			ErrorText: "no harvester configured",
		})
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	w.registry.Register(item.JobID, cancel)
	defer func() {
		w.registry.Unregister(item.JobID)
		cancel()
	}()
	// Checked after Register so a cancel racing the start is either seen here
	// or delivered through the registry.
	if job, err := w.jobStore.GetJob(ctx, item.JobID); err == nil && job.Status == crawler.JobStatusCanceled {
		logger.Info("skipping job canceled before start")
		return
	}

	start := w.clock.Now()
	// Status writes must outlive a canceled job context.
	statusCtx := context.WithoutCancel(ctx)
	w.update(statusCtx, logger, item.JobID, crawler.StatusUpdate{
		Status:  crawler.JobStatusRunning,
		Message: "starting",
	})

	progress := func(p int, message string, counters crawler.JobCounters) {
		w.update(statusCtx, logger, item.JobID, crawler.StatusUpdate{
			Status:   crawler.JobStatusRunning,
			Progress: p,
			Message:  message,
			Counters: counters,
		})
	}

	out, err := w.harvester.Run(jobCtx, item.Params, progress)
	counters := out.Counters
	if err == nil {
		progress(ProgressPersisting, "saving results", counters)
		err = w.persist(jobCtx, item, out)
	}

	final := w.deriveFinalStatus(jobCtx, err, counters)
	w.update(statusCtx, logger, item.JobID, final)
	span.SetAttributes(
		attribute.String("job.status", string(final.Status)),
		attribute.Int("job.chunks", counters.Chunks),
	)
	metrics.ObserveJob(string(final.Status), w.clock.Now().Sub(start))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("job finished with error", zap.String("status", string(final.Status)), zap.Error(err))
		return
	}
	logger.Info("job succeeded", zap.Int("chunks", counters.Chunks))
}

func (w *Worker) update(ctx context.Context, logger *zap.Logger, jobID string, update crawler.StatusUpdate) {
	err := w.jobStore.UpdateJobStatus(ctx, jobID, update)
	if errors.Is(err, crawler.ErrJobFinished) {
		logger.Debug("job already finished, status update dropped", zap.String("status", string(update.Status)))
		return
	}
	if err != nil {
		logger.Error("update job status failed",
			zap.String("status", string(update.Status)),
			zap.Error(err),
		)
	}
}

func (w *Worker) persist(ctx context.Context, item crawler.QueueItem, out Output) error {
	startURL := out.Crawl.StartURL
	if startURL == "" {
		startURL = item.Params.URL
	}
	result := crawler.Result{
		JobID:         item.JobID,
		StartURL:      startURL,
		Chunks:        out.Chunks,
		RelevantPages: relevantURLs(out.Crawl.RelevantPages),
		DocumentLinks: out.Crawl.DocumentLinks,
		CompletedAt:   w.clock.Now(),
	}

	hash, err := w.hasher.Hash([]byte(strings.Join(out.Chunks, "\n")))
	if err != nil {
		return fmt.Errorf("hash chunks: %w", err)
	}
	result.ContentHash = hash

	if w.blobStore != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(item.JobID), "application/json", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("put object: %w", err)
		}
		result.BlobURI = uri
	}

	if w.chunkStore != nil && len(out.Chunks) > 0 {
		records, err := w.chunkRecords(item.JobID, out.Chunks, result.CompletedAt)
		if err != nil {
			return err
		}
		if err := w.chunkStore.StoreChunks(ctx, item.JobID, records); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
	}

	if err := w.jobStore.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return w.publishResult(ctx, result)
}

func (w *Worker) chunkRecords(jobID string, chunks []string, at time.Time) ([]crawler.ChunkRecord, error) {
	records := make([]crawler.ChunkRecord, 0, len(chunks))
	for i, text := range chunks {
		h, err := w.hasher.Hash([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("hash chunk %d: %w", i, err)
		}
		records = append(records, crawler.ChunkRecord{
			JobID:     jobID,
			Index:     i,
			Text:      text,
			Hash:      h,
			CreatedAt: at,
		})
	}
	return records, nil
}

func (w *Worker) buildBlobPath(jobID string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/result.json", jobID)
	}
	return fmt.Sprintf("%s/%s/result.json", prefix, jobID)
}

func (w *Worker) publishResult(ctx context.Context, result crawler.Result) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"job_id":         result.JobID,
		"start_url":      result.StartURL,
		"chunks":         len(result.Chunks),
		"relevant_pages": len(result.RelevantPages),
		"blob_uri":       result.BlobURI,
		"content_hash":   result.ContentHash,
		"timestamp":      result.CompletedAt.Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("result published",
		zap.String("job_id", result.JobID),
		zap.String("message_id", id),
		zap.String("blob_uri", result.BlobURI),
	)
	return nil
}

func (w *Worker) deriveFinalStatus(jobCtx context.Context, err error, counters crawler.JobCounters) crawler.StatusUpdate {
	switch {
	case err == nil:
		return crawler.StatusUpdate{
			Status:   crawler.JobStatusSucceeded,
			Progress: ProgressDone,
			Message:  "done",
			Counters: counters,
		}
	case jobCtx.Err() != nil || errors.Is(err, context.Canceled):
		return crawler.StatusUpdate{
			Status:    crawler.JobStatusCanceled,
			Message:   "canceled",
			ErrorText: err.Error(),
			Counters:  counters,
		}
	default:
		return crawler.StatusUpdate{
			Status:    crawler.JobStatusFailed,
			Message:   "failed",
			ErrorText: err.Error(),
			Counters:  counters,
		}
	}
}

func relevantURLs(pages []crawler.RelevantPage) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.URL)
	}
	return out
}
