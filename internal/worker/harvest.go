package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/menu-harvester/internal/chunk"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
)

// ErrNoContent is returned when neither pages nor documents yielded text.
var ErrNoContent = errors.New("no menu content harvested")

// Crawler runs a depth-bounded crawl from a start URL.
type Crawler interface {
	Crawl(ctx context.Context, startURL string, maxDepth, maxWorkers int) (crawler.CrawlResult, error)
}

// ProgressFunc receives pipeline milestones as a percentage, a message and
// the counters gathered so far.
type ProgressFunc func(progress int, message string, counters crawler.JobCounters)

// Progress milestones reported by Harvester.Run.
const (
	ProgressCrawling   = 10
	ProgressDocuments  = 30
	ProgressChunking   = 50
	ProgressPersisting = 80
	ProgressDone       = 100
)

// HarvestConfig tunes the pipeline. Job parameters arrive fully resolved
// from the API or CLI; only a non-positive MaxWorkers is replaced here, since
// zero depth, chunk size and overlap are all meaningful requests.
type HarvestConfig struct {
	MaxWorkers      int
	DocumentWorkers int
	// MaxDocuments caps how many documents are extracted per job. Zero is unlimited.
	MaxDocuments int
}

// Output is everything a harvest produced.
type Output struct {
	Crawl    crawler.CrawlResult
	Lines    []string
	Chunks   []string
	Counters crawler.JobCounters
}

// Harvester runs crawl, document extraction and chunking for one start URL.
type Harvester struct {
	crawler   Crawler
	documents crawler.DocumentExtractor
	cfg       HarvestConfig
	logger    *zap.Logger
}

// NewHarvester builds a Harvester. documents may be nil, in which case
// document links are reported but not extracted.
func NewHarvester(c Crawler, documents crawler.DocumentExtractor, cfg HarvestConfig, logger *zap.Logger) *Harvester {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.DocumentWorkers <= 0 {
		cfg.DocumentWorkers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{
		crawler:   c,
		documents: documents,
		cfg:       cfg,
		logger:    logger.Named("harvester"),
	}
}

// Resolve replaces a non-positive worker count with the configured one and
// keeps every other parameter as given.
func (h *Harvester) Resolve(params crawler.JobParameters) crawler.JobParameters {
	if params.MaxWorkers <= 0 {
		params.MaxWorkers = h.cfg.MaxWorkers
	}
	return params
}

// Run executes the pipeline. On cancellation the partial output is returned
// with the context error.
func (h *Harvester) Run(ctx context.Context, params crawler.JobParameters, progress ProgressFunc) (Output, error) {
	if progress == nil {
		progress = func(int, string, crawler.JobCounters) {}
	}
	params = h.Resolve(params)
	start := time.Now()
	var out Output

	progress(ProgressCrawling, "crawling website", out.Counters)
	result, err := h.crawler.Crawl(ctx, params.URL, params.MaxDepth, params.MaxWorkers)
	out.Crawl = result
	out.Counters.PagesVisited = len(result.Visited)
	out.Counters.RelevantPages = len(result.RelevantPages)
	if err != nil {
		return out, fmt.Errorf("crawl: %w", err)
	}

	for _, page := range result.RelevantPages {
		out.Lines = append(out.Lines, page.Lines...)
	}
	out.Counters.ContentLines = len(out.Lines)

	docURLs := h.documentURLs(params.DocumentURLs, result.DocumentLinks)
	progress(ProgressDocuments, fmt.Sprintf("extracting text from %d documents", len(docURLs)), out.Counters)
	texts, succeeded, failed, err := h.extractDocuments(ctx, docURLs)
	out.Counters.Documents = succeeded
	out.Counters.DocumentsFailed = failed
	if err != nil {
		return out, err
	}

	segments := make([]string, 0, len(out.Lines)+len(texts))
	segments = append(segments, out.Lines...)
	for _, text := range texts {
		if strings.TrimSpace(text) != "" {
			segments = append(segments, text)
		}
	}
	if len(segments) == 0 {
		return out, ErrNoContent
	}

	progress(ProgressChunking, "chunking content", out.Counters)
	out.Chunks = chunk.Chunk(segments, params.ChunkSize, params.Overlap)
	out.Counters.Chunks = len(out.Chunks)
	metrics.ObserveChunks(len(out.Chunks))

	h.logger.Info("harvest finished",
		zap.String("url", params.URL),
		zap.Int("pages_visited", out.Counters.PagesVisited),
		zap.Int("relevant_pages", out.Counters.RelevantPages),
		zap.Int("documents", out.Counters.Documents),
		zap.Int("chunks", out.Counters.Chunks),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// documentURLs merges caller-supplied and crawled document URLs, keeping the
// caller's first and dropping duplicates.
func (h *Harvester) documentURLs(supplied, crawled []string) []string {
	seen := make(map[string]struct{}, len(supplied)+len(crawled))
	var out []string
	for _, list := range [][]string{supplied, crawled} {
		for _, raw := range list {
			u := strings.TrimSpace(raw)
			if u == "" {
				continue
			}
			if normalized, err := crawler.NormalizeURL(u); err == nil {
				u = normalized
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	if h.cfg.MaxDocuments > 0 && len(out) > h.cfg.MaxDocuments {
		h.logger.Info("document list truncated", zap.Int("found", len(out)), zap.Int("limit", h.cfg.MaxDocuments))
		out = out[:h.cfg.MaxDocuments]
	}
	return out
}

// extractDocuments fans out over urls and reports how many succeeded and
// failed. Individual failures are logged; only cancellation aborts.
func (h *Harvester) extractDocuments(ctx context.Context, urls []string) ([]string, int, int, error) {
	if len(urls) == 0 || h.documents == nil {
		return nil, 0, 0, nil
	}
	texts := make([]string, len(urls))
	failures := make([]bool, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.DocumentWorkers)
	for i, u := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := h.documents.ExtractText(gctx, u)
			if err != nil {
				failures[i] = true
				metrics.ObserveDocument("failed")
				h.logger.Warn("document extraction failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			metrics.ObserveDocument("succeeded")
			texts[i] = text
			return nil
		})
	}
	waitErr := g.Wait()
	failed := countTrue(failures)
	if waitErr != nil {
		return nil, 0, failed, fmt.Errorf("extract documents: %w", waitErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, failed, fmt.Errorf("extract documents: %w", err)
	}
	return texts, len(urls) - failed, failed, nil
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
