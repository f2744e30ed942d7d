package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine runs wave-based crawls. It holds no per-crawl state, so a single
// Engine may serve concurrent Crawl calls.
type Engine struct {
	cfg        Config
	renderer   PageRenderer
	classifier RelevanceClassifier
	extractor  ContentExtractor
	robots     RobotsPolicy
	logger     *zap.Logger
}

// NewEngine wires an Engine. extractor and robots are optional.
func NewEngine(
	cfg Config,
	renderer PageRenderer,
	classifier RelevanceClassifier,
	extractor ContentExtractor,
	robots RobotsPolicy,
	logger *zap.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if renderer == nil {
		return nil, fmt.Errorf("%w: page renderer is required", ErrInvalidConfig)
	}
	if classifier == nil {
		return nil, fmt.Errorf("%w: relevance classifier is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg.withDefaults(),
		renderer:   renderer,
		classifier: classifier,
		extractor:  extractor,
		robots:     robots,
		logger:     logger.Named("crawler"),
	}, nil
}

// crawlRun is the per-call state shared by the workers of one crawl.
type crawlRun struct {
	startURL string
	domain   string
	topic    string
	maxDepth int
	frontier *Frontier
}

// Crawl walks the link graph from startURL breadth-first, one wave per depth,
// with at most maxWorkers tasks in flight. Per-URL failures never abort the
// crawl. When ctx is canceled the partial result is returned with ctx's error.
func (e *Engine) Crawl(ctx context.Context, startURL string, maxDepth, maxWorkers int) (CrawlResult, error) {
	start, err := validateCrawlInput(startURL, maxDepth, maxWorkers)
	if err != nil {
		return CrawlResult{}, err
	}

	run := &crawlRun{
		startURL: start.String(),
		domain:   RegistrableDomain(start.Hostname()),
		maxDepth: maxDepth,
		frontier: NewFrontier(),
	}
	run.topic = e.cfg.linkTopic(run.startURL)
	logger := e.logger.With(zap.String("start_url", run.startURL))

	if IsDocumentLink(run.startURL, e.cfg.DocumentExtensions) {
		run.frontier.AddDocuments(run.startURL)
		DocumentLinksFound.Inc()
		logger.Info("start url is a document; nothing to crawl")
		return run.frontier.Result(run.startURL), nil
	}

	startedAt := time.Now()
	toVisit := []CrawlTask{{URL: run.startURL, Depth: 0, ViaRelevantLink: true}}
	wave := 0
	for len(toVisit) > 0 {
		if err := ctx.Err(); err != nil {
			logger.Warn("crawl canceled", zap.Int("wave", wave), zap.Error(err))
			return run.frontier.Result(run.startURL), fmt.Errorf("crawl canceled: %w", err)
		}
		logger.Debug("dispatching wave", zap.Int("wave", wave), zap.Int("tasks", len(toVisit)))
		WaveSize.Observe(float64(len(toVisit)))
		toVisit = e.runWave(ctx, run, toVisit, maxWorkers)
		wave++
	}

	result := run.frontier.Result(run.startURL)
	logger.Info("crawl finished",
		zap.Int("waves", wave),
		zap.Int("visited", len(result.Visited)),
		zap.Int("documents", len(result.DocumentLinks)),
		zap.Int("relevant_pages", len(result.RelevantPages)),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
	return result, nil
}

func validateCrawlInput(startURL string, maxDepth, maxWorkers int) (*url.URL, error) {
	if strings.TrimSpace(startURL) == "" {
		return nil, fmt.Errorf("%w: start url is required", ErrInvalidConfig)
	}
	if maxDepth < 0 {
		return nil, fmt.Errorf("%w: max depth must be >= 0, got %d", ErrInvalidConfig, maxDepth)
	}
	if maxWorkers <= 0 {
		return nil, fmt.Errorf("%w: max workers must be > 0, got %d", ErrInvalidConfig, maxWorkers)
	}
	normalized, err := NormalizeURL(startURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: start url has no host", ErrInvalidConfig)
	}
	return u, nil
}

// runWave processes every task of the current wave and merges the next-depth
// tasks. It returns only after all tasks of the wave have finished.
func (e *Engine) runWave(ctx context.Context, run *crawlRun, tasks []CrawlTask, maxWorkers int) []CrawlTask {
	produced := make([][]CrawlTask, len(tasks))

	var g errgroup.Group
	g.SetLimit(maxWorkers)
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			produced[i] = e.processTask(ctx, run, task)
			return nil
		})
	}
	_ = g.Wait()

	return mergeTasks(produced)
}

// mergeTasks unions next-wave tasks by URL, keeping the shallowest depth and
// OR-ing the relevance flag, in first-seen order.
func mergeTasks(produced [][]CrawlTask) []CrawlTask {
	index := make(map[string]int)
	var merged []CrawlTask
	for _, batch := range produced {
		for _, task := range batch {
			pos, ok := index[task.URL]
			if !ok {
				index[task.URL] = len(merged)
				merged = append(merged, task)
				continue
			}
			existing := &merged[pos]
			if task.Depth < existing.Depth {
				existing.Depth = task.Depth
			}
			existing.ViaRelevantLink = existing.ViaRelevantLink || task.ViaRelevantLink
		}
	}
	return merged
}

func (e *Engine) processTask(ctx context.Context, run *crawlRun, task CrawlTask) []CrawlTask {
	if task.Depth > run.maxDepth {
		return nil
	}
	if !run.frontier.TryVisit(task.URL, task.Depth) {
		return nil
	}
	logger := e.logger.With(zap.String("url", task.URL), zap.Int("depth", task.Depth))

	html, err := e.render(ctx, task.URL)
	if err != nil {
		PagesRendered.WithLabelValues("error").Inc()
		logger.Warn("render failed", zap.Error(err))
		return nil
	}
	PagesRendered.WithLabelValues("ok").Inc()

	links, err := ExtractLinks(html, task.URL)
	if err != nil {
		logger.Warn("link extraction failed", zap.Error(err))
	}

	var candidates []string
	var documents []string
	for _, link := range links {
		if IsDocumentLink(link, e.cfg.DocumentExtensions) {
			documents = append(documents, link)
			continue
		}
		candidates = append(candidates, link)
	}
	if len(documents) > 0 {
		added := run.frontier.AddDocuments(documents...)
		DocumentLinksFound.Add(float64(added))
	}

	if task.ViaRelevantLink {
		run.frontier.AddRelevant(RelevantPage{
			URL:   task.URL,
			HTML:  html,
			Lines: e.extractLines(ctx, logger, html),
		})
	}

	if task.Depth >= run.maxDepth {
		return nil
	}

	candidates = e.filterCandidates(ctx, run, candidates)
	if len(candidates) == 0 {
		return nil
	}
	approved := e.classifyLinks(ctx, logger, run.topic, candidates)

	next := make([]CrawlTask, 0, len(candidates))
	for _, link := range candidates {
		_, ok := approved[link]
		if e.cfg.FollowOnlyRelevant && !ok {
			continue
		}
		next = append(next, CrawlTask{URL: link, Depth: task.Depth + 1, ViaRelevantLink: ok})
	}
	logger.Debug("page processed",
		zap.Int("links", len(links)),
		zap.Int("documents", len(documents)),
		zap.Int("candidates", len(candidates)),
		zap.Int("approved", len(approved)),
	)
	return next
}

func (e *Engine) render(ctx context.Context, rawURL string) (string, error) {
	renderCtx, cancel := context.WithTimeout(ctx, e.cfg.RenderTimeout)
	defer cancel()
	html, err := e.renderer.Render(renderCtx, rawURL)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return html, nil
}

func (e *Engine) extractLines(ctx context.Context, logger *zap.Logger, html string) []string {
	if e.extractor == nil {
		return nil
	}
	lines, err := e.extractor.Extract(ctx, html)
	if err != nil {
		logger.Warn("content extraction failed", zap.Error(err))
		return nil
	}
	return lines
}

// filterCandidates keeps same-domain links that are not yet visited and that
// robots.txt allows.
func (e *Engine) filterCandidates(ctx context.Context, run *crawlRun, links []string) []string {
	out := make([]string, 0, len(links))
	for _, link := range links {
		if !SameRegistrableDomain(link, run.domain) {
			continue
		}
		if run.frontier.Visited(link) {
			continue
		}
		if e.robots != nil && !e.robots.Allowed(ctx, link) {
			RobotsDenied.Inc()
			continue
		}
		out = append(out, link)
	}
	return out
}

// classifyLinks returns the approved subset of candidates. A failed batch
// approves nothing.
func (e *Engine) classifyLinks(ctx context.Context, logger *zap.Logger, topic string, candidates []string) map[string]struct{} {
	approved := make(map[string]struct{})
	for start := 0; start < len(candidates); start += e.cfg.ClassifyBatchSize {
		end := min(start+e.cfg.ClassifyBatchSize, len(candidates))
		batch := candidates[start:end]
		selected, err := e.classifier.Classify(ctx, batch, topic, e.cfg.LinkStrictness)
		if err != nil {
			ClassifierFailures.WithLabelValues("links").Inc()
			if !errors.Is(err, context.Canceled) {
				logger.Warn("link classification failed", zap.Int("batch", len(batch)), zap.Error(err))
			}
			continue
		}
		allowed := make(map[string]struct{}, len(batch))
		for _, c := range batch {
			allowed[c] = struct{}{}
		}
		for _, s := range selected {
			if _, ok := allowed[s]; ok {
				approved[s] = struct{}{}
			}
		}
	}
	return approved
}
