package server

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/classifier"
	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/content"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/document"
	"github.com/JakeFAU/menu-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/menu-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/menu-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/menu-harvester/internal/headless/detector"
	"github.com/JakeFAU/menu-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/menu-harvester/internal/worker"
)

// Pipeline holds the crawl, extraction and chunking components shared by the
// service and the one-shot CLI.
type Pipeline struct {
	Harvester *worker.Harvester
	headless  *headlessfetcher.Renderer
}

// NewPipeline builds the harvest pipeline described by cfg.
func NewPipeline(cfg config.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{}

	renderer, err := p.buildRenderer(cfg, logger)
	if err != nil {
		return nil, err
	}
	relevance := buildClassifier(cfg, logger)

	extractor := content.NewExtractor(relevance, content.Options{
		Topic:      cfg.Content.Topic,
		Strictness: crawler.Strictness(cfg.Content.Strictness),
		Window:     cfg.Content.Window,
		BatchSize:  cfg.Content.BatchSize,
	}, logger)

	robotsClient := &http.Client{
		Timeout:   time.Duration(cfg.HTTP.RobotsTimeoutSeconds) * time.Second,
		Transport: collyfetcher.NewRobotsTransport(http.DefaultTransport),
	}
	robots := crawler.NewRobotsPolicy(cfg.Crawler.RespectRobots, cfg.Crawler.UserAgent, robotsClient, logger)

	crawlCfg := crawler.DefaultConfig()
	crawlCfg.RenderTimeout = cfg.RenderTimeout()
	if len(cfg.Crawler.DocumentExtensions) > 0 {
		crawlCfg.DocumentExtensions = cfg.Crawler.DocumentExtensions
	}
	if cfg.Crawler.LinkStrictness != "" {
		crawlCfg.LinkStrictness = crawler.Strictness(cfg.Crawler.LinkStrictness)
	}
	if cfg.Crawler.ClassifyBatchSize > 0 {
		crawlCfg.ClassifyBatchSize = cfg.Crawler.ClassifyBatchSize
	}
	crawlCfg.FollowOnlyRelevant = cfg.Crawler.FollowOnlyRelevant

	engine, err := crawler.NewEngine(crawlCfg, renderer, relevance, extractor, robots, logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("crawl engine init failed: %w", err)
	}

	var documents crawler.DocumentExtractor
	if cfg.Documents.Enabled {
		documents = document.NewPDFExtractor(document.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   time.Duration(cfg.Documents.TimeoutSeconds) * time.Second,
			MaxBytes:  cfg.Documents.MaxBytes,
		}, nil, logger)
	}

	p.Harvester = worker.NewHarvester(engine, documents, worker.HarvestConfig{
		MaxWorkers:      cfg.Crawler.MaxWorkersDefault,
		DocumentWorkers: cfg.Documents.Workers,
		MaxDocuments:    cfg.Documents.MaxDocuments,
	}, logger)
	return p, nil
}

// Close releases the headless browser, if one was started.
func (p *Pipeline) Close() {
	if p.headless != nil {
		p.headless.Close()
	}
}

func (p *Pipeline) buildRenderer(cfg config.Config, logger *zap.Logger) (crawler.PageRenderer, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.HTTPTimeout(),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	logger.Info("using colly static renderer", zap.String("user_agent", cfg.Crawler.UserAgent))

	var headless crawler.PageRenderer
	if cfg.Headless.Enabled {
		r, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
			MaxScrolls:        cfg.Headless.MaxScrolls,
			ScrollPause:       time.Duration(cfg.Headless.ScrollPauseMillis) * time.Millisecond,
			RevealHidden:      cfg.Headless.RevealHidden,
			MergeFrames:       cfg.Headless.MergeFrames,
			ExecPath:          cfg.Headless.ExecPath,
		}, logger)
		if err != nil {
			logger.Warn("headless renderer init failed, continuing with static renders only", zap.Error(err))
		} else {
			p.headless = r
			headless = r
			logger.Info("using headless renderer", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	promoting, err := fetcher.NewPromoting(static, headless, detector.NewHeuristic(cfg.Headless.PromotionThreshold), logger)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}
	if cfg.RateLimit.RPS <= 0 {
		return promoting, nil
	}
	logger.Info("rate limiter enabled",
		zap.Float64("rps", cfg.RateLimit.RPS),
		zap.Int("burst", cfg.RateLimit.Burst),
	)
	return fetcher.NewRateLimited(promoting, ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.RPS,
		DefaultBurst: cfg.RateLimit.Burst,
	})), nil
}

func buildClassifier(cfg config.Config, logger *zap.Logger) crawler.RelevanceClassifier {
	keyword := classifier.NewKeyword(nil)
	if cfg.Classifier.Provider != config.ClassifierOpenAI {
		logger.Info("using keyword classifier")
		return keyword
	}
	model := classifier.NewOpenAI(classifier.Config{
		APIURL:        cfg.Classifier.APIURL,
		APIKey:        cfg.Classifier.APIKey,
		Model:         cfg.Classifier.Model,
		Timeout:       time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second,
		PreviewLength: cfg.Classifier.PreviewLength,
	}, logger)
	logger.Info("using openai classifier",
		zap.String("model", cfg.Classifier.Model),
		zap.Bool("keyword_fallback", cfg.Classifier.KeywordFallback),
	)
	if !cfg.Classifier.KeywordFallback {
		return model
	}
	return classifier.NewFallback(model, keyword, logger)
}
