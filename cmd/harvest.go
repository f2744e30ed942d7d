package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/server"
	"github.com/JakeFAU/menu-harvester/internal/worker"
)

type harvestOptions struct {
	url          string
	documentURLs []string
	depth        int
	workers      int
	chunkSize    int
	overlap      int
	headless     bool
}

// harvestOutput is printed to stdout when a one-shot harvest finishes.
type harvestOutput struct {
	StartURL      string              `json:"start_url"`
	Chunks        []string            `json:"chunks"`
	RelevantPages []string            `json:"relevant_pages"`
	DocumentLinks []string            `json:"document_links"`
	Counters      crawler.JobCounters `json:"counters"`
}

func newHarvestCmd(root *rootOptions) *cobra.Command {
	return bindHarvestCmd(root, &harvestOptions{})
}

func bindHarvestCmd(root *rootOptions, opts *harvestOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvests one website and prints the chunks as JSON",
		Example: `  menu-harvester harvest --url https://trattoria.example --depth 2
  menu-harvester harvest --url https://trattoria.example --document https://cdn.example/menu.pdf --headless`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			opts.apply(cmd, &cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHarvest(ctx, cfg, opts, logger, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "start URL of the restaurant website")
	cmd.Flags().StringSliceVar(&opts.documentURLs, "document", nil, "extra document URL to extract (repeatable)")
	cmd.Flags().IntVar(&opts.depth, "depth", 0, "maximum link depth (default from config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent page workers (default from config)")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "chunk size in characters (default from config)")
	cmd.Flags().IntVar(&opts.overlap, "overlap", 0, "chunk overlap in characters (default from config)")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "enable headless Chrome rendering")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// apply overrides configuration with flags the user actually set.
func (o *harvestOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("depth") {
		cfg.Crawler.MaxDepthDefault = o.depth
	}
	if flags.Changed("workers") {
		cfg.Crawler.MaxWorkersDefault = o.workers
	}
	if flags.Changed("chunk-size") {
		cfg.Chunking.Size = o.chunkSize
	}
	if flags.Changed("overlap") {
		cfg.Chunking.Overlap = o.overlap
	}
	if flags.Changed("headless") {
		cfg.Headless.Enabled = o.headless
	}
}

func (o *harvestOptions) params(cfg config.Config) crawler.JobParameters {
	return crawler.JobParameters{
		URL:          o.url,
		DocumentURLs: o.documentURLs,
		MaxDepth:     cfg.Crawler.MaxDepthDefault,
		MaxWorkers:   cfg.Crawler.MaxWorkersDefault,
		ChunkSize:    cfg.Chunking.Size,
		Overlap:      cfg.Chunking.Overlap,
	}
}

func runHarvest(ctx context.Context, cfg config.Config, opts *harvestOptions, logger *zap.Logger, out io.Writer) error {
	pipeline, err := server.NewPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer pipeline.Close()

	progress := func(p int, message string, counters crawler.JobCounters) {
		logger.Info("harvest progress",
			zap.Int("progress", p),
			zap.String("message", message),
			zap.Int("pages_visited", counters.PagesVisited),
		)
	}
	result, err := pipeline.Harvester.Run(ctx, opts.params(cfg), progress)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("harvest interrupted", zap.Int("pages_visited", result.Counters.PagesVisited))
		}
		return fmt.Errorf("harvest %s: %w", opts.url, err)
	}
	return writeHarvestOutput(out, result)
}

func writeHarvestOutput(w io.Writer, result worker.Output) error {
	payload := harvestOutput{
		StartURL:      result.Crawl.StartURL,
		Chunks:        result.Chunks,
		RelevantPages: make([]string, 0, len(result.Crawl.RelevantPages)),
		DocumentLinks: result.Crawl.DocumentLinks,
		Counters:      result.Counters,
	}
	for _, page := range result.Crawl.RelevantPages {
		payload.RelevantPages = append(payload.RelevantPages, page.URL)
	}
	if payload.DocumentLinks == nil {
		payload.DocumentLinks = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
