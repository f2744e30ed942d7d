package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/worker"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "serve")
	require.Contains(t, names, "harvest")
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestHarvestFlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	opts := &harvestOptions{}
	cmd := bindHarvestCmd(&rootOptions{}, opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--url", "https://trattoria.example",
		"--depth", "0",
		"--chunk-size", "300",
		"--headless",
		"--document", "https://cdn.example/a.pdf",
		"--document", "https://cdn.example/b.pdf",
	}))

	cfg := config.Config{
		Crawler:  config.CrawlerConfig{MaxDepthDefault: 2, MaxWorkersDefault: 4},
		Chunking: config.ChunkingConfig{Size: 500, Overlap: 100},
	}
	opts.apply(cmd, &cfg)

	require.True(t, cfg.Headless.Enabled)
	require.Equal(t, crawler.JobParameters{
		URL:          "https://trattoria.example",
		DocumentURLs: []string{"https://cdn.example/a.pdf", "https://cdn.example/b.pdf"},
		MaxDepth:     0,
		MaxWorkers:   4,
		ChunkSize:    300,
		Overlap:      100,
	}, opts.params(cfg))
}

func TestHarvestOptions_ExplicitZeroOverlap(t *testing.T) {
	t.Parallel()

	opts := &harvestOptions{}
	cmd := bindHarvestCmd(&rootOptions{}, opts)
	require.NoError(t, cmd.ParseFlags([]string{"--url", "https://trattoria.example", "--overlap", "0"}))

	cfg := config.Config{Chunking: config.ChunkingConfig{Size: 500, Overlap: 100}}
	opts.apply(cmd, &cfg)

	params := opts.params(cfg)
	require.Equal(t, 500, params.ChunkSize)
	require.Zero(t, params.Overlap)
}

func TestWriteHarvestOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := writeHarvestOutput(&buf, worker.Output{
		Crawl: crawler.CrawlResult{
			StartURL:      "https://trattoria.example/",
			RelevantPages: []crawler.RelevantPage{{URL: "https://trattoria.example/menu", HTML: "<html></html>"}},
		},
		Chunks:   []string{"Lasagna 15.00."},
		Counters: crawler.JobCounters{PagesVisited: 2, RelevantPages: 1, Chunks: 1},
	})
	require.NoError(t, err)

	var got harvestOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, []string{"https://trattoria.example/menu"}, got.RelevantPages)
	require.Equal(t, []string{}, got.DocumentLinks)
	require.Equal(t, []string{"Lasagna 15.00."}, got.Chunks)
	require.NotContains(t, buf.String(), "<html>")
}
