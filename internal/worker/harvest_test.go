package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

type fakeCrawler struct {
	result crawler.CrawlResult
	err    error
	// block waits for ctx cancellation before returning.
	block bool

	mu    sync.Mutex
	calls []crawlCall
}

type crawlCall struct {
	url      string
	maxDepth int
	workers  int
}

func (c *fakeCrawler) Crawl(ctx context.Context, startURL string, maxDepth, maxWorkers int) (crawler.CrawlResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, crawlCall{url: startURL, maxDepth: maxDepth, workers: maxWorkers})
	c.mu.Unlock()
	if c.block {
		<-ctx.Done()
		return c.result, ctx.Err()
	}
	return c.result, c.err
}

type fakeDocuments struct {
	texts  map[string]string
	errs   map[string]error
	active atomic.Int32
	peak   atomic.Int32
}

func (d *fakeDocuments) ExtractText(_ context.Context, rawURL string) (string, error) {
	n := d.active.Add(1)
	defer d.active.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if err, ok := d.errs[rawURL]; ok {
		return "", err
	}
	return d.texts[rawURL], nil
}

func menuCrawl() crawler.CrawlResult {
	return crawler.CrawlResult{
		StartURL: "https://example.com/",
		Visited: map[string]int{
			"https://example.com/":      0,
			"https://example.com/menu":  1,
			"https://example.com/about": 1,
		},
		DocumentLinks: []string{"https://example.com/dinner.pdf", "https://example.com/wine.pdf"},
		RelevantPages: []crawler.RelevantPage{
			{URL: "https://example.com/", Lines: []string{"Luigi's Trattoria."}},
			{URL: "https://example.com/menu", Lines: []string{"Margherita pizza 12.50.", "Lasagna 15.00."}},
		},
	}
}

func TestHarvester_RunCombinesPagesAndDocuments(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{result: menuCrawl()}
	docs := &fakeDocuments{
		texts: map[string]string{
			"https://example.com/dinner.pdf":   "Tiramisu 8.00.",
			"https://uploads.example/menu.pdf": "Espresso 3.00.",
		},
		errs: map[string]error{"https://example.com/wine.pdf": errors.New("not a pdf")},
	}
	h := NewHarvester(c, docs, HarvestConfig{MaxWorkers: 3}, zap.NewNop())

	var (
		milestones []int
		seen       []crawler.JobCounters
	)
	out, err := h.Run(context.Background(), crawler.JobParameters{
		URL:          "https://example.com/",
		DocumentURLs: []string{"https://uploads.example/menu.pdf", "https://example.com/dinner.pdf"},
		MaxDepth:     2,
		ChunkSize:    1000,
	}, func(p int, _ string, c crawler.JobCounters) {
		milestones = append(milestones, p)
		seen = append(seen, c)
	})
	require.NoError(t, err)

	require.Equal(t, []int{ProgressCrawling, ProgressDocuments, ProgressChunking}, milestones)
	require.Zero(t, seen[0].PagesVisited)
	require.Equal(t, 3, seen[1].PagesVisited)
	require.Equal(t, 3, seen[1].ContentLines)
	require.Equal(t, 2, seen[2].Documents)
	require.Equal(t, []crawlCall{{url: "https://example.com/", maxDepth: 2, workers: 3}}, c.calls)
	require.Equal(t, []string{
		"Luigi's Trattoria. Margherita pizza 12.50. Lasagna 15.00. Espresso 3.00. Tiramisu 8.00.",
	}, out.Chunks)
	require.Equal(t, crawler.JobCounters{
		PagesVisited:    3,
		RelevantPages:   2,
		Documents:       2,
		DocumentsFailed: 1,
		ContentLines:    3,
		Chunks:          1,
	}, out.Counters)
}

func TestHarvester_ChunkSizeBoundsOutput(t *testing.T) {
	t.Parallel()

	h := NewHarvester(&fakeCrawler{result: menuCrawl()}, nil, HarvestConfig{}, nil)
	out, err := h.Run(context.Background(), crawler.JobParameters{URL: "https://example.com/", ChunkSize: 30, Overlap: 5}, nil)
	require.NoError(t, err)
	require.Len(t, out.Chunks, 3)
	require.Equal(t, "Luigi's Trattoria.", out.Chunks[0])
	require.Zero(t, out.Counters.Documents)
}

func TestHarvester_NoContent(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{result: crawler.CrawlResult{
		StartURL: "https://empty.example/",
		Visited:  map[string]int{"https://empty.example/": 0},
	}}
	_, err := NewHarvester(c, &fakeDocuments{}, HarvestConfig{}, nil).
		Run(context.Background(), crawler.JobParameters{URL: "https://empty.example/"}, nil)
	require.ErrorIs(t, err, ErrNoContent)
}

func TestHarvester_CrawlErrorKeepsPartialCounters(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{result: menuCrawl(), err: crawler.ErrInvalidConfig}
	out, err := NewHarvester(c, nil, HarvestConfig{}, nil).
		Run(context.Background(), crawler.JobParameters{URL: "ftp://example.com"}, nil)
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
	require.Equal(t, 3, out.Counters.PagesVisited)
	require.Empty(t, out.Chunks)
}

func TestHarvester_DocumentWorkersBounded(t *testing.T) {
	t.Parallel()

	result := menuCrawl()
	result.DocumentLinks = nil
	docs := &fakeDocuments{texts: map[string]string{}}
	var supplied []string
	for _, u := range []string{"a", "b", "c", "d", "e", "f"} {
		url := "https://docs.example/" + u + ".pdf"
		supplied = append(supplied, url)
		docs.texts[url] = u + "."
	}
	h := NewHarvester(&fakeCrawler{result: result}, docs, HarvestConfig{DocumentWorkers: 2, MaxDocuments: 5}, nil)
	out, err := h.Run(context.Background(), crawler.JobParameters{URL: "https://example.com/", DocumentURLs: supplied}, nil)
	require.NoError(t, err)
	require.LessOrEqual(t, docs.peak.Load(), int32(2))
	require.Equal(t, 5, out.Counters.Documents)
}

func TestHarvester_Resolve(t *testing.T) {
	t.Parallel()

	h := NewHarvester(&fakeCrawler{}, nil, HarvestConfig{MaxWorkers: 3}, nil)
	got := h.Resolve(crawler.JobParameters{URL: "https://example.com", MaxWorkers: 7})
	require.Equal(t, crawler.JobParameters{URL: "https://example.com", MaxWorkers: 7}, got)

	got = h.Resolve(crawler.JobParameters{URL: "https://example.com", ChunkSize: 0, Overlap: 0})
	require.Equal(t, 3, got.MaxWorkers)
	require.Zero(t, got.ChunkSize)
	require.Zero(t, got.Overlap)
}

func TestHarvester_ExplicitZeroOverlap(t *testing.T) {
	t.Parallel()

	c := &fakeCrawler{result: crawler.CrawlResult{
		StartURL: "https://soup.example/",
		Visited:  map[string]int{"https://soup.example/": 0},
		RelevantPages: []crawler.RelevantPage{{
			URL:   "https://soup.example/",
			Lines: []string{"Soup is hot.", "Salad is cold.", "Bread is warm."},
		}},
	}}
	h := NewHarvester(c, nil, HarvestConfig{}, nil)
	out, err := h.Run(context.Background(), crawler.JobParameters{URL: "https://soup.example/", ChunkSize: 15, Overlap: 0}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Soup is hot.", "Salad is cold.", "Bread is warm."}, out.Chunks)
}

func TestHarvester_ZeroChunkSizeIsUnbounded(t *testing.T) {
	t.Parallel()

	h := NewHarvester(&fakeCrawler{result: menuCrawl()}, nil, HarvestConfig{}, nil)
	out, err := h.Run(context.Background(), crawler.JobParameters{URL: "https://example.com/"}, nil)
	require.NoError(t, err)
	require.Len(t, out.Chunks, 1)
}

func TestDocumentURLsMergesAndDedups(t *testing.T) {
	t.Parallel()

	h := NewHarvester(&fakeCrawler{}, nil, HarvestConfig{}, nil)
	got := h.documentURLs(
		[]string{" https://Example.com/menu.pdf ", "", "https://example.com/menu.pdf#page=2"},
		[]string{"https://example.com/menu.pdf", "https://example.com/wine.pdf"},
	)
	require.Equal(t, []string{"https://example.com/menu.pdf", "https://example.com/wine.pdf"}, got)
}
