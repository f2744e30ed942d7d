package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// DefaultTopic is the classifier topic used to keep menu content.
const DefaultTopic = "human-readable content related to a restaurant's menu items"

const (
	defaultWindow    = 5
	defaultBatchSize = 50
	nonContentTags   = "script,style,meta,link,svg,noscript"
)

// Options tunes an Extractor. Zero values select the defaults.
type Options struct {
	Topic      string
	Strictness crawler.Strictness
	// Window is the number of recent lines checked for repeats.
	Window    int
	BatchSize int
}

// Extractor implements crawler.ContentExtractor.
type Extractor struct {
	classifier crawler.RelevanceClassifier
	opts       Options
	logger     *zap.Logger
}

// NewExtractor builds an Extractor. A nil classifier keeps every line that
// survives the noise filter.
func NewExtractor(classifier crawler.RelevanceClassifier, opts Options, logger *zap.Logger) *Extractor {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Strictness == "" {
		opts.Strictness = crawler.StrictnessCertain
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		classifier: classifier,
		opts:       opts,
		logger:     logger.Named("content"),
	}
}

// Extract returns the page's relevant content lines in document order.
func (e *Extractor) Extract(ctx context.Context, rawHTML string) ([]string, error) {
	lines, err := e.Lines(rawHTML)
	if err != nil {
		return nil, err
	}
	return e.Filter(ctx, lines), nil
}

// Lines parses the HTML and returns cleaned candidate lines before any
// noise or relevance filtering. Images become IMAGE[src] markers.
func (e *Extractor) Lines(rawHTML string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(nonContentTags).Remove()

	recent := newWindow(e.opts.Window)
	var lines []string
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		var line string
		if goquery.NodeName(s) == "img" {
			src, ok := s.Attr("src")
			if !ok {
				return
			}
			cleaned := CleanText(src)
			if cleaned == "" {
				return
			}
			line = fmt.Sprintf(imageMarkerTemplate, cleaned)
		} else {
			line = CleanText(ownText(s))
		}
		if line == "" || recent.contains(line) {
			return
		}
		recent.push(line)
		lines = append(lines, line)
	})
	return lines, nil
}

// Filter drops noise lines and keeps what the classifier judges relevant,
// one batch at a time. A failed batch contributes nothing, and returned lines
// that were not in the batch are ignored.
func (e *Extractor) Filter(ctx context.Context, lines []string) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if !IsNoise(line) {
			kept = append(kept, line)
		}
	}
	if e.classifier == nil {
		return kept
	}

	var out []string
	for start := 0; start < len(kept); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(kept))
		batch := kept[start:end]
		selected, err := e.classifier.Classify(ctx, batch, e.opts.Topic, e.opts.Strictness)
		if err != nil {
			crawler.ClassifierFailures.WithLabelValues("content").Inc()
			e.logger.Warn("content classification failed", zap.Int("batch", len(batch)), zap.Error(err))
			continue
		}
		// Only lines from this batch count; anything else the classifier
		// returns is dropped.
		allowed := make(map[string]struct{}, len(batch))
		for _, line := range batch {
			allowed[line] = struct{}{}
		}
		for _, s := range selected {
			if _, ok := allowed[s]; !ok {
				continue
			}
			out = append(out, strings.ReplaceAll(s, "\n", " "))
		}
	}
	return out
}

// ownText joins the element's direct text children.
func ownText(s *goquery.Selection) string {
	node := s.Get(0)
	if node == nil {
		return ""
	}
	var b strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// window is a fixed-size look-back buffer of recently emitted lines.
type window struct {
	items []string
	next  int
	full  bool
}

func newWindow(size int) *window {
	return &window{items: make([]string, size)}
}

func (w *window) contains(line string) bool {
	limit := w.next
	if w.full {
		limit = len(w.items)
	}
	for i := 0; i < limit; i++ {
		if w.items[i] == line {
			return true
		}
	}
	return false
}

func (w *window) push(line string) {
	w.items[w.next] = line
	w.next++
	if w.next == len(w.items) {
		w.next = 0
		w.full = true
	}
}
