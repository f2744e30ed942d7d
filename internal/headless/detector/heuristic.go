// Package detector decides when a statically fetched page needs a headless render.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultThreshold = 2048
	// shellTextLimit is the visible text below which a page carrying a
	// framework mount point is treated as an unrendered shell.
	shellTextLimit = 512
	scriptShare    = 0.25
)

var (
	mountPointSelector = "#__next, #__nuxt, #root, #app, [data-reactroot], [ng-version], [data-server-rendered]"
	noscriptHints      = []string{"enable javascript", "javascript is required", "javascript to run this app"}
)

// Heuristic inspects the parsed static document for signs that its content is
// produced client-side.
type Heuristic struct {
	// BodyLengthThreshold bounds the documents checked for script density.
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A zero threshold selects 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote reports whether html looks like a JavaScript shell.
func (h *Heuristic) ShouldPromote(html string) bool {
	if strings.TrimSpace(html) == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true
	}

	text := visibleTextLen(doc)
	if text < shellTextLimit && doc.Find(mountPointSelector).Length() > 0 {
		return true
	}

	noscript := strings.ToLower(doc.Find("noscript").Text())
	for _, hint := range noscriptHints {
		if strings.Contains(noscript, hint) {
			return true
		}
	}

	return len(html) < h.BodyLengthThreshold && scriptBytes(doc) >= int(float64(len(html))*scriptShare)
}

// visibleTextLen counts non-space characters outside script, style and
// template elements.
func visibleTextLen(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, template, noscript").Remove()
	return len(strings.Join(strings.Fields(body.Text()), ""))
}

// scriptBytes approximates the markup occupied by script elements.
func scriptBytes(doc *goquery.Document) int {
	const tagOverhead = len("<script></script>")
	total := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		total += len(s.Text()) + tagOverhead
	})
	return total
}
