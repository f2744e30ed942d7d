package crawler

import (
	"sort"
	"sync"
)

// Frontier is the shared state of one crawl. Every read and write goes
// through a single mutex that is never held across I/O.
type Frontier struct {
	mu        sync.Mutex
	visited   map[string]int
	documents map[string]struct{}
	relevant  map[string]RelevantPage
}

// NewFrontier returns an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		visited:   make(map[string]int),
		documents: make(map[string]struct{}),
		relevant:  make(map[string]RelevantPage),
	}
}

// TryVisit records url at depth unless it is already known at a depth <= depth.
// It reports whether the caller now owns the visit.
func (f *Frontier) TryVisit(url string, depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, isDoc := f.documents[url]; isDoc {
		return false
	}
	if recorded, ok := f.visited[url]; ok && recorded <= depth {
		return false
	}
	f.visited[url] = depth
	return true
}

// Visited reports whether url has been scheduled at any depth.
func (f *Frontier) Visited(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[url]
	return ok
}

// AddDocuments records document links. URLs already visited as pages are ignored.
func (f *Frontier) AddDocuments(urls ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	added := 0
	for _, u := range urls {
		if _, ok := f.visited[u]; ok {
			continue
		}
		if _, ok := f.documents[u]; ok {
			continue
		}
		f.documents[u] = struct{}{}
		added++
	}
	return added
}

// AddRelevant records a relevant page. The first snapshot for a URL wins.
func (f *Frontier) AddRelevant(page RelevantPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.relevant[page.URL]; ok {
		return
	}
	page.Lines = append([]string(nil), page.Lines...)
	f.relevant[page.URL] = page
}

// Result copies the Frontier into a CrawlResult with slices sorted by URL.
func (f *Frontier) Result(startURL string) CrawlResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	visited := make(map[string]int, len(f.visited))
	for u, d := range f.visited {
		visited[u] = d
	}
	docs := make([]string, 0, len(f.documents))
	for u := range f.documents {
		docs = append(docs, u)
	}
	sort.Strings(docs)

	pages := make([]RelevantPage, 0, len(f.relevant))
	for _, p := range f.relevant {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })

	return CrawlResult{
		StartURL:      startURL,
		Visited:       visited,
		DocumentLinks: docs,
		RelevantPages: pages,
	}
}
