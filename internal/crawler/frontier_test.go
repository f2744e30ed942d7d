package crawler

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrontier_TryVisitKeepsMinimumDepth(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.True(t, f.TryVisit("https://example.com/a", 1))
	require.False(t, f.TryVisit("https://example.com/a", 1))
	require.False(t, f.TryVisit("https://example.com/a", 3))
	require.Equal(t, 1, f.Result("").Visited["https://example.com/a"])

	require.True(t, f.TryVisit("https://example.com/a", 0))
	require.Equal(t, 0, f.Result("").Visited["https://example.com/a"])
}

func TestFrontier_DocumentsAndVisitedStayDisjoint(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	require.True(t, f.TryVisit("https://example.com/page", 0))
	require.Equal(t, 1, f.AddDocuments("https://example.com/menu.pdf", "https://example.com/page"))
	require.Equal(t, 0, f.AddDocuments("https://example.com/menu.pdf"))
	require.False(t, f.TryVisit("https://example.com/menu.pdf", 1))

	result := f.Result("https://example.com/")
	require.Equal(t, []string{"https://example.com/menu.pdf"}, result.DocumentLinks)
	for _, doc := range result.DocumentLinks {
		require.NotContains(t, result.Visited, doc)
	}
}

func TestFrontier_RelevantFirstSnapshotWins(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	f.AddRelevant(RelevantPage{URL: "https://example.com/b", HTML: "first"})
	f.AddRelevant(RelevantPage{URL: "https://example.com/b", HTML: "second"})
	f.AddRelevant(RelevantPage{URL: "https://example.com/a", HTML: "a"})

	pages := f.Result("").RelevantPages
	require.Len(t, pages, 2)
	require.Equal(t, "https://example.com/a", pages[0].URL)
	require.Equal(t, "first", pages[1].HTML)
}

func TestFrontier_ConcurrentTryVisitHasSingleWinner(t *testing.T) {
	t.Parallel()

	f := NewFrontier()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins = map[string]int{}
	)
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				u := fmt.Sprintf("https://example.com/%d", i)
				if f.TryVisit(u, 1) {
					mu.Lock()
					wins[u]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, wins, 50)
	for u, n := range wins {
		require.Equal(t, 1, n, u)
	}
}
