package classifier

import (
	"context"
	"strings"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// DefaultKeywords match menu-related links and lines.
var DefaultKeywords = []string{
	"menu", "food", "drink", "lunch", "dinner", "brunch", "breakfast",
	"dessert", "wine", "cocktail", "beer", "special", "catering",
}

// broaderKeywords are added for the looser strictness levels.
var broaderKeywords = []string{
	"eat", "dish", "kitchen", "order", "price", "$", "€", "£",
}

// Keyword is a rule-based classifier that keeps candidates containing one of
// its keywords. It needs no network access.
type Keyword struct {
	keywords []string
}

// NewKeyword builds a Keyword classifier. Empty keywords select DefaultKeywords.
func NewKeyword(keywords []string) *Keyword {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return &Keyword{keywords: lower}
}

// Classify implements crawler.RelevanceClassifier. The topic is ignored;
// StrictnessEvenRemote keeps everything.
func (k *Keyword) Classify(_ context.Context, candidates []string, _ string, strictness crawler.Strictness) ([]string, error) {
	if strictness == crawler.StrictnessEvenRemote {
		return append([]string(nil), candidates...), nil
	}
	terms := k.keywords
	if strictness == crawler.StrictnessLikely {
		terms = append(append([]string(nil), terms...), broaderKeywords...)
	}
	var out []string
	for _, c := range candidates {
		lower := strings.ToLower(c)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}
