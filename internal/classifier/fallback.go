package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Fallback consults secondary when primary fails.
type Fallback struct {
	primary   crawler.RelevanceClassifier
	secondary crawler.RelevanceClassifier
	logger    *zap.Logger
}

// NewFallback composes two classifiers.
func NewFallback(primary, secondary crawler.RelevanceClassifier, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger.Named("classifier")}
}

// Classify implements crawler.RelevanceClassifier.
func (f *Fallback) Classify(ctx context.Context, candidates []string, topic string, strictness crawler.Strictness) ([]string, error) {
	kept, err := f.primary.Classify(ctx, candidates, topic, strictness)
	if err == nil {
		return kept, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("primary classifier: %w", err)
	}
	f.logger.Warn("primary classifier failed; using fallback", zap.Int("candidates", len(candidates)), zap.Error(err))
	kept, ferr := f.secondary.Classify(ctx, candidates, topic, strictness)
	if ferr != nil {
		return nil, fmt.Errorf("fallback classifier: %w", ferr)
	}
	return kept, nil
}
