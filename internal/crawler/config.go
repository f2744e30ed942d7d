package crawler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is returned when crawl inputs are rejected before any work is dispatched.
var ErrInvalidConfig = errors.New("invalid crawl configuration")

// DefaultLinkTopic describes the links worth following. %s is replaced with the start URL.
const DefaultLinkTopic = "links that may contain restaurant menu information for %s"

// Config captures the knobs that shape a single crawl run.
type Config struct {
	// RenderTimeout bounds each PageRenderer call.
	RenderTimeout time.Duration
	// DocumentExtensions are matched case-insensitively against the URL path.
	DocumentExtensions []string
	// LinkTopic is the classifier topic for outgoing links; may contain one %s for the start URL.
	LinkTopic      string
	LinkStrictness Strictness
	// ClassifyBatchSize caps how many candidate links are sent per classifier call.
	ClassifyBatchSize int
	// FollowOnlyRelevant restricts recursion to classifier-approved links.
	FollowOnlyRelevant bool
}

// DefaultConfig returns the configuration used when callers do not override anything.
func DefaultConfig() Config {
	return Config{
		RenderTimeout:      30 * time.Second,
		DocumentExtensions: []string{".pdf"},
		LinkTopic:          DefaultLinkTopic,
		LinkStrictness:     StrictnessCertain,
		ClassifyBatchSize:  50,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.RenderTimeout < 0 {
		return fmt.Errorf("%w: render timeout must be >= 0", ErrInvalidConfig)
	}
	if c.ClassifyBatchSize < 0 {
		return fmt.Errorf("%w: classify batch size must be >= 0", ErrInvalidConfig)
	}
	if c.LinkStrictness != "" && !c.LinkStrictness.Valid() {
		return fmt.Errorf("%w: unknown strictness %q", ErrInvalidConfig, c.LinkStrictness)
	}
	for _, ext := range c.DocumentExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: document extension %q must start with '.'", ErrInvalidConfig, ext)
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RenderTimeout == 0 {
		c.RenderTimeout = def.RenderTimeout
	}
	if len(c.DocumentExtensions) == 0 {
		c.DocumentExtensions = def.DocumentExtensions
	}
	normalized := make([]string, 0, len(c.DocumentExtensions))
	for _, ext := range c.DocumentExtensions {
		normalized = append(normalized, strings.ToLower(ext))
	}
	c.DocumentExtensions = normalized
	if c.LinkTopic == "" {
		c.LinkTopic = def.LinkTopic
	}
	if c.LinkStrictness == "" {
		c.LinkStrictness = def.LinkStrictness
	}
	if c.ClassifyBatchSize == 0 {
		c.ClassifyBatchSize = def.ClassifyBatchSize
	}
	return c
}

func (c Config) linkTopic(startURL string) string {
	if strings.Contains(c.LinkTopic, "%s") {
		return fmt.Sprintf(c.LinkTopic, startURL)
	}
	return c.LinkTopic
}
