// Package classifier provides RelevanceClassifier implementations.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

const (
	defaultAPIURL     = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	defaultTimeout    = 60 * time.Second
	defaultPreviewLen = 30
	maxErrorBody      = 4 << 10
)

// ErrMalformedResponse is returned when the model reply cannot be decoded.
var ErrMalformedResponse = errors.New("malformed classifier response")

// Config configures the OpenAI-compatible classifier.
type Config struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
	// PreviewLength truncates each candidate before it is sent to the model.
	PreviewLength int
}

// OpenAI asks a chat-completions model which candidate indices to keep.
type OpenAI struct {
	client     *http.Client
	apiKey     string
	apiURL     string
	model      string
	previewLen int
	logger     *zap.Logger
}

// NewOpenAI builds an OpenAI classifier. Any server speaking the OpenAI chat
// completions protocol works.
func NewOpenAI(cfg Config, logger *zap.Logger) *OpenAI {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	preview := cfg.PreviewLength
	if preview <= 0 {
		preview = defaultPreviewLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		client:     &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		apiURL:     apiURL,
		model:      model,
		previewLen: preview,
		logger:     logger.Named("openai"),
	}
}

// Classify implements crawler.RelevanceClassifier.
func (o *OpenAI) Classify(ctx context.Context, candidates []string, topic string, strictness crawler.Strictness) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	reqBody := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(candidates, topic, strictness, o.previewLen)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			o.logger.Debug("close response body failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("openai: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w: no choices", ErrMalformedResponse)
	}
	indices, err := parseIndices(decoded.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	kept := selectIndices(candidates, indices)
	o.logger.Debug("classified candidates",
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(kept)),
		zap.Duration("duration", time.Since(start)),
	)
	return kept, nil
}

const systemPrompt = "You select items from numbered lists. Reply with JSON only."

func buildPrompt(candidates []string, topic string, strictness crawler.Strictness, previewLen int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is a list of strings. I am interested in strings related to %s. ", topic)
	fmt.Fprintf(&b, "Identify and return the indices of strings %s related to this. ", strictnessPhrase(strictness))
	b.WriteString(`The output must be a JSON object of the form {"keep_these": [0, 2]}.`)
	b.WriteString("\nStrings:\n")
	for i, c := range candidates {
		b.WriteString(strconv.Itoa(i))
		b.WriteString(": ")
		b.WriteString(strconv.Quote(preview(c, previewLen)))
		b.WriteByte('\n')
	}
	return b.String()
}

func strictnessPhrase(s crawler.Strictness) string {
	switch s {
	case crawler.StrictnessLikely:
		return "likely"
	case crawler.StrictnessEvenRemote:
		return "even remotely"
	default:
		return "certainly"
	}
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func parseIndices(content string) ([]int, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	var out keepResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out.KeepThese, nil
}

// selectIndices maps indices back to candidates in input order, ignoring
// duplicates and out-of-range values.
func selectIndices(candidates []string, indices []int) []string {
	seen := make(map[int]struct{}, len(indices))
	valid := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(candidates) {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		valid = append(valid, i)
	}
	sort.Ints(valid)
	out := make([]string, 0, len(valid))
	for _, i := range valid {
		out = append(out, candidates[i])
	}
	return out
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type keepResponse struct {
	KeepThese []int `json:"keep_these"`
}
