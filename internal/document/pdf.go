// Package document downloads linked documents and extracts their text.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

const (
	defaultMaxBytes = 20 << 20
	defaultTimeout  = 60 * time.Second
)

var (
	// ErrUnsupportedType is returned when the download is not a PDF.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrTooLarge is returned when the document exceeds the size limit.
	ErrTooLarge = errors.New("document exceeds size limit")
)

var pdfMagic = []byte("%PDF-")

// Config controls document downloads.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
}

// PDFExtractor implements crawler.DocumentExtractor for PDF files.
type PDFExtractor struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *zap.Logger
}

// NewPDFExtractor builds an extractor. A nil client gets cfg.Timeout.
func NewPDFExtractor(cfg Config, client *http.Client, logger *zap.Logger) *PDFExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExtractor{
		client:    client,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		logger:    logger.Named("document"),
	}
}

// ExtractText downloads rawURL and returns the plain text of the PDF.
func (e *PDFExtractor) ExtractText(ctx context.Context, rawURL string) (string, error) {
	data, err := e.download(ctx, rawURL)
	if err != nil {
		return "", err
	}
	text, err := PlainText(data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", rawURL, err)
	}
	e.logger.Debug("document extracted",
		zap.String("url", rawURL),
		zap.Int("bytes", len(data)),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

func (e *PDFExtractor) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new document request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("close document body failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetch document: unexpected status %s", resp.Status)
	}
	if resp.ContentLength > e.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, e.maxBytes)
	}
	// Servers often label PDFs as octet-stream, so the magic bytes decide.
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType(resp.Header.Get("Content-Type")))
	}
	return data, nil
}

// PlainText extracts the text layer of an in-memory PDF. The pdf reader
// panics on some malformed cross-reference tables; those surface as errors.
func PlainText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("copy pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return "unknown"
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}
