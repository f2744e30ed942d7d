package document

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// buildPDF writes a one-page PDF showing text in Helvetica.
func buildPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func serve(t *testing.T, contentType string, body []byte, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() != "menu-harvester-test" {
			t.Errorf("unexpected user agent %q", r.UserAgent())
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPDFExtractor_ExtractText(t *testing.T) {
	t.Parallel()

	srv := serve(t, "application/octet-stream", buildPDF("Margherita pizza 12.50"), http.StatusOK)
	e := NewPDFExtractor(Config{UserAgent: "menu-harvester-test"}, nil, zap.NewNop())
	var _ crawler.DocumentExtractor = e

	text, err := e.ExtractText(context.Background(), srv.URL+"/menu.pdf")
	require.NoError(t, err)
	require.Contains(t, text, "Margherita pizza 12.50")
}

func TestPDFExtractor_RejectsNonPDF(t *testing.T) {
	t.Parallel()

	srv := serve(t, "text/html; charset=utf-8", []byte("<html>not a pdf</html>"), http.StatusOK)
	_, err := NewPDFExtractor(Config{UserAgent: "menu-harvester-test"}, nil, nil).
		ExtractText(context.Background(), srv.URL+"/menu.pdf")
	require.ErrorIs(t, err, ErrUnsupportedType)
	require.Contains(t, err.Error(), "text/html")
}

func TestPDFExtractor_SizeLimit(t *testing.T) {
	t.Parallel()

	body := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 64)...)
	srv := serve(t, "application/pdf", body, http.StatusOK)
	_, err := NewPDFExtractor(Config{UserAgent: "menu-harvester-test", MaxBytes: 16}, nil, nil).
		ExtractText(context.Background(), srv.URL+"/big.pdf")
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestPDFExtractor_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := serve(t, "", []byte("missing"), http.StatusNotFound)
	_, err := NewPDFExtractor(Config{UserAgent: "menu-harvester-test"}, nil, nil).
		ExtractText(context.Background(), srv.URL+"/gone.pdf")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestPlainText_Corrupt(t *testing.T) {
	t.Parallel()

	_, err := PlainText([]byte("%PDF-1.4\nthis is not really a pdf"))
	require.Error(t, err)
}

func TestPlainText_BrokenXrefIsAnError(t *testing.T) {
	t.Parallel()

	broken := "%PDF-1.4\nxref\n0 2\n0000000000 65535 f \n0000000009 00000 n \n" +
		"trailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n9\n%%EOF"
	var (
		text string
		err  error
	)
	require.NotPanics(t, func() { text, err = PlainText([]byte(broken)) })
	require.Error(t, err)
	require.Empty(t, text)

	srv := serve(t, "application/pdf", []byte(broken), http.StatusOK)
	_, err = NewPDFExtractor(Config{UserAgent: "menu-harvester-test"}, nil, nil).
		ExtractText(context.Background(), srv.URL+"/broken.pdf")
	require.Error(t, err)
}

func TestMediaType(t *testing.T) {
	t.Parallel()

	require.Equal(t, "unknown", mediaType(""))
	require.Equal(t, "application/pdf", mediaType("application/pdf; charset=binary"))
	require.True(t, strings.HasPrefix(mediaType("%%%"), "%"))
}
