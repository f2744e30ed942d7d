package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTPS://Example.COM":                 "https://example.com/",
		"http://example.com:80/menu#dinner":   "http://example.com/menu",
		"https://example.com:443/a?b=2&a=1":   "https://example.com/a?a=1&b=2",
		"https://example.com:8443/menu.html":  "https://example.com:8443/menu.html",
		"  https://example.com/with-space  ": "https://example.com/with-space",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("http://%zz")
	require.Error(t, err)
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/menu">Menu</a>
		<a href="menu#lunch">Lunch</a>
		<a href="drinks.html">Drinks</a>
		<a href="https://other.test/x">Other</a>
		<a href="#top">Top</a>
		<a href="mailto:owner@example.com">Mail</a>
		<a href="tel:+15555550100">Call</a>
		<a href="javascript:void(0)">JS</a>
		<a href="/menu">Menu again</a>
		<a>No href</a>
	</body></html>`

	links, err := ExtractLinks(html, "https://example.com/about/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/menu",
		"https://example.com/about/menu",
		"https://example.com/about/drinks.html",
		"https://other.test/x",
	}, links)
}

func TestExtractLinks_HonorsBaseHref(t *testing.T) {
	t.Parallel()

	html := `<html><head><base href="https://cdn.example.com/site/"></head>
		<body><a href="menu.pdf">PDF</a></body></html>`
	links, err := ExtractLinks(html, "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://cdn.example.com/site/menu.pdf"}, links)
}

func TestIsDocumentLink(t *testing.T) {
	t.Parallel()

	exts := []string{".pdf"}
	require.True(t, IsDocumentLink("https://example.com/report.pdf", exts))
	require.True(t, IsDocumentLink("https://example.com/Menu.PDF?v=2", exts))
	require.False(t, IsDocumentLink("https://example.com/menu.html", exts))
	require.False(t, IsDocumentLink("https://example.com/pdf", exts))
	require.False(t, IsDocumentLink("https://example.com/report.pdf.html", exts))
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", RegistrableDomain("www.example.com"))
	require.Equal(t, "example.com", RegistrableDomain("Order.Example.com"))
	require.Equal(t, "example.co.uk", RegistrableDomain("menu.example.co.uk"))
	require.Equal(t, "127.0.0.1", RegistrableDomain("127.0.0.1"))
	require.Equal(t, "localhost", RegistrableDomain("localhost"))
	require.True(t, SameRegistrableDomain("https://shop.example.com/x", "example.com"))
	require.False(t, SameRegistrableDomain("https://example.net/x", "example.com"))
}
