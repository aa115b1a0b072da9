// Package fetch retrieves and cleans full article text from provider URLs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultTimeout bounds one article fetch end to end.
	DefaultTimeout = 10 * time.Second
	// DefaultUserAgent is sent with every request. Some providers reject
	// requests without a browser-like agent.
	DefaultUserAgent = "Mozilla/5.0 (compatible; storyline/1.0)"
	// DefaultMinChars is the floor below which a body is rejected as
	// insufficient content.
	DefaultMinChars = 150
)

// ErrInsufficientContent is returned when the extracted body has fewer
// printable characters than the configured floor.
var ErrInsufficientContent = errors.New("insufficient article content")

// Fetcher downloads article pages and extracts readable text.
type Fetcher struct {
	client    *http.Client
	userAgent string
	minChars  int
}

// NewFetcher creates a Fetcher with the given timeout. Zero values fall
// back to the package defaults.
func NewFetcher(timeout time.Duration, userAgent string, minChars int) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		minChars:  minChars,
	}
}

// FetchArticleText fetches the page at url and returns its cleaned body
// text. It returns ErrInsufficientContent when the extracted text is
// shorter than the configured floor.
func (f *Fetcher) FetchArticleText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML from %s: %w", url, err)
	}

	text := extractText(doc)
	if countPrintable(text) < f.minChars {
		return "", fmt.Errorf("%w: %d printable chars from %s", ErrInsufficientContent, countPrintable(text), url)
	}

	return text, nil
}

// extractText pulls readable text from the document, preferring semantic
// content containers and falling back to the whole body.
func extractText(doc *goquery.Document) string {
	// Strip non-content elements before extracting
	doc.Find("script, style, nav, header, footer, aside, form, noscript, iframe").Remove()

	for _, selector := range []string{"article", "main", "[role=main]", ".article-body", ".story-body"} {
		if sel := doc.Find(selector); sel.Length() > 0 {
			if text := collapseWhitespace(sel.First().Text()); text != "" {
				return text
			}
		}
	}

	// Paragraph fallback keeps boilerplate out of the body text
	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	return collapseWhitespace(doc.Find("body").Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func countPrintable(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsPrint(r) && !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
