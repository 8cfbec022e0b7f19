package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// ErrBlocked means the site answered with a block or rate-limit status.
// Pagination stops on it rather than hammering the site further.
type ErrBlocked struct {
	URL        string
	StatusCode int
}

func (e *ErrBlocked) Error() string {
	return fmt.Sprintf("blocked (%d) fetching %s", e.StatusCode, e.URL)
}

// Fetcher wraps the HTTP client shared by all scrape handlers. Each request
// goes out with a rotated user agent.
type Fetcher struct {
	client *resty.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetHeader("Accept-Language", "en-CA,en;q=0.9")
	return &Fetcher{client: client}
}

// Get fetches a page and returns the raw HTML.
func (f *Fetcher) Get(ctx context.Context, url string) (string, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", userAgents[rand.Intn(len(userAgents))]).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}

	switch resp.StatusCode() {
	case 200:
		return resp.String(), nil
	case 403, 429:
		return "", &ErrBlocked{URL: url, StatusCode: resp.StatusCode()}
	default:
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode())
	}
}

// Document fetches a page and parses it into a goquery document.
func (f *Fetcher) Document(ctx context.Context, url string) (*goquery.Document, error) {
	html, err := f.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
