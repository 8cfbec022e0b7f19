package scraper

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func fixtureDoc(t *testing.T, name string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, name)))
	if err != nil {
		t.Fatalf("failed to parse fixture %s: %v", name, err)
	}
	return doc
}

func TestParseSearchPage(t *testing.T) {
	h := NewMarketplaceHandler(nil, "kijiji", "kijiji.ca", "CAD", 5, 0, nil)
	doc := fixtureDoc(t, "search_page.html")

	candidates := h.parseSearchPage(doc)
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}

	first := candidates[0]
	if first.SourceID != "1712345678" {
		t.Fatalf("expected id 1712345678, got %s", first.SourceID)
	}
	if first.Title != "Bambu Lab X1 Carbon Combo" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if first.RawPriceText != "$1,299.00" {
		t.Fatalf("unexpected price text %q", first.RawPriceText)
	}
	if first.Location != "Toronto, ON" {
		t.Fatalf("unexpected location %q", first.Location)
	}
	if first.CurrencyHint != "CAD" {
		t.Fatalf("unexpected currency hint %q", first.CurrencyHint)
	}
	if first.URL != "https://www.kijiji.ca/v-buy-sell-3d-printer/city-of-toronto/bambu-lab-x1-carbon-combo/1712345678" {
		t.Fatalf("unexpected URL %s", first.URL)
	}

	second := candidates[1]
	if second.SourceID != "1798765432" {
		t.Fatalf("expected id 1798765432, got %s", second.SourceID)
	}
	if second.RawPriceText != "was $300, now $220" {
		t.Fatalf("sale text must come through raw: %q", second.RawPriceText)
	}

	third := candidates[2]
	if third.SourceID != "1711112222" {
		t.Fatalf("adId query param not extracted: %s", third.SourceID)
	}
	if third.RawPriceText != "Free" {
		t.Fatalf("unexpected price text %q", third.RawPriceText)
	}
}

func TestHasNextPage(t *testing.T) {
	doc := fixtureDoc(t, "search_page.html")
	if !hasNextPage(doc) {
		t.Fatalf("expected next page link detected")
	}
}

func TestExtractListingID(t *testing.T) {
	cases := map[string]string{
		"/v-buy-sell/toronto/printer/1712345678":         "1712345678",
		"/v-buy-sell/toronto/printer/1712345678?src=srp": "1712345678",
		"/v-view-details.html?adId=1711112222":           "1711112222",
		"/v-view-details.html?listingId=1711113333":      "1711113333",
		"/b-categories/printers":                         "",
		"/v-something/12345":                             "",
		"":                                               "",
	}
	for href, want := range cases {
		if got := ExtractListingID(href); got != want {
			t.Fatalf("ExtractListingID(%q) = %q, want %q", href, got, want)
		}
	}
}

func TestBuildPageURL(t *testing.T) {
	base := "https://www.kijiji.ca/b-canada/3d-printer/k0l0"
	if got := buildPageURL(base, 1); got != base {
		t.Fatalf("page 1 must be unchanged, got %s", got)
	}
	want := "https://www.kijiji.ca/b-canada/3d-printer/page-2/k0l0"
	if got := buildPageURL(base, 2); got != want {
		t.Fatalf("buildPageURL page 2 = %s, want %s", got, want)
	}
}

func TestSetMaxPages(t *testing.T) {
	h := NewMarketplaceHandler(nil, "kijiji", "kijiji.ca", "CAD", 5, 0, nil)
	h.SetMaxPages(2)
	if h.maxPages != 2 {
		t.Fatalf("maxPages = %d, want 2", h.maxPages)
	}
	h.SetMaxPages(0)
	if h.maxPages != 2 {
		t.Fatalf("non-positive cap must be ignored, got %d", h.maxPages)
	}
}

func TestCanHandle(t *testing.T) {
	h := NewMarketplaceHandler(nil, "kijiji", "kijiji.ca", "CAD", 5, 0, nil)
	if !h.CanHandle("https://www.kijiji.ca/b-canada/3d-printer/k0l0") {
		t.Fatalf("expected kijiji URL handled")
	}
	if h.CanHandle("https://www.sovol3d.com/products/sv06") {
		t.Fatalf("retail URL must not be handled")
	}
}
