package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"dealtracker/models"
)

var (
	listingIDPattern = regexp.MustCompile(`/(\d{6,})(?:$|[/?#])`)
	bareIDPattern    = regexp.MustCompile(`^\d{6,}$`)
	priceTextPattern = regexp.MustCompile(`(?i)(?:free|\$\s*[\d,]+(?:\.\d{1,2})?(?:\s*(?:was|now|reg\.?)?\s*\$\s*[\d,]+(?:\.\d{1,2})?)?)`)
	locationPattern  = regexp.MustCompile(`[A-Z][a-z]+(?:\s[A-Z][a-z]+)*,\s*[A-Z]{2}\b`)
)

// MarketplaceHandler scrapes Kijiji-style classifieds search pages: anchor
// cards with a numeric listing id in the href, paginated with page-N path
// segments.
type MarketplaceHandler struct {
	fetcher  *Fetcher
	source   string
	host     string
	currency string
	maxPages int
	delay    time.Duration
	logger   *log.Logger
}

func NewMarketplaceHandler(fetcher *Fetcher, source, host, currency string, maxPages int, delay time.Duration, logger *log.Logger) *MarketplaceHandler {
	if maxPages <= 0 {
		maxPages = 5
	}
	return &MarketplaceHandler{
		fetcher:  fetcher,
		source:   source,
		host:     host,
		currency: currency,
		maxPages: maxPages,
		delay:    delay,
		logger:   logger,
	}
}

func (h *MarketplaceHandler) Name() string {
	return h.source
}

// SetMaxPages adjusts the pagination cap. The cycle runner calls this with
// the current max_pages_per_query setting before each run.
func (h *MarketplaceHandler) SetMaxPages(n int) {
	if n > 0 {
		h.maxPages = n
	}
}

func (h *MarketplaceHandler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Host), h.host)
}

// Scrape walks search pages until maxPages, a block, or an empty page, and
// returns the candidates deduplicated by source id.
func (h *MarketplaceHandler) Scrape(ctx context.Context, query models.SearchQuery) ([]models.Candidate, error) {
	var all []models.Candidate
	seen := make(map[string]bool)

	for page := 1; page <= h.maxPages; page++ {
		if page > 1 && h.delay > 0 {
			select {
			case <-time.After(h.delay):
			case <-ctx.Done():
				return all, ctx.Err()
			}
		}

		pageURL := buildPageURL(query.URL, page)
		doc, err := h.fetcher.Document(ctx, pageURL)
		if err != nil {
			var blocked *ErrBlocked
			if errors.As(err, &blocked) {
				h.logf("%s: %v, stopping pagination", query.Label, err)
				break
			}
			if page == 1 {
				return nil, err
			}
			h.logf("%s page %d: %v", query.Label, page, err)
			break
		}

		pageCandidates := h.parseSearchPage(doc)
		added := 0
		for _, c := range pageCandidates {
			if seen[c.SourceID] {
				continue
			}
			seen[c.SourceID] = true
			all = append(all, c)
			added++
		}
		h.logf("%s page %d: %d listings (%d total)", query.Label, page, added, len(all))

		if added == 0 || !hasNextPage(doc) {
			break
		}
	}
	return all, nil
}

// buildPageURL inserts the page-N segment before the last path segment, the
// way Kijiji paginates: /b-canada/3d-printer/k0l0 -> .../page-2/k0l0.
func buildPageURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	idx := strings.LastIndex(base, "/")
	if idx < 0 {
		return base
	}
	return fmt.Sprintf("%s/page-%d/%s", base[:idx], page, base[idx+1:])
}

func (h *MarketplaceHandler) parseSearchPage(doc *goquery.Document) []models.Candidate {
	var candidates []models.Candidate
	seenHrefs := make(map[string]bool)
	now := time.Now()

	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		id := ExtractListingID(href)
		if id == "" || seenHrefs[href] {
			return
		}
		seenHrefs[href] = true

		card := cardContainer(link)

		title := strings.TrimSpace(link.Find("h2, h3").First().Text())
		if title == "" {
			title = strings.TrimSpace(card.Find("h2, h3").First().Text())
		}
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}
		if len(title) < 3 {
			return
		}

		candidates = append(candidates, models.Candidate{
			SourceID:     id,
			Source:       h.source,
			URL:          absoluteURL(h.host, href),
			Title:        title,
			RawPriceText: extractPriceText(card),
			CurrencyHint: h.currency,
			Location:     extractLocation(card),
			ObservedAt:   now,
		})
	})
	return candidates
}

// cardContainer climbs from the title link to the surrounding card element
// so price and location text nearby can be read. Climbing stops before a
// parent that holds other listings' anchors, so one card never reads its
// neighbor's price.
func cardContainer(link *goquery.Selection) *goquery.Selection {
	card := link
	for i := 0; i < 5; i++ {
		parent := card.Parent()
		if parent.Length() == 0 {
			break
		}
		name := goquery.NodeName(parent)
		if name == "html" || name == "body" {
			break
		}
		if listingAnchorCount(parent) > 1 {
			break
		}
		card = parent
	}
	return card
}

func listingAnchorCount(sel *goquery.Selection) int {
	n := 0
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, _ := a.Attr("href"); ExtractListingID(href) != "" {
			n++
		}
	})
	return n
}

// ExtractListingID pulls the numeric listing id out of a listing href:
// either a /1234567890 path segment or an adId-style query parameter.
func ExtractListingID(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if m := listingIDPattern.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, key := range []string{"adId", "adid", "listingId", "id"} {
		if v := q.Get(key); bareIDPattern.MatchString(v) {
			return v
		}
	}
	return ""
}

func absoluteURL(host, href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return "https://www." + host + href
}

func extractPriceText(card *goquery.Selection) string {
	sel := card.Find(`[data-testid*="price"], [class*="price"]`).First()
	if sel.Length() > 0 {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}
	return priceTextPattern.FindString(card.Text())
}

func extractLocation(card *goquery.Selection) string {
	var location string
	card.Find("span, div, p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if len(text) < 100 {
			if m := locationPattern.FindString(text); m != "" {
				location = m
				return false
			}
		}
		return true
	})
	return location
}

func hasNextPage(doc *goquery.Document) bool {
	next := false
	doc.Find("a[aria-label]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		label, _ := sel.Attr("aria-label")
		if strings.Contains(strings.ToLower(label), "next") {
			next = true
			return false
		}
		return true
	})
	if next {
		return true
	}
	doc.Find(`nav[aria-label*="agination"], div[aria-label*="agination"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if strings.Contains(text, "Next") || strings.Contains(text, "»") || strings.Contains(text, "›") {
			next = true
			return false
		}
		return true
	})
	return next
}

func (h *MarketplaceHandler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
