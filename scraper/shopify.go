package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"dealtracker/identity"
	"dealtracker/models"
)

var compareAtPattern = regexp.MustCompile(`"compare_at_price"\s*:\s*"?([\d.]+)"?`)

// ShopifyHandler scrapes retailer product pages built on Shopify. Each query
// URL points at one product; the page yields exactly one candidate. Product
// pages carry no marketplace id, so the source id is derived from the URL.
type ShopifyHandler struct {
	fetcher *Fetcher
	source  string
}

func NewShopifyHandler(fetcher *Fetcher, source string) *ShopifyHandler {
	return &ShopifyHandler{fetcher: fetcher, source: source}
}

func (h *ShopifyHandler) Name() string {
	return h.source
}

func (h *ShopifyHandler) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, "/products/")
}

func (h *ShopifyHandler) Scrape(ctx context.Context, query models.SearchQuery) ([]models.Candidate, error) {
	html, err := h.fetcher.Get(ctx, query.URL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	title, priceText, currency := productFromJSONLD(doc)

	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		return nil, fmt.Errorf("no product title at %s", query.URL)
	}

	if priceText == "" {
		priceText, _ = doc.Find(`meta[property="product:price:amount"]`).Attr("content")
	}
	if currency == "" {
		currency, _ = doc.Find(`meta[property="product:price:currency"]`).Attr("content")
	}
	if priceText == "" {
		priceText = strings.TrimSpace(doc.Find(`.price, .product-price, [class*="price__current"]`).First().Text())
	}
	if priceText == "" {
		return nil, fmt.Errorf("no price at %s", query.URL)
	}

	// compare_at_price in the embedded product JSON marks a discount; fold
	// it into the raw text so the price parser reads it as a sale.
	if m := compareAtPattern.FindStringSubmatch(html); m != nil && m[1] != "0" && m[1] != "0.0" {
		priceText = fmt.Sprintf("%s was %s", priceText, m[1])
	}

	return []models.Candidate{{
		SourceID:     identity.StableID(h.source, query.URL),
		Source:       h.source,
		URL:          query.URL,
		Title:        title,
		RawPriceText: priceText,
		CurrencyHint: currency,
		ObservedAt:   time.Now(),
	}}, nil
}

// productFromJSONLD reads the schema.org Product block most Shopify themes
// emit. Offers may be a single object or a list.
func productFromJSONLD(doc *goquery.Document) (title, price, currency string) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var node struct {
			Type   string          `json:"@type"`
			Name   string          `json:"name"`
			Offers json.RawMessage `json:"offers"`
		}
		if err := json.Unmarshal([]byte(sel.Text()), &node); err != nil {
			return true
		}
		if !strings.EqualFold(node.Type, "Product") {
			return true
		}
		title = node.Name

		type offer struct {
			Price         json.Number `json:"price"`
			PriceCurrency string      `json:"priceCurrency"`
		}
		var single offer
		if err := json.Unmarshal(node.Offers, &single); err == nil && single.Price != "" {
			price = single.Price.String()
			currency = single.PriceCurrency
			return false
		}
		var many []offer
		if err := json.Unmarshal(node.Offers, &many); err == nil && len(many) > 0 {
			price = many[0].Price.String()
			currency = many[0].PriceCurrency
			return false
		}
		return title == ""
	})
	return title, price, currency
}
