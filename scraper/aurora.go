package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"dealtracker/models"
	"dealtracker/storage"
)

const auroraPriceURL = "https://auroratechchannel.com/3d-printer-price.php"

var dollarAmountPattern = regexp.MustCompile(`\$[\d,]+\.?\d*`)

// AuroraUpdater refreshes the retail reference table from the Aurora Tech
// Channel price tracker. Each tracked printer links to price-details.php
// with brand and model query params; the surrounding container shows the
// MSRP followed by the current price.
type AuroraUpdater struct {
	fetcher *Fetcher
	store   storage.Store
	pageURL string
	logger  *log.Logger
}

func NewAuroraUpdater(fetcher *Fetcher, store storage.Store, logger *log.Logger) *AuroraUpdater {
	return &AuroraUpdater{
		fetcher: fetcher,
		store:   store,
		pageURL: auroraPriceURL,
		logger:  logger,
	}
}

// Update scrapes the tracker page and upserts one reference row per
// (brand, model). Returns the number of rows written.
func (a *AuroraUpdater) Update(ctx context.Context) (int, error) {
	doc, err := a.fetcher.Document(ctx, a.pageURL)
	if err != nil {
		return 0, fmt.Errorf("aurora fetch: %w", err)
	}

	seen := make(map[string]bool)
	updated := 0

	var loopErr error
	doc.Find(`a[href*="price-details.php"]`).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		brand, model := brandModelFromHref(href)
		if brand == "" || model == "" {
			return true
		}
		key := strings.ToLower(brand) + "\x00" + strings.ToLower(model)
		if seen[key] {
			return true
		}
		seen[key] = true

		container := link.Closest("div, section")
		if container.Length() == 0 {
			return true
		}

		prices := dollarAmountPattern.FindAllString(container.Text(), -1)
		if len(prices) < 2 {
			return true
		}
		msrp, ok1 := parseDollar(prices[0])
		current, ok2 := parseDollar(prices[1])
		if !ok1 || !ok2 || !msrp.IsPositive() || !current.IsPositive() {
			return true
		}

		ref := &models.RetailReference{
			Brand:       brand,
			Model:       model,
			MSRP:        msrp,
			RetailPrice: current,
			Currency:    "USD",
		}
		if err := a.store.UpsertRetailReference(ctx, ref); err != nil {
			loopErr = fmt.Errorf("upsert %s %s: %w", brand, model, err)
			return false
		}
		updated++
		return true
	})
	if loopErr != nil {
		return updated, loopErr
	}

	if a.logger != nil {
		a.logger.Printf("aurora: updated %d retail references", updated)
	}
	return updated, nil
}

func brandModelFromHref(href string) (string, string) {
	u, err := url.Parse(href)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	return q.Get("brand"), q.Get("model")
}

func parseDollar(text string) (decimal.Decimal, bool) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(text)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}
