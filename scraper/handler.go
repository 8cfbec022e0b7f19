package scraper

import (
	"context"

	"dealtracker/models"
)

// Handler turns one configured search query into raw candidates. Handlers
// are tried in registration order; the first one that recognizes the query
// URL wins.
type Handler interface {
	Name() string
	CanHandle(rawURL string) bool
	Scrape(ctx context.Context, query models.SearchQuery) ([]models.Candidate, error)
}

// For returns the handler responsible for a query URL, or nil when no
// handler recognizes it.
func For(handlers []Handler, rawURL string) Handler {
	for _, h := range handlers {
		if h.CanHandle(rawURL) {
			return h
		}
	}
	return nil
}
