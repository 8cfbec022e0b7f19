package detect

import (
	"strings"

	"dealtracker/models"
)

// Keyword is one detection token for a brand. Model-level keywords also
// resolve the specific model string.
type Keyword struct {
	Text    string
	IsModel bool
}

// BrandEntry pairs a canonical brand with its keywords. Entries are
// evaluated in slice order; the first brand with any match wins, so the
// table order is the tie-break, not match count.
type BrandEntry struct {
	Brand    string
	Keywords []Keyword
}

// Detector maps free-text titles to a canonical (brand, model) pair.
type Detector struct {
	table []BrandEntry
}

func New(table []BrandEntry) *Detector {
	return &Detector{table: table}
}

// FromRows builds a detector from stored keyword rows. Rows must be ordered
// by position; brands keep the order of their first row.
func FromRows(rows []models.BrandKeyword) *Detector {
	var table []BrandEntry
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.Brand]
		if !ok {
			i = len(table)
			index[row.Brand] = i
			table = append(table, BrandEntry{Brand: row.Brand})
		}
		table[i].Keywords = append(table[i].Keywords, Keyword{
			Text:    strings.ToLower(row.Keyword),
			IsModel: row.IsModel,
		})
	}
	return New(table)
}

// Detect returns the canonical brand and model for a title, or empty strings
// when nothing matches. An unresolved title is not an error; the listing
// stays eligible for reconciliation and degraded scoring.
func (d *Detector) Detect(title string) (brand, model string) {
	lower := strings.ToLower(title)

	for _, entry := range d.table {
		matched := false
		var bestModel string
		for _, kw := range entry.Keywords {
			if kw.Text == "" || !strings.Contains(lower, kw.Text) {
				continue
			}
			matched = true
			// Longest model keyword wins so "ender 3" beats "ender".
			if kw.IsModel && len(kw.Text) > len(bestModel) {
				bestModel = kw.Text
			}
		}
		if matched {
			return entry.Brand, bestModel
		}
	}
	return "", ""
}
