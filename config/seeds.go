package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"dealtracker/models"
)

// Seeds is the first-run content for the reference tables. Loaded from YAML
// files in the seed directory; a missing file just means an empty section.
type Seeds struct {
	Queries    []models.SearchQuery
	Brands     []models.BrandKeyword
	References []models.RetailReference
	Settings   map[string]any
}

type queriesFile struct {
	Queries []struct {
		URL     string `yaml:"url"`
		Label   string `yaml:"label"`
		Enabled *bool  `yaml:"enabled"`
	} `yaml:"queries"`
}

type brandsFile struct {
	Brands []struct {
		Brand    string `yaml:"brand"`
		Keywords []struct {
			Text  string `yaml:"text"`
			Model bool   `yaml:"model"`
		} `yaml:"keywords"`
	} `yaml:"brands"`
}

type referencesFile struct {
	References []struct {
		Brand       string  `yaml:"brand"`
		Model       string  `yaml:"model"`
		MSRP        float64 `yaml:"msrp"`
		RetailPrice float64 `yaml:"retail_price"`
		Currency    string  `yaml:"currency"`
	} `yaml:"references"`
}

// LoadSeeds reads queries.yaml, brands.yaml, and msrp.yaml from dir and
// builds the default settings from cfg.
func LoadSeeds(dir string, cfg *Config) (*Seeds, error) {
	seeds := &Seeds{Settings: defaultSettings(cfg)}

	var qf queriesFile
	if err := readYAML(filepath.Join(dir, "queries.yaml"), &qf); err != nil {
		return nil, err
	}
	for _, q := range qf.Queries {
		enabled := q.Enabled == nil || *q.Enabled
		seeds.Queries = append(seeds.Queries, models.SearchQuery{
			URL:     q.URL,
			Label:   q.Label,
			Enabled: enabled,
		})
	}

	var bf brandsFile
	if err := readYAML(filepath.Join(dir, "brands.yaml"), &bf); err != nil {
		return nil, err
	}
	position := 0
	for _, b := range bf.Brands {
		for _, kw := range b.Keywords {
			seeds.Brands = append(seeds.Brands, models.BrandKeyword{
				Brand:    b.Brand,
				Keyword:  kw.Text,
				IsModel:  kw.Model,
				Position: position,
			})
			position++
		}
	}

	var rf referencesFile
	if err := readYAML(filepath.Join(dir, "msrp.yaml"), &rf); err != nil {
		return nil, err
	}
	for _, ref := range rf.References {
		currency := ref.Currency
		if currency == "" {
			currency = "USD"
		}
		seeds.References = append(seeds.References, models.RetailReference{
			Brand:       ref.Brand,
			Model:       ref.Model,
			MSRP:        decimal.NewFromFloat(ref.MSRP).Round(2),
			RetailPrice: decimal.NewFromFloat(ref.RetailPrice).Round(2),
			Currency:    currency,
		})
	}

	return seeds, nil
}

func defaultSettings(cfg *Config) map[string]any {
	return map[string]any{
		"inactive_threshold":                     3,
		"max_pages_per_query":                    cfg.Scraper.MaxPages,
		"default_currency":                       cfg.DefaultCurrency,
		"fx_rates_to_usd":                        map[string]float64{"USD": 1.0, "CAD": 0.74, "EUR": 1.08, "GBP": 1.27},
		"scrape_interval_hours":                  6,
		"webhook_enabled":                        cfg.Webhook.Enabled,
		"webhook_url":                            cfg.Webhook.URL,
		"webhook_provider":                       cfg.Webhook.Provider,
		"webhook_events":                         []string{"scrape_completed", "new_deal_detected", "scrape_failed"},
		"webhook_deal_max_price_to_retail_ratio": 0.9,
		"webhook_deal_min_drop_pct":              15.0,
		"webhook_deal_batch_size":                5,
	}
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
