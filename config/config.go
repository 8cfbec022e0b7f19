package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath      string
	DatabaseURL string
	Port        int
	LogPath     string
	SeedDir     string

	Scheduler SchedulerConfig
	Scraper   ScraperConfig

	DefaultCurrency string

	Webhook WebhookConfig
}

type SchedulerConfig struct {
	Cron     string
	Interval time.Duration
}

type ScraperConfig struct {
	MaxPages int
	Delay    time.Duration
	Timeout  time.Duration
}

// WebhookConfig carries the env-level webhook bootstrap. The settings table
// overrides these at runtime; env values only seed the table on first run.
type WebhookConfig struct {
	Enabled  bool
	URL      string
	Provider string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:          getEnv("DB_PATH", "dealtracker.db"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		Port:            getEnvInt("PORT", 8080),
		LogPath:         getEnv("LOG_PATH", "dealtracker.log"),
		SeedDir:         getEnv("SEED_DIR", "config"),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "CAD"),
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			MaxPages: getEnvInt("SCRAPE_MAX_PAGES", 5),
			Delay:    getEnvDuration("SCRAPE_DELAY", 3*time.Second),
			Timeout:  getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),
		},
		Webhook: WebhookConfig{
			Enabled:  os.Getenv("WEBHOOK_ENABLED") == "true",
			URL:      os.Getenv("WEBHOOK_URL"),
			Provider: getEnv("WEBHOOK_PROVIDER", "generic"),
		},
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
