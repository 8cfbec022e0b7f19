package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"dealtracker/storage"
)

const schemaVersion = 1

var defaultEvents = []string{"scrape_completed", "new_deal_detected", "scrape_failed"}

var retryDelays = []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}

// Webhook delivers engine events to a configured endpoint, formatted for
// the target provider. Configuration lives in the settings table and is
// read per event so it can be changed at runtime. Delivery failures are
// logged and swallowed; a dead webhook must never break a scrape cycle.
type Webhook struct {
	store  storage.Store
	client *resty.Client
	logger *log.Logger
}

func NewWebhook(store storage.Store, logger *log.Logger) *Webhook {
	client := resty.New().SetTimeout(5 * time.Second)
	return &Webhook{store: store, client: client, logger: logger}
}

// Emit sends one event when webhooks are enabled and the event type is
// subscribed.
func (w *Webhook) Emit(ctx context.Context, eventType string, payload any) {
	var enabled bool
	if ok, _ := w.store.GetSetting(ctx, "webhook_enabled", &enabled); !ok || !enabled {
		return
	}
	var url string
	if ok, _ := w.store.GetSetting(ctx, "webhook_url", &url); !ok || strings.TrimSpace(url) == "" {
		return
	}
	if !w.eventEnabled(ctx, eventType) {
		return
	}

	var provider string
	w.store.GetSetting(ctx, "webhook_provider", &provider)
	provider = strings.ToLower(strings.TrimSpace(provider))

	data, err := toMap(payload)
	if err != nil {
		w.logf("webhook: encode %s: %v", eventType, err)
		return
	}

	event := map[string]any{
		"event":          eventType,
		"event_id":       uuid.New().String(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"schema_version": schemaVersion,
		"data":           data,
	}

	body := formatPayload(provider, eventType, event, data)
	if err := w.post(ctx, strings.TrimSpace(url), body); err != nil {
		w.logf("webhook: send %s: %v", eventType, err)
	}
}

func (w *Webhook) eventEnabled(ctx context.Context, eventType string) bool {
	events := defaultEvents
	var configured []string
	if ok, _ := w.store.GetSetting(ctx, "webhook_events", &configured); ok {
		events = configured
	}
	for _, e := range events {
		if e == eventType {
			return true
		}
	}
	return false
}

func (w *Webhook) post(ctx context.Context, url string, body any) error {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		resp, err := w.client.R().SetContext(ctx).SetBody(body).Post(url)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.IsSuccess() {
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode())
	}
	return lastErr
}

func formatPayload(provider, eventType string, event map[string]any, data map[string]any) any {
	switch provider {
	case "discord":
		content := formatText(eventType, data)
		if len(content) > 1900 {
			content = content[:1900]
		}
		return map[string]any{"content": content}
	case "google_chat":
		return map[string]any{"text": formatText(eventType, data)}
	default:
		return event
	}
}

func formatText(eventType string, data map[string]any) string {
	switch eventType {
	case "scrape_completed":
		return fmt.Sprintf("Scrape completed: found=%v, new=%v, price_changes=%v, errors=%v",
			field(data, "found"), field(data, "new"), field(data, "price_changes"), field(data, "errors"))
	case "scrape_failed":
		errMsg := "Unknown error"
		if v, ok := data["error"].(string); ok && v != "" {
			errMsg = v
		}
		return "Scrape failed: " + errMsg
	case "new_deal_detected":
		deals, _ := data["deals"].([]any)
		lines := []string{fmt.Sprintf("New deals detected (%d):", len(deals))}
		for _, d := range deals {
			deal, ok := d.(map[string]any)
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("- %v (%v $%v) %v",
				deal["title"], deal["currency"], deal["current_price"], deal["url"]))
		}
		return strings.Join(lines, "\n")
	default:
		return "Event: " + eventType
	}
}

func field(data map[string]any, key string) any {
	if v, ok := data[key]; ok {
		return v
	}
	return 0
}

func toMap(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (w *Webhook) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
