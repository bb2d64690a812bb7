package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/medvied/mze/internal/models"
)

// WebhookEvent represents the payload sent to webhook URLs.
type WebhookEvent struct {
	Event     string          `json:"event"`
	Instance  uuid.UUID       `json:"instance"`
	Blobs     []models.BlobID `json:"blobs,omitempty"`
	Record    *uuid.UUID      `json:"record,omitempty"`
	Version   *uuid.UUID      `json:"version,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Webhook event names.
const (
	EventPut       = "put"
	EventDelete    = "delete"
	EventRecordPut = "record.put"
)

// WebhookConfig holds the list of configured webhook URLs.
type WebhookConfig struct {
	URLs []string
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
// A nil notifier drops every event.
type WebhookNotifier struct {
	config *WebhookConfig
	client *http.Client
	logger *slog.Logger
	retry  time.Duration
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		retry:  time.Second,
	}
}

// NotifyPut reports blobs stored through the flat server.
func (wn *WebhookNotifier) NotifyPut(instance uuid.UUID, ids []models.BlobID) {
	wn.notify(&WebhookEvent{Event: EventPut, Instance: instance, Blobs: ids})
}

// NotifyDelete reports blobs that existed and were removed.
func (wn *WebhookNotifier) NotifyDelete(instance uuid.UUID, ids []models.BlobID) {
	wn.notify(&WebhookEvent{Event: EventDelete, Instance: instance, Blobs: ids})
}

// NotifyRecordPut reports a new record version.
func (wn *WebhookNotifier) NotifyRecordPut(instance, record, version uuid.UUID) {
	wn.notify(&WebhookEvent{Event: EventRecordPut, Instance: instance, Record: &record, Version: &version})
}

// notify delivers asynchronously and does not block the caller.
func (wn *WebhookNotifier) notify(event *WebhookEvent) {
	if wn == nil {
		return
	}
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	go wn.send(event)
}

// send delivers the webhook event to all configured URLs.
func (wn *WebhookNotifier) send(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, url := range wn.config.URLs {
		if err := wn.post(url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "error", err)
		} else {
			wn.logger.Debug("webhook: delivered", "url", url, "event", event.Event)
		}
	}
}

// post sends a single webhook POST with retry (up to 2 retries).
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "mze-server/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * wn.retry)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
		time.Sleep(time.Duration(attempt+1) * wn.retry)
	}

	return lastErr
}
