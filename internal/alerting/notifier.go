package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"visionline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Notifier delivers a raised alert. Delivery is best effort; callers log failures.
type Notifier interface {
	Notify(ctx context.Context, a domain.Alert) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, domain.Alert) error { return nil }

// Router sends each alert to the notifier registered for its channel.
// Channels without a notifier are skipped.
type Router struct {
	Channels map[domain.AlertChannel]Notifier
	Logger   *slog.Logger
}

func (r Router) Notify(ctx context.Context, a domain.Alert) error {
	n, ok := r.Channels[a.Channel]
	if !ok || n == nil {
		if r.Logger != nil {
			r.Logger.Debug("no notifier for alert channel", slog.String("channel", string(a.Channel)), slog.String("alert_id", a.ID))
		}
		return nil
	}
	return n.Notify(ctx, a)
}

// WebhookNotifier POSTs alert.raised events as JSON.
type WebhookNotifier struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

type webhookEvent struct {
	Type  string       `json:"type"`
	TS    string       `json:"ts"`
	Alert domain.Alert `json:"alert"`
}

func (w WebhookNotifier) Notify(ctx context.Context, a domain.Alert) error {
	if strings.TrimSpace(w.URL) == "" {
		return nil
	}
	data, err := json.Marshal(webhookEvent{
		Type:  "alert.raised",
		TS:    a.CreatedAt.UTC().Format(time.RFC3339),
		Alert: a,
	})
	if err != nil {
		return err
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Visionline-Event", "alert.raised")
	req.Header.Set("X-Visionline-Delivery", a.ID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Visionline-Secret", w.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
