// Package notify forwards newly opened alerts to an external HTTP endpoint.
// Delivery is best-effort, like the cache mirror: a failed notification is
// logged and never blocks message acknowledgment.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"citysense.dev/pipeline/internal/store"
)

const (
	requestTimeout = 5 * time.Second
	retryCount     = 2
)

// Webhook posts alert payloads to a configured URL.
type Webhook struct {
	client *resty.Client
	logger *slog.Logger
	url    string
}

// WebhookConfig holds the configuration for the Webhook notifier.
type WebhookConfig struct {
	Logger *slog.Logger
	// URL is the endpoint alerts are POSTed to.
	URL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
}

// NewWebhook creates a Webhook notifier.
func NewWebhook(cfg *WebhookConfig) (*Webhook, error) {
	if cfg == nil {
		return nil, errors.New("webhook config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.URL == "" {
		return nil, errors.New("webhook URL cannot be empty")
	}

	client := resty.New().
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		SetHeader("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}

	return &Webhook{
		client: client,
		logger: cfg.Logger,
		url:    cfg.URL,
	}, nil
}

// alertPayload is the outbound JSON shape.
type alertPayload struct {
	DeviceName string   `json:"device_name"`
	SensorType string   `json:"sensor_type"`
	AlertType  string   `json:"alert_type"`
	Message    string   `json:"message"`
	Value      *float64 `json:"value,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Severity   string   `json:"severity"`
	Timestamp  string   `json:"timestamp"`
}

// NotifyAlert posts one newly opened alert.
func (w *Webhook) NotifyAlert(ctx context.Context, a *store.Alert) error {
	payload := alertPayload{
		DeviceName: a.DeviceName,
		SensorType: a.SensorType,
		AlertType:  a.AlertType,
		Message:    a.Message,
		Value:      a.Value,
		Threshold:  a.Threshold,
		Severity:   a.Severity,
		Timestamp:  a.Timestamp.Format(time.RFC3339),
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode())
	}

	w.logger.Debug("alert forwarded",
		"device", a.DeviceName,
		"alert_type", a.AlertType,
		"status", resp.StatusCode(),
	)
	return nil
}
