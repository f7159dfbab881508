package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smarttutor-systems/trustcore/internal/logging"
)

// Channel delivers an alert out of band (outside the WebSocket fan-out).
type Channel interface {
	Send(ctx context.Context, alert *Alert) error
	Type() string
}

// LogChannel writes the notification to the structured log. It backs the
// "log" channel and stands in for channels with no transport configured.
type LogChannel struct {
	logger *logging.Logger
}

func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Type() string { return "log" }

func (l *LogChannel) Send(ctx context.Context, alert *Alert) error {
	l.logger.WithContext(ctx).Warn("security notification",
		"alert_id", alert.ID,
		"alert_type", alert.Type,
		"threat_level", alert.ThreatLevel,
		"message", alert.Message,
	)
	return nil
}

// WebhookChannel sends alert notifications via HTTP POST.
type WebhookChannel struct {
	url    string
	client *http.Client
}

func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookChannel) Type() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "TrustCore/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Dispatcher routes notifications to named channels. Channel names with no
// configured transport (email, sms) fall back to the log channel so the
// notification is never silently lost.
type Dispatcher struct {
	channels map[string]Channel
	fallback Channel
	logger   *logging.Logger
}

func NewDispatcher(logger *logging.Logger, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]Channel, len(channels)),
		fallback: NewLogChannel(logger),
		logger:   logger,
	}
	for _, ch := range channels {
		d.channels[ch.Type()] = ch
	}
	return d
}

// Notify sends the alert through each named channel. Per-channel failures
// are logged and do not stop delivery on the remaining channels; the first
// error is returned for the caller's step record.
func (d *Dispatcher) Notify(ctx context.Context, alert *Alert, channelNames []string) error {
	if len(channelNames) == 0 {
		channelNames = []string{"log"}
	}

	var firstErr error
	for _, name := range channelNames {
		ch, ok := d.channels[name]
		if !ok {
			d.logger.WithContext(ctx).Debug("notification channel not configured, using log fallback", "channel", name)
			ch = d.fallback
		}
		if err := ch.Send(ctx, alert); err != nil {
			d.logger.WithContext(ctx).Error("notification delivery failed",
				"channel", name,
				"alert_id", alert.ID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("channel %s: %w", name, err)
			}
		}
	}
	return firstErr
}
