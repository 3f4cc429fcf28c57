package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ringi/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts notifications as JSON to the configured hooks.
type Webhook struct {
	Hooks  []config.WebhookConfig
	Client *http.Client
	Now    func() time.Time
}

type webhookBody struct {
	DeliveryID   string       `json:"delivery_id"`
	TS           string       `json:"ts"`
	Notification Notification `json:"notification"`
}

func (w Webhook) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, hook := range w.Hooks {
		if !hook.Active() {
			continue
		}
		if !newEventFilter(hook.Events).match(string(n.Kind)) {
			continue
		}
		if err := w.post(ctx, hook, n); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (w Webhook) post(ctx context.Context, hook config.WebhookConfig, n Notification) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	body := webhookBody{
		DeliveryID:   uuid.NewString(),
		TS:           now().UTC().Format(time.RFC3339),
		Notification: n,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ringi-Event", string(n.Kind))
	req.Header.Set("X-Ringi-Delivery", body.DeliveryID)
	req.Header.Set("X-Ringi-Tenant", n.TenantID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Ringi-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
