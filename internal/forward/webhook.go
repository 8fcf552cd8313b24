package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const maxLoggedReply = 4 << 10

type WebhookSink struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewWebhookSink posts envelopes to url. A nil client uses a fresh
// http.Client; per-request deadlines come from the forwarder.
func NewWebhookSink(url string, client *http.Client, log *slog.Logger) *WebhookSink {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebhookSink{url: url, client: client, log: log}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, env Envelope, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedReply))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	w.log.Debug("webhook accepted event", "event", env.EventName, "status", resp.StatusCode, "reply", string(reply))
	return nil
}
