// Package delivery sends rendered messages through the external provider
// with bounded retries.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/followups/internal/domain"
)

// Message is one rendered message ready for the provider.
type Message struct {
	Channel domain.Channel
	To      string
	Subject string
	Body    string
	ReplyTo string
}

// Provider performs a single delivery attempt. It returns the provider's
// HTTP status, or an error when no response was received.
type Provider interface {
	Deliver(ctx context.Context, msg Message) (int, error)
}

// HTTPProvider posts messages to a transactional messaging API.
type HTTPProvider struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

// NewHTTPProvider creates a provider for the API at url.
func NewHTTPProvider(url, apiKey, from string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		url:    url,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: timeout},
	}
}

type providerRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ReplyTo string `json:"reply_to,omitempty"`
	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html"`
	Channel string `json:"channel"`
}

// Deliver implements Provider.
func (p *HTTPProvider) Deliver(ctx context.Context, msg Message) (int, error) {
	payload, err := json.Marshal(providerRequest{
		From:    p.from,
		To:      msg.To,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		HTML:    msg.Body,
		Channel: string(msg.Channel),
	})
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// LogProvider accepts every message and only logs it. It stands in for
// the provider when none is configured.
type LogProvider struct {
	logger *slog.Logger
}

// NewLogProvider creates a LogProvider.
func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{logger: logger}
}

// Deliver implements Provider.
func (p *LogProvider) Deliver(_ context.Context, msg Message) (int, error) {
	p.logger.Info("Delivery disabled, message logged only",
		"channel", msg.Channel,
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body))
	return http.StatusAccepted, nil
}
