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

	"github.com/cassiomorais/eventpay/pkg/retry"
)

// RelayConfig points at the notification relay.
type RelayConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Config
}

// RelaySender posts messages to an HTTP relay that fans out to the email
// and WhatsApp providers.
type RelaySender struct {
	cfg    RelayConfig
	client *http.Client
}

// NewRelaySender creates a RelaySender. A nil client gets one with cfg.Timeout.
func NewRelaySender(cfg RelayConfig, client *http.Client) *RelaySender {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &RelaySender{cfg: cfg, client: client}
}

type relayMessage struct {
	Channel   Channel           `json:"channel"`
	Template  string            `json:"template"`
	Recipient string            `json:"recipient"`
	Vars      map[string]string `json:"vars,omitempty"`
}

// Send posts the message, retrying transport errors and 5xx responses.
func (s *RelaySender) Send(ctx context.Context, channel Channel, template, recipient string, vars map[string]string) error {
	if recipient == "" {
		return fmt.Errorf("%w: empty %s recipient", ErrPermanent, channel)
	}
	body, err := json.Marshal(relayMessage{Channel: channel, Template: template, Recipient: recipient, Vars: vars})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	cfg := s.cfg.Retry
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, ErrPermanent) }
	return retry.Do(ctx, cfg, func() error {
		return s.post(ctx, body)
	})
}

func (s *RelaySender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("relay returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: relay returned %d", ErrPermanent, resp.StatusCode)
	}
}
