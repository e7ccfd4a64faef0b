// Package notifier delivers best-effort trade alerts.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

const (
	telegramAPI     = "https://api.telegram.org"
	defaultTimeout  = 10 * time.Second
	maxErrorPayload = 512
)

// Notifier announces executed trades.
type Notifier interface {
	NotifyTrade(ctx context.Context, rec domain.TradeRecord) error
}

// Noop discards notifications.
type Noop struct{}

// NotifyTrade implements Notifier.
func (Noop) NotifyTrade(context.Context, domain.TradeRecord) error { return nil }

// New returns a Telegram notifier when alerts are enabled and credentials are set, otherwise Noop.
func New(enabled bool, token, chatID string, opts ...TelegramOption) Notifier {
	if !enabled || token == "" || chatID == "" {
		return Noop{}
	}
	return NewTelegram(token, chatID, opts...)
}

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// TelegramOption configures Telegram.
type TelegramOption func(*Telegram)

// WithBaseURL points the notifier at another Bot API host.
func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) {
		t.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) {
		t.httpClient = c
	}
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:      token,
		chatID:     chatID,
		baseURL:    telegramAPI,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NotifyTrade implements Notifier.
func (t *Telegram) NotifyTrade(ctx context.Context, rec domain.TradeRecord) error {
	return t.Send(ctx, FormatTrade(rec))
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Send posts a plain text message to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: text})
	if err != nil {
		return errors.Wrap(err, "failed to marshal telegram payload")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send telegram message")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Wrap(err, "failed to read telegram response")
	}

	var out sendMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = truncate(string(raw), maxErrorPayload)
		}
		return errors.Errorf("telegram API error (status %d): %s", resp.StatusCode, desc)
	}
	return nil
}

// FormatTrade renders "#SOURCE SIDE", quantity, price and the note on separate lines.
func FormatTrade(rec domain.TradeRecord) string {
	source := rec.Source
	if source == "" {
		source = "trade"
	}
	msg := fmt.Sprintf("#%s %s\nQty: %s\nPrice: %s\n%s",
		source,
		strings.ToUpper(string(rec.Side)),
		decimal.NewFromFloat(rec.QtyBTC).StringFixed(8),
		decimal.NewFromFloat(rec.Price).StringFixed(2),
		rec.Note,
	)
	return strings.TrimSpace(msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
