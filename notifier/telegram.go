// Package notifier delivers text messages to chat destinations.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// MaxMessageLength is the longest text the Bot API accepts in one message.
const MaxMessageLength = 4096

// NotificationError is returned when a message could not be delivered.
type NotificationError struct {
	Destination string
	StatusCode  int
	Description string
	Err         error
}

func (e *NotificationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("send to %s: %v", e.Destination, e.Err)
	case e.Description != "":
		return fmt.Sprintf("send to %s: status %d: %s", e.Destination, e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("send to %s: status %d", e.Destination, e.StatusCode)
	}
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	client *resty.Client
	token  string
}

// NewTelegram builds a Bot API client. apiURL is normally https://api.telegram.org.
func NewTelegram(apiURL, token string, timeout time.Duration) *Telegram {
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Telegram{client: client, token: token}
}

// WithTransport replaces the HTTP transport used for API calls.
func (t *Telegram) WithTransport(rt http.RoundTripper) *Telegram {
	t.client.SetTransport(rt)
	return t
}

// Send posts text to the chat identified by destination.
func (t *Telegram) Send(ctx context.Context, text, destination string) error {
	var out apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(sendMessageRequest{
			ChatID:                destination,
			Text:                  text,
			DisableWebPagePreview: true,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return &NotificationError{Destination: destination, Err: err}
	}
	if resp.IsError() || !out.OK {
		return &NotificationError{
			Destination: destination,
			StatusCode:  resp.StatusCode(),
			Description: out.Description,
		}
	}

	slog.Debug("message sent",
		slog.String("destination", destination),
		slog.Int("length", len(text)),
	)
	return nil
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

// Send logs text at info level.
func (n LogNotifier) Send(ctx context.Context, text, destination string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "dry run notification",
		slog.String("destination", destination),
		slog.String("text", text),
	)
	return nil
}
