// Package notify delivers rendered notifications to recipients.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Message is a fully rendered notification.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Sender delivers a message. Delivery and retries are the sender's concern;
// the returned error is advisory for the caller.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
	from   string
}

// NewLogSender builds a log-only sender.
func NewLogSender(logger *zap.Logger, from string) *LogSender {
	return &LogSender{logger: logger, from: from}
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification",
		zap.String("from", s.from),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

// WebhookSender posts notifications as JSON to an outbound mail relay.
type WebhookSender struct {
	url     string
	from    string
	timeout time.Duration
}

// NewWebhookSender builds a sender posting to url.
func NewWebhookSender(url, from string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{url: url, from: from, timeout: timeout}
}

type webhookPayload struct {
	From string `json:"from"`
	Message
}

// Send posts the message and treats any non-2xx answer as a failure.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("notification %q has no recipient", msg.Subject)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("post notification: %w", context.DeadlineExceeded)
		}
		if remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}
	agent := fiber.Post(s.url)
	if timeout > 0 {
		agent.Timeout(timeout)
	}
	agent.JSON(webhookPayload{From: s.from, Message: msg})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post notification: %w", errs[0])
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("post notification: status %d: %s", code, truncate(string(body), 200))
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
