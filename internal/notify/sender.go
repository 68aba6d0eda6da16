// ABOUTME: Mail delivery backends: HTTP mailer endpoint and a log-only stub
// ABOUTME: HTTPSender treats any non-2xx response as a delivery failure

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPSender POSTs messages as JSON to a mailer endpoint.
type HTTPSender struct {
	endpoint string
	from     string
	client   *http.Client
}

// NewHTTPSender creates a sender for endpoint. A zero timeout uses DefaultTimeout.
func NewHTTPSender(endpoint, from string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSender{
		endpoint: endpoint,
		from:     from,
		client:   &http.Client{Timeout: timeout},
	}
}

type mailerPayload struct {
	Message
	From string `json:"from,omitempty"`
}

// Send posts msg to the endpoint.
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(mailerPayload{Message: msg, From: s.from})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to mailer: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mailer returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSender records messages in the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a stub sender writing to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message and always succeeds.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("[MailerStub] email not sent, no mailer endpoint configured",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// NewSender returns an HTTPSender when endpoint is set, otherwise a LogSender.
func NewSender(endpoint, from string, timeout time.Duration, logger *slog.Logger) Sender {
	if endpoint == "" {
		return NewLogSender(logger)
	}
	return NewHTTPSender(endpoint, from, timeout)
}
