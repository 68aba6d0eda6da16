// ABOUTME: Invite notification message construction
// ABOUTME: Plain-text body plus an HTML rendering produced by goldmark

package notify

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

// InviteSubject is the subject line of every invite notification.
const InviteSubject = "Invite to Asobi"

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    string `json:"html,omitempty"`
}

// BuildInviteMessage builds the notification for an invite to email
// expiring at expiresAt. A non-empty note is appended as its own paragraph.
func BuildInviteMessage(email string, expiresAt time.Time, note *string) Message {
	body := fmt.Sprintf("You are invited. Expires at %s", expiresAt.UTC().Format(time.RFC3339))
	if note != nil && strings.TrimSpace(*note) != "" {
		body += "\n\n" + *note
	}

	return Message{
		To:      email,
		Subject: InviteSubject,
		Body:    body,
		HTML:    renderHTML(body),
	}
}

// renderHTML converts markdown to HTML. Raw HTML in the source is omitted by
// goldmark's default renderer, so notes cannot inject markup.
func renderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		slog.Default().Error("failed to convert markdown", "error", err)
		return ""
	}
	return buf.String()
}
