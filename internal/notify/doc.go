// Package notify delivers invite notifications.
//
// A Sender performs one delivery. HTTPSender posts JSON to the configured
// mailer endpoint; LogSender is used when no endpoint is configured and only
// logs a [MailerStub] entry.
//
// Dispatcher wraps a Sender for fire-and-forget use from request handlers.
// Each send runs on its own goroutine with a context detached from the
// request and a 10 second default timeout. Errors are logged, never returned.
// Call Wait during shutdown to drain in-flight sends.
package notify
