// Package notify provides the outbound channels used to deliver dose alerts:
// a chat webhook sender with HMAC-SHA256 signing, an SMTP email sender, a
// bounded retry policy, and mock senders for tests. Severity routing lives in
// the notifier domain; this package only moves messages.
package notify

import "context"

// ChatSender posts a message to the stewardship chat channel. The destination
// is fixed at construction time.
type ChatSender interface {
	SendChat(ctx context.Context, message string) error
}

// EmailSender sends one message to a set of recipients.
type EmailSender interface {
	SendEmail(ctx context.Context, to []string, subject, body string) error
}
