package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPEmailSender sends alert emails through a plain SMTP relay.
type SMTPEmailSender struct {
	addr string
	from string
	auth smtp.Auth

	// sendMail is swapped out in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPEmailSender builds a sender for the given relay. Username may be
// empty for relays that accept unauthenticated mail (the usual setup inside a
// hospital network).
func NewSMTPEmailSender(host string, port int, from, username, password string) *SMTPEmailSender {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPEmailSender{
		addr:     fmt.Sprintf("%s:%d", host, port),
		from:     from,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

// SendEmail sends one message to all recipients in a single transaction.
func (s *SMTPEmailSender) SendEmail(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(s.from, to, subject, body)
	if err := s.sendMail(s.addr, s.auth, s.from, to, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", strings.Join(to, ","), err)
	}
	return nil
}

// buildMessage assembles an RFC 5322 plain-text message.
func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
