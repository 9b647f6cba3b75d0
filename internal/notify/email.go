package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"savannah-commerce/config"
)

// SMTPEmailSender delivers admin emails through a plain SMTP relay.
type SMTPEmailSender struct {
	cfg config.NotifyConfig
	// send is swappable so tests do not need a relay.
	send func(addr string, from string, to []string, msg []byte) error
}

func NewSMTPEmailSender(cfg config.NotifyConfig) *SMTPEmailSender {
	return &SMTPEmailSender{
		cfg: cfg,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// SendEmail delivers one message to the configured admin address.
func (s *SMTPEmailSender) SendEmail(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.FromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", s.cfg.AdminEmail)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("\r\n")
	b.WriteString(body)

	if err := s.send(s.cfg.SMTPAddr, s.cfg.FromEmail, []string{s.cfg.AdminEmail}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
