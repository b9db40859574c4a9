// Package mailer sends email over SMTP.
package mailer

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"gopkg.in/gomail.v2"
)

// Sender delivers plain-text messages through the configured SMTP relay.
type Sender struct {
	cfg  config.SMTPConfig
	send func(m ...*gomail.Message) error
}

func New(cfg config.SMTPConfig) *Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Sender{cfg: cfg, send: d.DialAndSend}
}

// Enabled reports whether an SMTP host is configured.
func (s *Sender) Enabled() bool { return s.cfg.Host != "" }

// AdminAddress is where operator alerts go; empty when unset.
func (s *Sender) AdminAddress() string { return s.cfg.AdminEmail }

// Send delivers one message. gomail has no context support, so ctx is only
// checked before dialing.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if !s.Enabled() {
		return apperr.Provider("smtp", "email delivery is not configured")
	}
	if err := ctx.Err(); err != nil {
		return apperr.Transport("smtp send", err)
	}

	m := s.message(to, subject, body)
	if err := s.send(m); err != nil {
		return apperr.Transport(fmt.Sprintf("smtp send to %s", to), err)
	}
	return nil
}

func (s *Sender) message(to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.cfg.From, "ShopMind"))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}
