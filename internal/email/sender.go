package email

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

type Sender interface {
	Send(to, subject, html string) error
}

// StdoutSender logs mail instead of delivering it. Used when SMTP_ADDR is
// unset.
type StdoutSender struct {
	Logger zerolog.Logger
}

func (s StdoutSender) Send(to, subject, html string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg(html)
	return nil
}

// SMTPSender delivers through an SMTP relay without auth, e.g. MailHog
// locally or a sidecar relay in production. STARTTLS is used when the relay
// offers it.
type SMTPSender struct {
	Addr    string
	From    string
	Timeout time.Duration
}

func NewSMTPSender(addr, from string) *SMTPSender {
	if addr == "" {
		addr = "localhost:1025"
	}
	if from == "" {
		from = "no-reply@scriptmarket.local"
	}
	return &SMTPSender{Addr: addr, From: from, Timeout: 15 * time.Second}
}

func (s *SMTPSender) Send(to, subject, html string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("email: empty recipient")
	}
	if strings.ContainsAny(to+subject, "\r\n") {
		return errors.New("email: header contains newline")
	}

	m := mail.NewMsg()
	if err := m.From(s.From); err != nil {
		return fmt.Errorf("email: from %q: %w", s.From, err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("email: to %q: %w", to, err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, html)

	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func (s *SMTPSender) client() (*mail.Client, error) {
	host, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return nil, fmt.Errorf("email: smtp addr %q: %w", s.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("email: smtp port %q: %w", portStr, err)
	}
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithPort(port),
	}
	if s.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.Timeout))
	}
	return mail.NewClient(host, opts...)
}
