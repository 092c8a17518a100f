package unlock

import (
	"context"
	"fmt"
	"strings"

	"cdr.dev/slog"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/xerrors"
)

// Sender delivers an unlock code over an external channel.
type Sender interface {
	Send(ctx context.Context, to, code, domain string) error
}

// SMTPSender delivers unlock codes by email.
type SMTPSender struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

var _ Sender = (*SMTPSender)(nil)

// Send submits the code email over SMTP with PLAIN auth when credentials
// are configured.
func (s *SMTPSender) Send(_ context.Context, to, code, domain string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: Unlock code for %s\r\n", domain)
	msg.WriteString("\r\n")
	fmt.Fprintf(&msg, "Your unlock code for %s is: %s\r\n", domain, code)

	var auth sasl.Client
	if s.Username != "" {
		auth = sasl.NewPlainClient("", s.Username, s.Password)
	}
	if err := smtp.SendMail(s.Addr, auth, s.From, []string{to}, strings.NewReader(msg.String())); err != nil {
		return xerrors.Errorf("send mail via %s: %w", s.Addr, err)
	}
	return nil
}

// LogSender writes codes to the log instead of delivering them. For
// development setups without an SMTP relay.
type LogSender struct {
	Log slog.Logger
}

var _ Sender = (*LogSender)(nil)

func (s *LogSender) Send(ctx context.Context, to, code, domain string) error {
	s.Log.Info(ctx, "unlock code (log delivery)",
		slog.F("to", to),
		slog.F("domain", domain),
		slog.F("code", code),
	)
	return nil
}
