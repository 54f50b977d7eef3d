package notify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Message is an email ready to be sent.
type Message struct {
	Subject string
	Body    string
	From    string
	To      []string
}

// Mailer delivers the messages.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// MailConfig holds the configuration of the mail transport.
type MailConfig struct {
	Transport string `mapstructure:"transport"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// NewMailer returns the Mailer for the configured transport.
// The "log" transport, the default, only logs the messages.
func NewMailer(c *MailConfig) (Mailer, error) {
	switch c.Transport {
	case "", "log":
		return LogMailer{}, nil
	case "smtp":
		if c.Host == "" {
			return nil, errors.New("smtp host is required")
		}
		port := c.Port
		if port == 0 {
			port = 25
		}
		m := &SMTPMailer{Addr: net.JoinHostPort(c.Host, strconv.Itoa(port))}
		if c.Username != "" {
			m.Auth = smtp.PlainAuth("", c.Username, c.Password, c.Host)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown mail transport %q", c.Transport)
}

// LogMailer writes the messages in the log of the request.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg *Message) error {
	zerolog.Ctx(ctx).Info().
		Str("from", msg.From).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("email")
	return nil
}

// SMTPMailer delivers the messages to an SMTP relay.
type SMTPMailer struct {
	Addr string
	Auth smtp.Auth
}

func (m *SMTPMailer) Send(_ context.Context, msg *Message) error {
	return smtp.SendMail(m.Addr, m.Auth, msg.From, msg.To, Format(msg))
}

// Format returns the RFC 5322 representation of the message.
func Format(msg *Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + stripBreaks(msg.From) + "\r\n")
	b.WriteString("To: " + stripBreaks(strings.Join(msg.To, ", ")) + "\r\n")
	// non ascii and line breaks end up encoded
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

var breaks = strings.NewReplacer("\r", "", "\n", "")

func stripBreaks(s string) string { return breaks.Replace(s) }
