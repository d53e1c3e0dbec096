// Package mail is the outbound email collaborator: a Sender interface, the
// SMTP and Resend transports behind it, and the notification templates.
//
// Sending is synchronous and never retried; a failed send is reported to the
// caller and otherwise dropped.
package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
)

// ErrInvalidReplyTo is matched (errors.Is) by transport errors that blame the
// Reply-To address.
var ErrInvalidReplyTo = errors.New("mail: invalid reply-to address")

// Message is one email.
type Message struct {
	To       []string
	From     string
	FromName string
	Subject  string
	Text     string
	HTML     string
	CC       []string
	ReplyTo  string
	Headers  map[string]string
}

// Sender dispatches messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendError is a transport failure with the provider's code, if any.
type SendError struct {
	Transport string
	Code      string
	Message   string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Transport, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Transport, e.Message)
}

// Is lets errors.Is(err, ErrInvalidReplyTo) see provider reply-to complaints.
func (e *SendError) Is(target error) bool {
	return target == ErrInvalidReplyTo && e.Code == CodeInvalidReplyTo
}

// CodeInvalidReplyTo is the normalized provider code for a rejected Reply-To.
const CodeInvalidReplyTo = "invalid_reply_to"

// Config selects and configures the transport.
type Config struct {
	Transport string // smtp | resend | log
	Host      string
	Port      int
	User      string
	Pass      string
	ResendKey string
	ResendURL string
}

// New returns the Sender for cfg.Transport, instrumented with metrics.
func New(cfg Config) (Sender, error) {
	var s Sender
	switch strings.ToLower(cfg.Transport) {
	case "", "log":
		s = Log{}
	case "smtp":
		if cfg.Host == "" {
			return nil, errors.New("mail: MAIL_HOST is required for smtp")
		}
		s = &SMTP{Host: cfg.Host, Port: cfg.Port, User: cfg.User, Pass: cfg.Pass}
	case "resend":
		if cfg.ResendKey == "" {
			return nil, errors.New("mail: RESEND_API_KEY is required for resend")
		}
		s = NewResend(cfg.ResendKey, cfg.ResendURL)
	default:
		return nil, fmt.Errorf("mail: unknown transport %q", cfg.Transport)
	}
	return Instrument(s, strings.ToLower(cfg.Transport)), nil
}

// formatAddress renders "Name <addr>" (RFC 2047 encoded when needed) or
// just addr.
func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return (&netmail.Address{Name: name, Address: addr}).String()
}
