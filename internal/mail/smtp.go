package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/smtp"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTP sends through an SMTP relay with PLAIN auth.
type SMTP struct {
	Host string
	Port int
	User string
	Pass string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Send implements Sender. smtp.SendMail has no context support, so ctx is
// only checked before dialing.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	port := s.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", s.Host, port)

	body, err := Build(msg)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Pass, s.Host)
	}
	rcpt := append(append([]string{}, msg.To...), msg.CC...)

	send := s.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, msg.From, rcpt, body); err != nil {
		se := &SendError{Transport: "smtp", Message: err.Error()}
		if tpe, ok := err.(*textproto.Error); ok {
			se.Code = fmt.Sprintf("%d", tpe.Code)
		}
		return se
	}
	return nil
}

// Build renders msg as an RFC 5322 message: multipart/alternative when both
// text and HTML are present, a single quoted-printable part otherwise.
func Build(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	h := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	h("MIME-Version", "1.0")
	h("Date", time.Now().UTC().Format(time.RFC1123Z))
	h("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(msg.From)))
	h("From", formatAddress(msg.FromName, msg.From))
	h("To", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		h("Cc", strings.Join(msg.CC, ", "))
	}
	if msg.ReplyTo != "" {
		h("Reply-To", msg.ReplyTo)
	}
	h("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h(textproto.CanonicalMIMEHeaderKey(k), msg.Headers[k])
	}

	switch {
	case msg.Text != "" && msg.HTML != "":
		mw := multipart.NewWriter(&buf)
		h("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
		buf.WriteString("\r\n")
		if err := writePart(mw, "text/plain", msg.Text); err != nil {
			return nil, err
		}
		if err := writePart(mw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	case msg.HTML != "":
		if err := writeSingle(&buf, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	default:
		if err := writeSingle(&buf, "text/plain", msg.Text); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, ctype, content string) error {
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Type", ctype+"; charset=UTF-8")
	hdr.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

func writeSingle(buf *bytes.Buffer, ctype, content string) error {
	fmt.Fprintf(buf, "Content-Type: %s; charset=UTF-8\r\n", ctype)
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	qp := quotedprintable.NewWriter(buf)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "localhost"
}
