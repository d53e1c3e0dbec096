package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Resend sends through the Resend HTTP API.
type Resend struct {
	Key    string
	URL    string
	Client *http.Client
}

// NewResend returns a Resend transport; an empty url means the public API.
func NewResend(key, url string) *Resend {
	if url == "" {
		url = "https://api.resend.com/emails"
	}
	return &Resend{Key: key, URL: url, Client: &http.Client{Timeout: 15 * time.Second}}
}

type resendPayload struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	CC      []string          `json:"cc,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Send implements Sender.
func (r *Resend) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(resendPayload{
		From:    formatAddress(msg.FromName, msg.From),
		To:      msg.To,
		CC:      msg.CC,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Headers: msg.Headers,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.Key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return &SendError{Transport: "resend", Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		return nil
	}

	var errResp struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	se := &SendError{
		Transport: "resend",
		Code:      errResp.Name,
		Message:   fmt.Sprintf("status %d: %s", resp.StatusCode, errResp.Message),
	}
	if resp.StatusCode == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(errResp.Message), "reply_to") {
		se.Code = CodeInvalidReplyTo
	}
	return se
}
