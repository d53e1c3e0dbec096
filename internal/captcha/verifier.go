// Package captcha verifies challenge responses against a reCAPTCHA
// compatible siteverify endpoint and picks the wording of the challenge page.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is Google's reCAPTCHA v2 endpoint. hCaptcha and Turnstile
// accept the same form parameters.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Verifier checks tokens posted back by the challenge page.
type Verifier struct {
	Secret    string
	VerifyURL string
	Client    *http.Client
}

// NewVerifier returns a Verifier with a bounded HTTP client.
func NewVerifier(secret, verifyURL string) *Verifier {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &Verifier{
		Secret:    secret,
		VerifyURL: verifyURL,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify reports whether token is a valid solved challenge. An empty token is
// simply invalid; transport errors are returned.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	form := url.Values{}
	form.Set("secret", v.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha verify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha verify: status %d", resp.StatusCode)
	}
	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("captcha verify: %w", err)
	}
	return out.Success, nil
}
