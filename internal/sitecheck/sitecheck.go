// Package sitecheck proves that an account controls a site before a form is
// bound to the whole site. The owner publishes a plain text file at the site
// root listing the addresses allowed to receive its submissions, one per
// line.
package sitecheck

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultFileName is the verification file looked up at the site root.
const DefaultFileName = "formrelay-verify.txt"

// maxFileBytes bounds how much of the file is read.
const maxFileBytes = 64 << 10

// Verifier fetches the verification file over HTTP.
type Verifier struct {
	FileName string
	Client   *http.Client
}

// NewVerifier returns a Verifier with a bounded HTTP client.
func NewVerifier() *Verifier {
	return &Verifier{
		FileName: DefaultFileName,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// FileURL returns where the verification file for siteURL lives: the
// file name resolved against the site's root.
func (v *Verifier) FileURL(siteURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("sitecheck: invalid site url %q", siteURL)
	}
	name := v.FileName
	if name == "" {
		name = DefaultFileName
	}
	root := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/" + strings.TrimLeft(name, "/")}
	return root.String(), nil
}

// Verify reports whether the verification file for siteURL has a line equal
// to email (case-insensitive). A missing file or non-200 answer is simply
// unverified; transport errors are returned.
func (v *Verifier) Verify(ctx context.Context, siteURL, email string) (bool, error) {
	fileURL, err := v.FileURL(siteURL)
	if err != nil {
		return false, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/plain")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("sitecheck: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	sc := bufio.NewScanner(io.LimitReader(resp.Body, maxFileBytes))
	for sc.Scan() {
		if strings.EqualFold(strings.TrimSpace(sc.Text()), email) {
			return true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("sitecheck: read %s: %w", fileURL, err)
	}
	return false, nil
}
