// Package hostname turns Referer headers into the canonical host strings
// forms are bound to, and decides whether a submission host satisfies a
// form's binding.
package hostname

import (
	"net"
	"net/url"
	"strings"
)

// ReferrerToPath returns netloc+path of a referrer, dropping scheme, query
// and fragment. Unparseable input yields "".
func ReferrerToPath(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return u.Host + u.Path
}

// ReferrerToBaseURL returns scheme://netloc of a referrer, or "" when it
// carries no absolute URL.
func ReferrerToBaseURL(ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// RemoveWWW strips a leading "www.".
func RemoveWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}

// SitewideRoot is the binding stored for a sitewide form created from a site
// URL: the bare domain without "www." or path.
func SitewideRoot(siteURL string) string {
	siteURL = strings.TrimSpace(siteURL)
	if !strings.Contains(siteURL, "://") {
		siteURL = "http://" + siteURL
	}
	u, err := url.Parse(siteURL)
	if err != nil {
		return ""
	}
	return RemoveWWW(strings.ToLower(u.Host))
}

// Matches reports whether a submission from host satisfies a form bound to
// bound. Plain forms need the same host modulo a trailing slash. Sitewide
// forms accept any page under the bound domain, with or without "www.".
func Matches(bound string, sitewide bool, host string) bool {
	if !sitewide {
		return strings.TrimRight(bound, "/") == strings.TrimRight(host, "/")
	}
	b := RemoveWWW(strings.TrimRight(bound, "/"))
	h := RemoveWWW(host)
	if b == "" || !strings.HasPrefix(h, b) {
		return false
	}
	// "example.com" must not admit "example.com.evil.org".
	rest := h[len(b):]
	return rest == "" || rest[0] == '/' || rest[0] == ':'
}

// URLDomain returns the last two labels of a URL's hostname.
func URLDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := strings.ToLower(u.Hostname())
	if net.ParseIP(name) != nil {
		return name
	}
	labels := strings.Split(name, ".")
	if len(labels) <= 2 {
		return name
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// IsServiceDomain reports whether host (as produced by ReferrerToPath)
// belongs to the domain the service itself runs on.
func IsServiceDomain(serviceURL, host string) bool {
	d := URLDomain(serviceURL)
	if d == "" {
		return false
	}
	name := host
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	if h, _, err := net.SplitHostPort(name); err == nil {
		name = h
	}
	name = strings.ToLower(name)
	return name == d || strings.HasSuffix(name, "."+d)
}
