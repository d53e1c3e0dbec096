// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the response hardening. SecurityHeaders runs on every
// route; ContentSecurityPolicy runs only on the HTML-serving public routes,
// where it issues a per-request script nonce for the page templates. The
// swagger UI is left without a policy since it ships inline scripts of its own.
package middleware

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests. Set it only
	// when traffic is HTTPS end to end.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days.
	HSTSMaxAge time.Duration
	// NoStorePrefixes marks responses under these path prefixes
	// Cache-Control: no-store. Confirmation and unsubscribe URLs carry
	// tokens and must not be cached by intermediaries.
	NoStorePrefixes []string
}

// SecurityHeaders sets nosniff, DENY framing, no-referrer, a restrictive
// Permissions-Policy and, when configured, HSTS and no-store. It also exposes
// X-Request-ID to browser clients.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")

		for _, p := range opt.NoStorePrefixes {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
				break
			}
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if h.Get(requestIDHeader) != "" {
			const expose = "Access-Control-Expose-Headers"
			switch cur := h.Get(expose); {
			case cur == "":
				h.Set(expose, requestIDHeader)
			case !strings.Contains(cur, requestIDHeader):
				h.Set(expose, cur+", "+requestIDHeader)
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS, directly or through
// a proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

const cspNonceKey = "csp.nonce"

// reCAPTCHA loads its script from these origins and renders its widget in a
// frame.
var (
	recaptchaScripts = []string{"https://www.google.com/recaptcha/", "https://www.gstatic.com/recaptcha/"}
	recaptchaFrames  = []string{"https://www.google.com/recaptcha/", "https://recaptcha.google.com/recaptcha/"}
)

// ContentSecurityPolicy sets a policy for the service's own HTML pages:
// scripts only from reCAPTCHA or carrying the request nonce, forms posting
// back to the service, no framing. Read the nonce with CSPNonce.
func ContentSecurityPolicy() gin.HandlerFunc {
	return func(c *gin.Context) {
		nonce, err := newNonce()
		if err != nil {
			LoggerFrom(c).Error().Err(err).Msg("csp nonce")
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(cspNonceKey, nonce)
		c.Header("Content-Security-Policy", cspFor(nonce))
		c.Next()
	}
}

func cspFor(nonce string) string {
	directives := []string{
		"default-src 'none'",
		"script-src 'nonce-" + nonce + "' " + strings.Join(recaptchaScripts, " "),
		"frame-src " + strings.Join(recaptchaFrames, " "),
		"style-src 'unsafe-inline'",
		"img-src 'self' data:",
		"form-action 'self'",
		"frame-ancestors 'none'",
		"base-uri 'none'",
	}
	return strings.Join(directives, "; ")
}

// CSPNonce returns the nonce ContentSecurityPolicy issued for this request,
// or "" when the policy is not installed.
func CSPNonce(c *gin.Context) string {
	return c.GetString(cspNonceKey)
}

func newNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
