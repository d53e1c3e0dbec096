// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file covers request correlation and access logging. Submission
// targets are email addresses, so paths, query strings and header values are
// scrubbed before they are logged unless the logger runs in raw mode, which
// is meant for local debugging only.
//
// Handlers enrich the access log entry by setting FormIDKey and OutcomeKey
// on the Gin context; the request-scoped logger is stored under "logger" and
// attached to the request context so services can use zerolog.Ctx.
//
// Order: RequestID, AccessLog, Recovery.
package middleware

import (
	"net"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	// FormIDKey holds the numeric id of the form a request touched.
	FormIDKey = "log.form_id"
	// OutcomeKey holds the submission outcome reported by the pipeline.
	OutcomeKey = "log.outcome"

	maxQueryLogLength = 512
	maxRequestIDLen   = 128
)

// RequestID reuses an incoming X-Request-ID when it looks sane and otherwise
// generates a UUIDv4. The id is echoed on the response and stored in the Gin
// context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// validRequestID accepts short printable ASCII ids without spaces, which
// keeps forged headers from injecting into log lines.
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// Raw logs paths, queries and client IPs verbatim.
	Raw bool
	// LogHeaders adds the (scrubbed) request headers to every entry.
	LogHeaders bool
	// MaskHeaders are replaced with "[REDACTED]" in addition to
	// Authorization, Cookie and Set-Cookie.
	MaskHeaders []string
}

var (
	// UUIDs go first so the phone pattern cannot eat their digit groups.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+(@|%40)[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// scrub masks ids, email addresses (plain or percent-encoded) and phone
// numbers.
func scrub(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// AccessLog writes one structured entry per request at info, warn (4xx) or
// error (5xx or Gin errors) level.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}
	clean := scrub
	if opts.Raw {
		clean = func(s string) string { return s }
	}

	return func(c *gin.Context) {
		start := time.Now()
		rid, _ := c.Get(requestIDKey)

		route := c.FullPath()
		if route == "" {
			route = clean(c.Request.URL.Path)
		}
		ip := c.ClientIP()
		if !opts.Raw {
			ip = anonymizeIP(ip)
		}

		scoped := log.With().Str("request_id", asString(rid)).Logger()
		c.Set("logger", &scoped)
		c.Request = c.Request.WithContext(scoped.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		if kind := targetKind(c.Param("target")); kind != "" {
			ev = ev.Str("target_kind", kind)
		}
		if v, ok := c.Get(FormIDKey); ok {
			if id, ok := v.(uint); ok {
				ev = ev.Uint("form_id", id)
			}
		}
		if v, ok := c.Get(OutcomeKey); ok {
			ev = ev.Str("outcome", asString(v))
		}
		if uid, ok := userIDFromCtx(c); ok {
			ev = ev.Uint("user_id", uid)
		}
		if opts.LogHeaders {
			hdr := zerolog.Dict()
			for k, vv := range c.Request.Header {
				if _, ok := masked[strings.ToLower(k)]; ok {
					hdr = hdr.Str(k, "[REDACTED]")
					continue
				}
				hdr = hdr.Str(k, clean(strings.Join(vv, ", ")))
			}
			ev = ev.Dict("headers", hdr)
		}

		ev.
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("query", truncate(clean(c.Request.URL.RawQuery), maxQueryLogLength)).
			Str("remote_ip", ip).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("http_request")
	}
}

// targetKind classifies a submission target without logging it.
func targetKind(target string) string {
	switch {
	case target == "":
		return ""
	case strings.Contains(target, "@"):
		return "email"
	default:
		return "hashid"
	}
}

// anonymizeIP zeroes the host part: the last octet of IPv4, the last 80 bits
// of IPv6.
func anonymizeIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(48, 128)).String()
}

// Recovery turns a panic into a JSON 500 carrying the request id, unless the
// response was already started.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("route", c.FullPath()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or a copy of the global one
// when AccessLog did not run.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate cuts s to max bytes plus an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
