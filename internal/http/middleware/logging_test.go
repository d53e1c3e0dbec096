package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// lastEntry decodes the last JSON line written to buf.
func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("bad log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if v, ok := c.Get(requestIDKey); !ok || v == "" {
			t.Fatalf("requestID not set in context")
		}
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name, in string
		keep     bool
	}{
		{"absent", "", false},
		{"propagated", "abc-123", true},
		{"spaces rejected", "abc 123", false},
		{"newline rejected", "abc\n{\"level\":\"error\"}", false},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rid", nil)
			if tc.in != "" {
				req.Header[http.CanonicalHeaderKey(requestIDHeader)] = []string{tc.in}
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			got := w.Header().Get(requestIDHeader)
			if got == "" {
				t.Fatal("missing response id")
			}
			if (got == tc.in) != tc.keep {
				t.Fatalf("in=%q out=%q keep=%v", tc.in, got, tc.keep)
			}
		})
	}
}

func TestAccessLog_ScrubsSubmissionTargets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), AccessLog(AccessLogOptions{LogHeaders: true, MaskHeaders: []string{"X-Api-Key"}}))
	r.POST("/:target", func(c *gin.Context) {
		c.Set(FormIDKey, uint(42))
		c.Set(OutcomeKey, "sent")
		c.Status(http.StatusFound)
	})

	req := httptest.NewRequest(http.MethodPost, "/owner@example.com?next=https%3A%2F%2Fx.test%2F%3Fto%3Dbob%40example.com", nil)
	req.Header.Set("Referer", "https://site.test/contact?from=ann@example.com")
	req.Header.Set("Cookie", "session=secret")
	req.Header.Set("X-Api-Key", "k")
	req.RemoteAddr = "203.0.113.77:5555"
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, leak := range []string{"owner@example.com", "bob%40example.com", "ann@example.com", "secret", "203.0.113.77"} {
		if strings.Contains(out, leak) {
			t.Fatalf("log leaked %q: %s", leak, out)
		}
	}
	e := lastEntry(t, buf)
	if e["route"] != "/:target" || e["target_kind"] != "email" || e["outcome"] != "sent" {
		t.Fatalf("entry: %v", e)
	}
	if e["form_id"] != float64(42) || e["remote_ip"] != "203.0.113.0" || e["level"] != "info" {
		t.Fatalf("entry: %v", e)
	}
	hdr, _ := e["headers"].(map[string]any)
	if hdr["Cookie"] != "[REDACTED]" || hdr["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("headers: %v", hdr)
	}
}

func TestAccessLog_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), AccessLog(AccessLogOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/err", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
		c.Status(http.StatusOK)
	})

	for path, want := range map[string]string{"/warn": "warn", "/fail": "error", "/err": "error"} {
		buf.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		e := lastEntry(t, buf)
		if e["level"] != want {
			t.Fatalf("%s: level=%v want %s", path, e["level"], want)
		}
		if _, ok := e["errors"]; ok != (path == "/err") {
			t.Fatalf("%s: errors field present=%v", path, ok)
		}
	}
}

func TestAccessLog_UnmatchedPathAndRawMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(AccessLog(AccessLogOptions{}))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a/b@example.com/c", nil))
	if got := lastEntry(t, buf)["route"]; got != "/a/[REDACTED:email]/c" {
		t.Fatalf("route = %v", got)
	}

	buf.Reset()
	raw := gin.New()
	raw.Use(AccessLog(AccessLogOptions{Raw: true}))
	req := httptest.NewRequest(http.MethodGet, "/a/b@example.com/c", nil)
	req.RemoteAddr = "198.51.100.9:1"
	raw.ServeHTTP(httptest.NewRecorder(), req)
	e := lastEntry(t, buf)
	if e["route"] != "/a/b@example.com/c" || e["remote_ip"] != "198.51.100.9" {
		t.Fatalf("raw entry: %v", e)
	}
}

func TestAccessLog_ScopedLoggerReachesContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), AccessLog(AccessLogOptions{}))
	r.GET("/x", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("from service")
		LoggerFrom(c).Info().Msg("from handler")
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "rid-7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 lines, got %d: %s", len(lines), buf.String())
	}
	for _, l := range lines[:2] {
		if !strings.Contains(l, `"request_id":"rid-7"`) {
			t.Fatalf("scoped line lacks request id: %s", l)
		}
	}
}

func TestLoggerFrom_Fallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatal("nil fallback logger")
	}
	c.Set("logger", "not a logger")
	if LoggerFrom(c) == nil {
		t.Fatal("nil fallback logger for wrong type")
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), AccessLog(AccessLogOptions{}), Recovery())
	r.GET("/panic", func(*gin.Context) { panic("kaboom") })
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != w.Header().Get(requestIDHeader) {
		t.Fatalf("body: %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") || !strings.Contains(buf.String(), `"route":"/panic"`) {
		t.Fatalf("panic not logged: %s", buf.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
	if w.Body.String() != "partial" {
		t.Fatalf("late panic rewrote body: %q", w.Body.String())
	}
}

func TestHelpers(t *testing.T) {
	if asString(5) != "" || asString("x") != "x" {
		t.Fatal("asString")
	}
	if truncate("abcdef", 3) != "abc…" || truncate("abc", 0) != "abc" {
		t.Fatal("truncate")
	}
	for in, want := range map[string]string{
		"":              "",
		"abc":           "hashid",
		"a@example.com": "email",
	} {
		if got := targetKind(in); got != want {
			t.Fatalf("targetKind(%q) = %q", in, got)
		}
	}
	for in, want := range map[string]string{
		"10.1.2.3":       "10.1.2.0",
		"2001:db8::1":    "2001:db8::",
		"not-an-ip":      "",
		"::ffff:1.2.3.4": "1.2.3.0",
	} {
		if got := anonymizeIP(in); got != want {
			t.Fatalf("anonymizeIP(%q) = %q want %q", in, got, want)
		}
	}
	if got := scrub("id 123e4567-e89b-12d3-a456-426614174000 call +1 212-555-1212"); strings.Contains(got, "4567") || strings.Contains(got, "555") {
		t.Fatalf("scrub: %s", got)
	}
}
