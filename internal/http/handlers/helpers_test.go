package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/services"
)

// ---------- stubs ----------

type stubResolver struct {
	form *domain.Form
	err  error
	got  services.Target
}

func (s *stubResolver) Resolve(_ context.Context, t services.Target) (*domain.Form, error) {
	s.got = t
	return s.form, s.err
}

type stubAdmitter struct {
	res   services.Result
	err   error
	got   services.Submission
	calls int
}

func (s *stubAdmitter) Admit(_ context.Context, _ *domain.Form, sub services.Submission) (services.Result, error) {
	s.calls++
	s.got = sub
	return s.res, s.err
}

type stubNonces struct {
	host, referrer string
	found          bool
	taken          string
}

func (s *stubNonces) Take(_ context.Context, nonce string) (string, string, bool, error) {
	s.taken = nonce
	return s.host, s.referrer, s.found, nil
}

type stubConfirms struct {
	form     *domain.Form
	replay   *services.Result
	err      error
	siblings []domain.Form
	manyN    int
	manyArgs struct {
		email string
		ids   []uint
	}
}

func (s *stubConfirms) Confirm(context.Context, string) (*domain.Form, *services.Result, error) {
	return s.form, s.replay, s.err
}

func (s *stubConfirms) Unsubscribe(context.Context, string, string) (*domain.Form, error) {
	return s.form, s.err
}

func (s *stubConfirms) RequestUnsubscribe(context.Context, string, string) (*domain.Form, error) {
	return s.form, s.err
}

func (s *stubConfirms) FormsSharingEmail(context.Context, *domain.Form) ([]domain.Form, error) {
	return s.siblings, nil
}

func (s *stubConfirms) UnsubscribeMany(_ context.Context, email string, ids []uint) (int, error) {
	s.manyArgs.email, s.manyArgs.ids = email, ids
	return s.manyN, nil
}

type stubOwners struct {
	form     *domain.Form
	forms    []domain.Form
	subs     []domain.Submission
	total    int64
	replayed bool
	err      error
	version  time.Time

	created services.CreateFormInput
	idemKey string
	update  services.FormUpdate
	tpl     domain.EmailTemplate
	lists   int

	query       string
	searchLimit int

	sitewideOK   bool
	sitewideFile string
	siteURL      string
	monthly      int64
	monthlyErr   error
}

func (s *stubOwners) CreateForm(_ context.Context, _ uint, in services.CreateFormInput, key string) (*domain.Form, bool, error) {
	s.created, s.idemKey = in, key
	return s.form, s.replayed, s.err
}

func (s *stubOwners) ListForms(context.Context, uint, int, int) ([]domain.Form, int64, error) {
	s.lists++
	return s.forms, s.total, s.err
}

func (s *stubOwners) GetForm(context.Context, uint, string) (*domain.Form, error) {
	return s.form, s.err
}

func (s *stubOwners) UpdateForm(_ context.Context, _ uint, _ string, upd services.FormUpdate) (*domain.Form, error) {
	s.update = upd
	return s.form, s.err
}

func (s *stubOwners) DeleteForm(context.Context, uint, string) error { return s.err }

func (s *stubOwners) ListSubmissions(context.Context, uint, string, int, int) ([]domain.Submission, int64, error) {
	s.lists++
	return s.subs, s.total, s.err
}

func (s *stubOwners) SearchSubmissions(_ context.Context, _ uint, _ string, q string, limit int) ([]domain.Submission, error) {
	s.query, s.searchLimit = q, limit
	return s.subs, s.err
}

func (s *stubOwners) DeleteSubmission(context.Context, uint, string, uint) error { return s.err }

func (s *stubOwners) PutTemplate(_ context.Context, _ uint, _ string, t domain.EmailTemplate) (*domain.EmailTemplate, error) {
	s.tpl = t
	return &t, s.err
}

func (s *stubOwners) DeleteTemplate(context.Context, uint, string) error { return s.err }

func (s *stubOwners) FormsVersion(context.Context, uint) (int64, *time.Time, error) {
	return s.total, &s.version, nil
}

func (s *stubOwners) SubmissionsVersion(context.Context, uint, string) (int64, *time.Time, error) {
	if s.err != nil {
		return 0, nil, s.err
	}
	return s.total, &s.version, nil
}

func (s *stubOwners) CheckSitewide(_ context.Context, _ uint, siteURL, _ string) (string, bool, error) {
	s.siteURL = siteURL
	return s.sitewideFile, s.sitewideOK, s.err
}

func (s *stubOwners) MonthlyCount(context.Context, uint) (int64, error) {
	return s.monthly, s.monthlyErr
}

// ---------- fixtures ----------

type fixture struct {
	resolver *stubResolver
	admitter *stubAdmitter
	nonces   *stubNonces
	confirms *stubConfirms
	owners   *stubOwners
	keys     *identity.Keyring
	cookies  *securecookie.SecureCookie
	h        *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	keys, err := identity.NewKeyring("nonce-secret", "secret-key", "salt")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	f := &fixture{
		resolver: &stubResolver{form: &domain.Form{ID: 1, Email: "owner@example.com", Host: "example.com/contact", State: domain.StateActive}},
		admitter: &stubAdmitter{},
		nonces:   &stubNonces{},
		confirms: &stubConfirms{},
		owners:   &stubOwners{},
		keys:     keys,
		cookies:  securecookie.New([]byte("0123456789abcdef0123456789abcdef"), nil),
	}
	f.h = New(Deps{
		Resolver:      f.resolver,
		Admitter:      f.admitter,
		Confirmations: f.confirms,
		Owners:        f.owners,
		HostNonces:    f.nonces,
		Keys:          keys,
		Cookies:       f.cookies,
		ServiceURL:    "https://formrelay.test",
		ServiceName:   "FormRelay",
		RecaptchaKey:  "site-key",
	})
	return f
}

// router mounts the public routes and, behind a fake auth step for user 7,
// the owner API.
func (f *fixture) router() *gin.Engine {
	r := gin.New()
	r.POST("/:target", f.h.Submit)
	r.GET("/:target", f.h.SubmitGet)
	r.GET("/confirm/:token", f.h.Confirm)
	r.GET("/unconfirm/:id", f.h.RequestUnconfirm)
	r.GET("/unconfirm/:id/:digest", f.h.UnconfirmPage)
	r.POST("/unconfirm/:id/:digest", f.h.UnconfirmOneClick)
	r.POST("/unconfirm/multiple", f.h.UnconfirmMultiple)
	r.GET("/thanks", f.h.Thanks)

	api := r.Group("/api/v1", func(c *gin.Context) {
		if c.GetHeader("X-Test-Anonymous") == "" {
			c.Set("userID", uint(7))
		}
		if k := c.GetHeader("Idempotency-Key"); k != "" {
			c.Set("idem.key", k)
		}
		c.Next()
	})
	api.POST("/forms", f.h.CreateForm)
	api.POST("/forms/sitewide-check", f.h.SitewideCheck)
	api.GET("/forms", f.h.ListForms)
	api.GET("/forms/:hashid", f.h.GetForm)
	api.PATCH("/forms/:hashid", f.h.UpdateForm)
	api.DELETE("/forms/:hashid", f.h.DeleteForm)
	api.GET("/forms/:hashid/submissions", f.h.ListSubmissions)
	api.DELETE("/forms/:hashid/submissions/:id", f.h.DeleteSubmission)
	api.PUT("/forms/:hashid/template", f.h.PutTemplate)
	api.DELETE("/forms/:hashid/template", f.h.DeleteTemplate)
	return r
}

func do(r http.Handler, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func form(body string) io.Reader { return strings.NewReader(body) }

var (
	browser = map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "text/html,application/xhtml+xml,*/*;q=0.8",
		"Referer":      "https://example.com/contact",
	}
	script = map[string]string{
		"Content-Type":     "application/x-www-form-urlencoded",
		"Accept":           "application/json",
		"X-Requested-With": "XMLHttpRequest",
		"Referer":          "https://example.com/contact",
	}
)

func with(base map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			delete(out, kv[i])
			continue
		}
		out[kv[i]] = kv[i+1]
	}
	return out
}
