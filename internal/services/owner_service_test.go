package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/repo"
)

func boolp(b bool) *bool { return &b }

func TestOwnerCreateForm_RequiresDashboard(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "free@example.com", "free")

	_, _, err := e.Owners.CreateForm(context.Background(), u.ID, CreateFormInput{Email: "free@example.com"}, "")
	if !errors.Is(err, ErrFeatureRequired) {
		t.Fatalf("want ErrFeatureRequired, got %v", err)
	}
	if _, _, err := e.Owners.CreateForm(context.Background(), 999, CreateFormInput{Email: "x@example.com"}, ""); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestOwnerCreateForm_VerifiedAddressIsActive(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "gold@example.com", "gold")

	f, replayed, err := e.Owners.CreateForm(context.Background(), u.ID, CreateFormInput{Email: "Gold@Example.com", URL: "https://www.site.test/contact", Sitewide: true}, "")
	if err != nil || replayed {
		t.Fatalf("create: %v replayed=%v", err, replayed)
	}
	if f.State != domain.StateActive || f.Host != "site.test" || !f.Sitewide || !f.IsDashboard() {
		t.Fatalf("form = %+v", f)
	}
	if e.Mail.Count() != 0 {
		t.Fatalf("verified address must not get a confirmation email")
	}
}

func TestOwnerCreateForm_OtherAddressNeedsConfirmation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")

	f, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "team@example.com", URL: "http://site.test/contact/"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.State != domain.StatePending || f.Host != "site.test/contact" {
		t.Fatalf("form = %+v", f)
	}
	msg := e.Mail.Last()
	token := e.Keys.ConfirmationToken(f)
	if msg.To[0] != "team@example.com" || !strings.Contains(msg.Text, "/confirm/"+token) {
		t.Fatalf("confirmation email = %+v", msg)
	}

	got, replay, err := e.Confirms.Confirm(ctx, token)
	if err != nil || replay != nil || got.State != domain.StateActive {
		t.Fatalf("confirm: %+v %v %v", got, replay, err)
	}
}

func TestOwnerCreateForm_SitewideNeedsVerificationFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")

	_, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "team@example.com", URL: "https://www.site.test/about", Sitewide: true}, "")
	var unverified *SitewideUnverifiedError
	if !errors.Is(err, ErrSitewideUnverified) || !errors.As(err, &unverified) {
		t.Fatalf("unlisted email: %v", err)
	}
	if unverified.FileURL != "https://www.site.test/formrelay-verify.txt" {
		t.Fatalf("file url = %q", unverified.FileURL)
	}
	if n, _ := repo.CountFormsByOwner(ctx, e.DB, u.ID); n != 0 {
		t.Fatalf("forms = %d", n)
	}

	e.Sites.err = errors.New("connection refused")
	if _, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "gold@example.com", URL: "https://site.test", Sitewide: true}, ""); !errors.Is(err, ErrSitewideUnverified) {
		t.Fatalf("fetch error: %v", err)
	}
	e.Sites.err = nil

	if _, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "gold@example.com", Sitewide: true}, ""); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("sitewide without url: %v", err)
	}

	calls := e.Sites.calls
	if _, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "team@example.com", URL: "https://site.test/contact"}, ""); err != nil {
		t.Fatalf("page form: %v", err)
	}
	if e.Sites.calls != calls {
		t.Fatal("page-bound forms must not be verified")
	}

	e.Owners.Sites = nil
	if _, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "gold@example.com", URL: "https://site.test", Sitewide: true}, ""); !errors.Is(err, ErrSitewideUnverified) {
		t.Fatalf("no verifier: %v", err)
	}
}

func TestOwnerCheckSitewide(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")
	free := e.user(t, "free@example.com", "free")

	file, ok, err := e.Owners.CheckSitewide(ctx, u.ID, "http://site.test/a/b", "Gold@Example.com")
	if err != nil || !ok || file != "http://site.test/formrelay-verify.txt" {
		t.Fatalf("listed: %q %v %v", file, ok, err)
	}
	if _, ok, err := e.Owners.CheckSitewide(ctx, u.ID, "http://site.test", "team@example.com"); err != nil || ok {
		t.Fatalf("unlisted: %v %v", ok, err)
	}
	if _, _, err := e.Owners.CheckSitewide(ctx, u.ID, "site.test", "gold@example.com"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("bad url: %v", err)
	}
	if _, _, err := e.Owners.CheckSitewide(ctx, free.ID, "http://site.test", "free@example.com"); !errors.Is(err, ErrFeatureRequired) {
		t.Fatalf("free plan: %v", err)
	}
}

func TestOwnerCreateForm_Validation(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "gold@example.com", "gold")
	ctx := context.Background()

	if _, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "nope"}, ""); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("bad email: %v", err)
	}
	if _, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "gold@example.com", URL: "site.test/x"}, ""); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("relative url: %v", err)
	}
}

func TestOwnerCreateForm_IdempotencyKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")
	in := CreateFormInput{Email: "gold@example.com"}

	f1, replayed, err := e.Owners.CreateForm(ctx, u.ID, in, "key-1")
	if err != nil || replayed {
		t.Fatalf("first: %v %v", err, replayed)
	}
	f2, replayed, err := e.Owners.CreateForm(ctx, u.ID, in, "key-1")
	if err != nil || !replayed || f2.ID != f1.ID {
		t.Fatalf("replay: id=%d replayed=%v err=%v", f2.ID, replayed, err)
	}
	f3, replayed, err := e.Owners.CreateForm(ctx, u.ID, in, "key-2")
	if err != nil || replayed || f3.ID == f1.ID {
		t.Fatalf("new key: id=%d replayed=%v err=%v", f3.ID, replayed, err)
	}
	if n, _ := repo.CountFormsByOwner(ctx, e.DB, u.ID); n != 2 {
		t.Fatalf("forms = %d", n)
	}

	// Normalization does not change the fingerprint.
	if _, replayed, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: " GOLD@example.com "}, "key-1"); err != nil || !replayed {
		t.Fatalf("normalized replay: %v %v", err, replayed)
	}
	if _, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "other@example.com"}, "key-1"); !errors.Is(err, ErrIdempotencyMismatch) {
		t.Fatalf("reused key: %v", err)
	}
}

func TestOwnerCreateForm_IdempotencyKeyAfterDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")
	in := CreateFormInput{Email: "gold@example.com"}

	f1, _, err := e.Owners.CreateForm(ctx, u.ID, in, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Owners.DeleteForm(ctx, u.ID, e.Keys.EncodeID(f1.ID)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f2, replayed, err := e.Owners.CreateForm(ctx, u.ID, in, "key-1")
	if err != nil || replayed || f2.ID == f1.ID {
		t.Fatalf("retry after delete: id=%d replayed=%v err=%v", f2.ID, replayed, err)
	}
	if _, replayed, _ := e.Owners.CreateForm(ctx, u.ID, in, "key-1"); !replayed {
		t.Fatal("key should be bound to the new form")
	}
}

func TestOwner_ListAndAuthorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.user(t, "gold@example.com", "gold")
	stranger := e.user(t, "other@example.com", "gold")

	var last *domain.Form
	for i := 0; i < 3; i++ {
		f, _, err := e.Owners.CreateForm(ctx, owner.ID, CreateFormInput{Email: "gold@example.com"}, "")
		if err != nil {
			t.Fatal(err)
		}
		last = f
	}
	items, total, err := e.Owners.ListForms(ctx, owner.ID, 1, 2)
	if err != nil || total != 3 || len(items) != 2 || items[0].ID != last.ID {
		t.Fatalf("list: total=%d items=%d err=%v", total, len(items), err)
	}
	items, total, _ = e.Owners.ListForms(ctx, stranger.ID, 1, 20)
	if total != 0 || len(items) != 0 {
		t.Fatalf("stranger sees %d forms", total)
	}

	hid := e.Keys.EncodeID(last.ID)
	if _, err := e.Owners.GetForm(ctx, stranger.ID, hid); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger get: %v", err)
	}
	if _, err := e.Owners.GetForm(ctx, owner.ID, "zzzzzz"); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("bad hashid: %v", err)
	}

	// a verified address equal to the form's email also grants control
	if err := repo.AddEmail(ctx, e.DB, stranger.ID, "gold@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Owners.GetForm(ctx, stranger.ID, hid); err != nil {
		t.Fatalf("co-controller get: %v", err)
	}
}

func TestOwner_MonthlyCountAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")

	f, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "gold@example.com", URL: "https://site.test/contact"}, "")
	if err != nil {
		t.Fatal(err)
	}
	hid := e.Keys.EncodeID(f.ID)
	for i := 0; i < 2; i++ {
		if _, res := e.submit(t, hid, "https://site.test/contact", false, fields("msg", "hi")); res.Outcome != OutcomeSent {
			t.Fatalf("submit #%d: %+v", i, res)
		}
	}
	if n, err := e.Owners.MonthlyCount(ctx, f.ID); err != nil || n != 2 {
		t.Fatalf("monthly count = %d, %v", n, err)
	}

	if err := e.Owners.DeleteForm(ctx, u.ID, hid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := e.Pipeline.Counter.Get(ctx, f.ID); n != 0 {
		t.Fatalf("counter survives delete: %d", n)
	}

	e.Owners.Counter = nil
	if n, err := e.Owners.MonthlyCount(ctx, f.ID); err != nil || n != 0 {
		t.Fatalf("without counter: %d %v", n, err)
	}
}

func TestOwner_UpdateForm(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")
	f, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "gold@example.com"}, "")
	if err != nil {
		t.Fatal(err)
	}
	hid := e.Keys.EncodeID(f.ID)

	got, err := e.Owners.UpdateForm(ctx, u.ID, hid, FormUpdate{Disabled: boolp(true), CaptchaDisabled: boolp(true), DisableStorage: boolp(true)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.State != domain.StateDisabled || !got.CaptchaDisabled || !got.DisableStorage {
		t.Fatalf("updated = %+v", got)
	}
	stored := e.reload(t, f.ID)
	if stored.State != domain.StateDisabled || !stored.CaptchaDisabled || !stored.DisableStorage || stored.DisableEmail {
		t.Fatalf("stored = %+v", stored)
	}

	if got, err = e.Owners.UpdateForm(ctx, u.ID, hid, FormUpdate{Disabled: boolp(false)}); err != nil || got.State != domain.StateActive {
		t.Fatalf("enable: %+v %v", got, err)
	}
}

func TestOwner_UpdateForm_StateAndFeatureChecks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gold := e.user(t, "gold@example.com", "gold")
	f, _, err := e.Owners.CreateForm(ctx, gold.ID, CreateFormInput{Email: "team@example.com"}, "")
	if err != nil {
		t.Fatal(err)
	}
	hid := e.Keys.EncodeID(f.ID)

	if _, err := e.Owners.UpdateForm(ctx, gold.ID, hid, FormUpdate{Disabled: boolp(true)}); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("disabling a pending form: %v", err)
	}

	// a free co-controller may not toggle dashboard-only settings
	free := e.user(t, "team@example.com", "free")
	if _, err := e.Owners.UpdateForm(ctx, free.ID, hid, FormUpdate{DisableEmail: boolp(true)}); !errors.Is(err, ErrFeatureRequired) {
		t.Fatalf("free toggling email: %v", err)
	}
	if _, err := e.Owners.UpdateForm(ctx, free.ID, hid, FormUpdate{DisableStorage: boolp(true)}); err != nil {
		t.Fatalf("free toggling storage: %v", err)
	}
}

func TestOwner_SubmissionsAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")
	f, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "gold@example.com", URL: "http://site.test/contact"}, "")
	if err != nil {
		t.Fatal(err)
	}
	hid := e.Keys.EncodeID(f.ID)
	for i := 0; i < 3; i++ {
		e.submit(t, hid, "http://site.test/contact", false, fields("n", "x"))
	}

	items, total, err := e.Owners.ListSubmissions(ctx, u.ID, hid, 1, 2)
	if err != nil || total != 3 || len(items) != 2 {
		t.Fatalf("list: total=%d len=%d err=%v", total, len(items), err)
	}
	if err := e.Owners.DeleteSubmission(ctx, u.ID, hid, items[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := e.Owners.DeleteSubmission(ctx, u.ID, hid, items[0].ID); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("delete twice: %v", err)
	}
	if got := e.reload(t, f.ID); got.Counter != 2 {
		t.Fatalf("counter = %d", got.Counter)
	}

	if err := e.Owners.DeleteForm(ctx, u.ID, hid); err != nil {
		t.Fatalf("delete form: %v", err)
	}
	if _, err := e.Owners.GetForm(ctx, u.ID, hid); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}

func TestOwner_SearchSubmissions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "gold@example.com", "gold")
	f, _, err := e.Owners.CreateForm(ctx, u.ID, CreateFormInput{Email: "gold@example.com", URL: "http://site.test/contact"}, "")
	if err != nil {
		t.Fatal(err)
	}
	hid := e.Keys.EncodeID(f.ID)
	e.submit(t, hid, "http://site.test/contact", false, fields("message", "question about invoices"))
	e.submit(t, hid, "http://site.test/contact", false, fields("message", "hello there"))

	hits, err := e.Owners.SearchSubmissions(ctx, u.ID, hid, "Invoices", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Data.Get("message") != "question about invoices" {
		t.Fatalf("hits = %+v", hits)
	}

	other := e.user(t, "other@example.com", "gold")
	if _, err := e.Owners.SearchSubmissions(ctx, other.ID, hid, "hello", 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign search: %v", err)
	}
}

func TestOwner_Templates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gold := e.user(t, "gold@example.com", "gold")
	f, _, err := e.Owners.CreateForm(ctx, gold.ID, CreateFormInput{Email: "gold@example.com"}, "")
	if err != nil {
		t.Fatal(err)
	}
	hid := e.Keys.EncodeID(f.ID)

	if _, err := e.Owners.PutTemplate(ctx, gold.ID, hid, domain.EmailTemplate{Body: "hi"}); !errors.Is(err, ErrFeatureRequired) {
		t.Fatalf("gold template: %v", err)
	}

	if err := e.DB.Model(gold).Update("plan", "platinum").Error; err != nil {
		t.Fatal(err)
	}
	tpl, err := e.Owners.PutTemplate(ctx, gold.ID, hid, domain.EmailTemplate{Subject: "s", Body: "hi"})
	if err != nil || tpl.FormID != f.ID {
		t.Fatalf("put: %+v %v", tpl, err)
	}
	if _, err := e.Owners.PutTemplate(ctx, gold.ID, hid, domain.EmailTemplate{Subject: "s2", Body: "hello"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	stored, err := repo.GetTemplate(ctx, e.DB, f.ID)
	if err != nil || stored.Subject != "s2" {
		t.Fatalf("stored = %+v %v", stored, err)
	}
	if err := e.Owners.DeleteTemplate(ctx, gold.ID, hid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := e.Owners.DeleteTemplate(ctx, gold.ID, hid); err != nil {
		t.Fatalf("delete twice: %v", err)
	}
}

func TestOwner_CreateUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	u, err := e.Owners.CreateUser(ctx, " New@Example.com ", "")
	if err != nil || u.Email != "new@example.com" || u.Plan != "free" {
		t.Fatalf("create: %+v %v", u, err)
	}
	if _, err := e.Owners.CreateUser(ctx, "new@example.com", "gold"); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("duplicate: %v", err)
	}
	if _, err := e.Owners.CreateUser(ctx, "x@example.com", "diamond"); err == nil {
		t.Fatalf("unknown plan accepted")
	}
}
