package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/formrelay/formrelay/internal/domain"
)

func TestResolve_EmailTarget_CreatesOnceAndNormalizesHost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	f1, err := e.Resolver.Resolve(ctx, Target{Token: "Owner@Example.com", Host: "site.test/contact", Referrer: "http://site.test/contact"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if f1.Email != "owner@example.com" || f1.Host != "site.test/contact" || f1.State != domain.StateNew {
		t.Fatalf("unexpected form: %+v", f1)
	}
	if f1.UsesAjax == nil || *f1.UsesAjax {
		t.Fatalf("calling convention not pinned to non-ajax: %v", f1.UsesAjax)
	}

	f2, err := e.Resolver.Resolve(ctx, Target{Token: "owner@example.com", Host: "site.test/contact/", Referrer: "http://site.test/contact/"})
	if err != nil {
		t.Fatalf("resolve with slash: %v", err)
	}
	if f2.ID != f1.ID {
		t.Fatalf("trailing slash produced a second form: %d vs %d", f2.ID, f1.ID)
	}

	f3, err := e.Resolver.Resolve(ctx, Target{Token: "owner@example.com", Host: "site.test/other"})
	if err != nil {
		t.Fatalf("resolve other page: %v", err)
	}
	if f3.ID == f1.ID {
		t.Fatalf("different page must be a different form")
	}
}

func TestResolve_InvalidTargets(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := []Target{
		{Token: "owner@example.com", Host: ""},
		{Token: "not-an-email-or-id!", Host: "site.test"},
		{Token: e.Keys.EncodeID(999), Host: "site.test"},
	}
	for _, tc := range cases {
		if _, err := e.Resolver.Resolve(ctx, tc); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("%+v: want ErrInvalidTarget, got %v", tc, err)
		}
	}
}

func TestResolve_SpoofCheckedBeforeAjaxCreation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.Resolver.Resolve(ctx, Target{Token: "a@example.com", Host: "www.formrelay.test/page", WantsJSON: true})
	if !errors.Is(err, ErrSpoofAttempt) {
		t.Fatalf("want ErrSpoofAttempt, got %v", err)
	}

	_, err = e.Resolver.Resolve(ctx, Target{Token: "a@example.com", Host: "site.test/page", WantsJSON: true})
	if !errors.Is(err, ErrAjaxFormCreationForbidden) {
		t.Fatalf("want ErrAjaxFormCreationForbidden, got %v", err)
	}

	e.Resolver.AllowAjaxCreation = true
	f, err := e.Resolver.Resolve(ctx, Target{Token: "a@example.com", Host: "site.test/page", WantsJSON: true})
	if err != nil {
		t.Fatalf("ajax creation allowed: %v", err)
	}
	if f.UsesAjax == nil || !*f.UsesAjax {
		t.Fatalf("ajax convention not pinned")
	}
}

func TestResolve_ExistingFormAcceptsAjaxWithoutCreation(t *testing.T) {
	e := newEnv(t)
	f := e.activeForm(t, "a@example.com", "http://site.test/page")

	got, err := e.Resolver.Resolve(context.Background(), Target{Token: "a@example.com", Host: "site.test/page", WantsJSON: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != f.ID {
		t.Fatalf("got form %d, want %d", got.ID, f.ID)
	}
}

func TestResolve_Disabled(t *testing.T) {
	e := newEnv(t)
	f := e.activeForm(t, "a@example.com", "http://site.test/page")
	if err := e.DB.Model(f).Update("state", domain.StateDisabled).Error; err != nil {
		t.Fatal(err)
	}

	_, err := e.Resolver.Resolve(context.Background(), Target{Token: "a@example.com", Host: "site.test/page"})
	if !errors.Is(err, ErrFormDisabled) {
		t.Fatalf("email target: want ErrFormDisabled, got %v", err)
	}
	_, err = e.Resolver.Resolve(context.Background(), Target{Token: e.Keys.EncodeID(f.ID), Host: "site.test/page"})
	if !errors.Is(err, ErrFormDisabled) {
		t.Fatalf("id target: want ErrFormDisabled, got %v", err)
	}
}

func TestResolve_HashID_BindsFirstHost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := &domain.Form{Email: "a@example.com", State: domain.StateActive}
	if err := e.DB.Create(f).Error; err != nil {
		t.Fatal(err)
	}
	hid := e.Keys.EncodeID(f.ID)

	got, err := e.Resolver.Resolve(ctx, Target{Token: hid, Host: "site.test/contact/"})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if got.Host != "site.test/contact" {
		t.Fatalf("bound host = %q", got.Host)
	}
	if _, err := e.Resolver.Resolve(ctx, Target{Token: hid, Host: "site.test/contact"}); err != nil {
		t.Fatalf("same host: %v", err)
	}

	_, err = e.Resolver.Resolve(ctx, Target{Token: hid, Host: "evil.test/contact"})
	var mismatch *HostMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("want HostMismatchError, got %v", err)
	}
	if mismatch.Confirmed != "site.test/contact" || mismatch.Submitted != "evil.test/contact" {
		t.Fatalf("mismatch = %+v", mismatch)
	}
}

func TestResolve_HashID_Sitewide(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := &domain.Form{Email: "a@example.com", Sitewide: true, State: domain.StateActive}
	if err := e.DB.Create(f).Error; err != nil {
		t.Fatal(err)
	}
	hid := e.Keys.EncodeID(f.ID)

	got, err := e.Resolver.Resolve(ctx, Target{Token: hid, Host: "www.site.test/contact"})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if got.Host != "site.test" {
		t.Fatalf("sitewide binding = %q", got.Host)
	}

	for _, h := range []string{"site.test/", "site.test/about/team", "www.site.test/blog"} {
		if _, err := e.Resolver.Resolve(ctx, Target{Token: hid, Host: h}); err != nil {
			t.Fatalf("%s: %v", h, err)
		}
	}
	for _, h := range []string{"site.test.evil.org/x", "other.test"} {
		if _, err := e.Resolver.Resolve(ctx, Target{Token: hid, Host: h}); err == nil {
			t.Fatalf("%s: expected mismatch", h)
		}
	}
}

func TestResolve_ConcurrentFirstSubmissions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	const n = 8
	ids := make([]uint, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := e.Resolver.Resolve(ctx, Target{Token: "race@example.com", Host: "site.test/race"})
			errs[i] = err
			if f != nil {
				ids[i] = f.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolve %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("resolve %d returned form %d, want %d", i, ids[i], ids[0])
		}
	}
	var count int64
	e.DB.Model(&domain.Form{}).Count(&count)
	if count != 1 {
		t.Fatalf("forms = %d, want 1", count)
	}
}
