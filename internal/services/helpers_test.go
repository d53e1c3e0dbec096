package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/hostname"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/kv"
	"github.com/formrelay/formrelay/internal/mail/mailtest"
	"github.com/formrelay/formrelay/internal/plans"
	"github.com/formrelay/formrelay/internal/quota"
	"github.com/formrelay/formrelay/internal/repo"
	"github.com/formrelay/formrelay/internal/sitecheck"
	"github.com/formrelay/formrelay/internal/tempstate"
)

const testServiceURL = "https://formrelay.test"

// clock is a settable time source shared by every component of an env.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeCaptcha accepts exactly the token "solved".
type fakeCaptcha struct {
	err   error
	calls int
}

func (f *fakeCaptcha) Verify(_ context.Context, token, _ string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return token == "solved", nil
}

type env struct {
	DB       *gorm.DB
	Mail     *mailtest.Recorder
	KV       *kv.Memory
	Keys     *identity.Keyring
	Clock    *clock
	Resolver *Resolver
	Pipeline *Pipeline
	Confirms *Confirmations
	Owners   *OwnerService
	Sites    *fakeSites
}

// fakeSites resolves file URLs like the real verifier and treats the
// addresses in allow as listed on every site.
type fakeSites struct {
	*sitecheck.Verifier
	allow map[string]bool
	err   error
	calls int
}

func (f *fakeSites) Verify(_ context.Context, _, email string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.allow[email], nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newEnv wires the pipeline the way cmd/formrelay does, with in-memory
// collaborators, no CAPTCHA and a clock fixed at 2024-05-10 12:00 UTC.
func newEnv(t *testing.T) *env {
	t.Helper()
	db := newTestDB(t)
	keys, err := identity.NewKeyring("nonce-secret", "secret-key", "hashids-salt")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	clk := &clock{t: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	store := kv.NewMemory()
	rec := &mailtest.Recorder{}
	catalog := plans.Default()

	p := &Pipeline{
		DB:      db,
		Mail:    rec,
		Keys:    keys,
		Counter: &quota.Counter{Store: store, Now: clk.Now},
		Limits: quota.Limits{
			Default:         1000,
			Grandfathered:   1000,
			WarningFraction: 0.9,
			NoticeQuantity:  5,
		},
		Plans:         catalog,
		HostNonces:    &tempstate.HostNonces{KV: store, TTL: time.Hour},
		ServiceURL:    testServiceURL,
		ServiceName:   "Formrelay",
		DefaultSender: "noreply@formrelay.test",
		Now:           clk.Now,
	}
	c := &Confirmations{
		DB:            db,
		Mail:          rec,
		Keys:          keys,
		Replays:       &tempstate.PendingReplays{KV: store, TTL: 7 * 24 * time.Hour, Now: clk.Now},
		Pipeline:      p,
		ServiceURL:    testServiceURL,
		ServiceName:   "Formrelay",
		DefaultSender: "noreply@formrelay.test",
	}
	p.Confirmations = c
	sites := &fakeSites{Verifier: sitecheck.NewVerifier(), allow: map[string]bool{"gold@example.com": true}}
	counter := p.Counter

	return &env{
		DB:       db,
		Mail:     rec,
		KV:       store,
		Keys:     keys,
		Clock:    clk,
		Resolver: &Resolver{DB: db, Keys: keys, ServiceURL: testServiceURL},
		Pipeline: p,
		Confirms: c,
		Owners: &OwnerService{
			DB:             db,
			Keys:           keys,
			Plans:          catalog,
			Confirmations:  c,
			Sites:          sites,
			Counter:        counter,
			IdempotencyTTL: time.Hour,
		},
		Sites: sites,
	}
}

func fields(pairs ...string) domain.Fields {
	var fs domain.Fields
	for i := 0; i+1 < len(pairs); i += 2 {
		fs.Add(pairs[i], pairs[i+1])
	}
	return fs
}

func hostnameOf(referrer string) string { return hostname.ReferrerToPath(referrer) }

// submit resolves and admits one submission from referrer.
func (e *env) submit(t *testing.T, token, referrer string, ajax bool, fs domain.Fields) (*domain.Form, Result) {
	t.Helper()
	ctx := context.Background()
	host := hostnameOf(referrer)
	f, err := e.Resolver.Resolve(ctx, Target{Token: token, Host: host, Referrer: referrer, WantsJSON: ajax})
	if err != nil {
		t.Fatalf("resolve %s from %s: %v", token, referrer, err)
	}
	res, err := e.Pipeline.Admit(ctx, f, Submission{Fields: fs, Host: host, Referrer: referrer, WantsJSON: ajax})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	return f, res
}

// activeForm creates a confirmed spontaneous form for email on referrer.
func (e *env) activeForm(t *testing.T, email, referrer string) *domain.Form {
	t.Helper()
	host := hostnameOf(referrer)
	hash := e.Keys.Hash(email, host)
	f := &domain.Form{Hash: &hash, Email: email, Host: host, State: domain.StateActive}
	if err := e.DB.Create(f).Error; err != nil {
		t.Fatalf("seed form: %v", err)
	}
	return f
}

func (e *env) reload(t *testing.T, id uint) *domain.Form {
	t.Helper()
	f, err := repo.GetFormByID(context.Background(), e.DB, id)
	if err != nil {
		t.Fatalf("reload form %d: %v", id, err)
	}
	return f
}

func (e *env) archived(t *testing.T, id uint) int64 {
	t.Helper()
	n, err := repo.CountSubmissions(context.Background(), e.DB, id)
	if err != nil {
		t.Fatalf("count submissions: %v", err)
	}
	return n
}

func (e *env) user(t *testing.T, email, plan string) *domain.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), e.DB, email, plan)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func quotaLimits(limit int, warn float64, notices int) quota.Limits {
	return quota.Limits{Default: limit, Grandfathered: limit, WarningFraction: warn, NoticeQuantity: notices}
}
