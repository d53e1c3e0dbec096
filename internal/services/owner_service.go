package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/hostname"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/plans"
	"github.com/formrelay/formrelay/internal/quota"
	"github.com/formrelay/formrelay/internal/repo"
	"github.com/formrelay/formrelay/internal/search"
)

// ScopeCreateForm namespaces Idempotency-Key records of form creation.
const ScopeCreateForm = "forms.create"

// SiteVerifier checks that a site's verification file lists an email.
type SiteVerifier interface {
	FileURL(siteURL string) (string, error)
	Verify(ctx context.Context, siteURL, email string) (bool, error)
}

// OwnerService implements the authenticated owner API: dashboard forms,
// their settings, archives and templates.
type OwnerService struct {
	DB            *gorm.DB
	Keys          *identity.Keyring
	Plans         *plans.Catalog
	Confirmations *Confirmations

	// Sites is required for sitewide forms; without it they are refused.
	Sites SiteVerifier
	// Counter reports this month's usage; nil reports zero.
	Counter *quota.Counter

	IdempotencyTTL time.Duration
}

// CreateFormInput describes a new dashboard form.
type CreateFormInput struct {
	Email    string
	URL      string
	Sitewide bool
}

// FormUpdate carries optional setting changes; nil fields are left alone.
type FormUpdate struct {
	Disabled        *bool
	CaptchaDisabled *bool
	DisableEmail    *bool
	DisableStorage  *bool
}

func (s *OwnerService) user(ctx context.Context, userID uint) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *OwnerService) requireFeature(u *domain.User, feature string) error {
	if !s.Plans.Has(u.Plan, feature) {
		return ErrFeatureRequired
	}
	return nil
}

// fingerprint digests the normalized input so a reused Idempotency-Key can be
// told apart from a retry.
func (in CreateFormInput) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%t",
		strings.ToLower(strings.TrimSpace(in.Email)), strings.TrimSpace(in.URL), in.Sitewide)
	return hex.EncodeToString(h.Sum(nil))
}

// replay returns the form recorded under idemKey, nil when there is no live
// record, or ErrIdempotencyMismatch when the key was used for other input.
func (s *OwnerService) replay(ctx context.Context, userID uint, idemKey, fp string) (*domain.Form, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, ScopeCreateForm, idemKey, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.Matches(fp) {
		return nil, ErrIdempotencyMismatch
	}
	f, err := repo.GetFormByID(ctx, s.DB, rec.FormID)
	if errors.Is(err, repo.ErrNotFound) {
		// the form was deleted since; free the key
		return nil, repo.DeleteIdempotency(ctx, s.DB, rec.ID)
	}
	return f, err
}

// CreateForm creates a dashboard form owned by userID. When idemKey is set
// and a live record exists for it, the previously created form is returned
// with replayed=true; the same key with different input fails with
// ErrIdempotencyMismatch. The form starts active if the email is one of the
// user's verified addresses; otherwise a confirmation email is sent.
func (s *OwnerService) CreateForm(ctx context.Context, userID uint, in CreateFormInput, idemKey string) (f *domain.Form, replayed bool, err error) {
	tr := otel.Tracer("services/OwnerService")
	ctx, span := tr.Start(ctx, "CreateForm",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if err := s.requireFeature(u, plans.FeatureDashboard); err != nil {
		return nil, false, err
	}

	fp := in.fingerprint()
	if idemKey != "" {
		prev, err := s.replay(ctx, userID, idemKey, fp)
		if err != nil || prev != nil {
			return prev, prev != nil, err
		}
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !identity.IsValidEmail(email) {
		return nil, false, ErrInvalidEmail
	}
	host := ""
	if in.Sitewide && strings.TrimSpace(in.URL) == "" {
		return nil, false, ErrInvalidURL
	}
	if strings.TrimSpace(in.URL) != "" {
		site, err := url.Parse(strings.TrimSpace(in.URL))
		if err != nil || site.Scheme == "" || site.Host == "" {
			return nil, false, ErrInvalidURL
		}
		if in.Sitewide {
			if err := s.verifySite(ctx, in.URL, email); err != nil {
				return nil, false, err
			}
			host = hostname.SitewideRoot(in.URL)
		} else {
			host = strings.TrimRight(hostname.ReferrerToPath(in.URL), "/")
		}
	}

	f = &domain.Form{Email: email, Host: host, Sitewide: in.Sitewide, State: domain.StateNew, OwnerID: &userID}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateForm(ctx, tx, f); err != nil {
			return err
		}
		verified, err := s.ownsAddress(ctx, tx, userID, email)
		if err != nil {
			return err
		}
		if verified {
			f.Confirm()
			if err := repo.SaveFormState(ctx, tx, f); err != nil {
				return err
			}
		}
		if idemKey == "" {
			return nil
		}
		return repo.SaveIdempotency(ctx, tx, &domain.Idempotency{
			OwnerID:     userID,
			Scope:       ScopeCreateForm,
			Key:         idemKey,
			Fingerprint: fp,
			FormID:      f.ID,
		}, time.Now().UTC(), s.IdempotencyTTL)
	})
	if errors.Is(err, repo.ErrDuplicate) && idemKey != "" {
		// a concurrent request with the same key won
		prev, rerr := s.replay(ctx, userID, idemKey, fp)
		if rerr != nil || prev != nil {
			return prev, prev != nil, rerr
		}
	}
	if err != nil {
		return nil, false, err
	}

	if !f.Confirmed() && s.Confirmations != nil {
		if err := s.Confirmations.SendOwnerConfirmation(ctx, f); err != nil {
			return nil, false, err
		}
	}
	return f, false, nil
}

// verifySite returns a *SitewideUnverifiedError unless the verification file
// of siteURL lists email.
func (s *OwnerService) verifySite(ctx context.Context, siteURL, email string) error {
	if s.Sites == nil {
		return &SitewideUnverifiedError{FileURL: siteURL}
	}
	fileURL, err := s.Sites.FileURL(siteURL)
	if err != nil {
		return ErrInvalidURL
	}
	ok, err := s.Sites.Verify(ctx, siteURL, email)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("file", fileURL).Msg("sitewide verification fetch failed")
	}
	if !ok {
		return &SitewideUnverifiedError{FileURL: fileURL}
	}
	return nil
}

// CheckSitewide reports whether a sitewide form for email could be created on
// siteURL right now, and which file was consulted.
func (s *OwnerService) CheckSitewide(ctx context.Context, userID uint, siteURL, email string) (fileURL string, ok bool, err error) {
	tr := otel.Tracer("services/OwnerService")
	ctx, span := tr.Start(ctx, "CheckSitewide",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	u, err := s.user(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if err := s.requireFeature(u, plans.FeatureDashboard); err != nil {
		return "", false, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !identity.IsValidEmail(email) {
		return "", false, ErrInvalidEmail
	}
	err = s.verifySite(ctx, siteURL, email)
	var unverified *SitewideUnverifiedError
	switch {
	case err == nil:
		fileURL, _ = s.Sites.FileURL(siteURL)
		return fileURL, true, nil
	case errors.As(err, &unverified):
		return unverified.FileURL, false, nil
	default:
		return "", false, err
	}
}

func (s *OwnerService) ownsAddress(ctx context.Context, db *gorm.DB, userID uint, email string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Email{}).
		Where("owner_id = ? AND address = ?", userID, email).
		Count(&n).Error
	return n > 0, err
}

// ListForms returns a page of the user's dashboard forms.
func (s *OwnerService) ListForms(ctx context.Context, userID uint, page, pageSize int) ([]domain.Form, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	total, err := repo.CountFormsByOwner(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Form{}, 0, nil
	}
	items, err := repo.ListFormsByOwner(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// controlled loads the form named by hashid and checks that userID controls
// it.
func (s *OwnerService) controlled(ctx context.Context, userID uint, hashid string) (*domain.Form, *domain.User, error) {
	id, err := s.Keys.DecodeID(hashid)
	if err != nil {
		return nil, nil, ErrFormNotFound
	}
	f, err := repo.GetFormByID(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrFormNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	users, err := repo.ListFormControllers(ctx, s.DB, f)
	if err != nil {
		return nil, nil, err
	}
	for i := range users {
		if users[i].ID == userID {
			return f, &users[i], nil
		}
	}
	return nil, nil, ErrForbidden
}

// GetForm returns a form the user controls.
func (s *OwnerService) GetForm(ctx context.Context, userID uint, hashid string) (*domain.Form, error) {
	f, _, err := s.controlled(ctx, userID, hashid)
	return f, err
}

// UpdateForm applies setting changes. CAPTCHA and email toggles need the
// dashboard feature.
func (s *OwnerService) UpdateForm(ctx context.Context, userID uint, hashid string, upd FormUpdate) (*domain.Form, error) {
	f, u, err := s.controlled(ctx, userID, hashid)
	if err != nil {
		return nil, err
	}
	if upd.CaptchaDisabled != nil || upd.DisableEmail != nil {
		if err := s.requireFeature(u, plans.FeatureDashboard); err != nil {
			return nil, err
		}
	}

	changes := map[string]any{}
	if upd.Disabled != nil {
		var terr error
		if *upd.Disabled {
			terr = f.Disable()
		} else {
			terr = f.Enable()
		}
		if terr != nil {
			return nil, ErrIllegalState
		}
		changes["state"] = f.State
	}
	if upd.CaptchaDisabled != nil {
		f.CaptchaDisabled = *upd.CaptchaDisabled
		changes["captcha_disabled"] = f.CaptchaDisabled
	}
	if upd.DisableEmail != nil {
		f.DisableEmail = *upd.DisableEmail
		changes["disable_email"] = f.DisableEmail
	}
	if upd.DisableStorage != nil {
		f.DisableStorage = *upd.DisableStorage
		changes["disable_storage"] = f.DisableStorage
	}
	if len(changes) == 0 {
		return f, nil
	}
	if err := repo.UpdateForm(ctx, s.DB, f.ID, changes); err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteForm removes the form with its archive.
func (s *OwnerService) DeleteForm(ctx context.Context, userID uint, hashid string) error {
	f, _, err := s.controlled(ctx, userID, hashid)
	if err != nil {
		return err
	}
	if err := repo.DeleteForm(ctx, s.DB, f.ID); err != nil {
		return err
	}
	if s.Counter != nil {
		if err := s.Counter.Reset(ctx, f.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Uint("form_id", f.ID).Msg("monthly counter not cleared")
		}
	}
	return nil
}

// MonthlyCount returns how many submissions formID counted this month.
// Callers check control of the form first.
func (s *OwnerService) MonthlyCount(ctx context.Context, formID uint) (int64, error) {
	if s.Counter == nil {
		return 0, nil
	}
	return s.Counter.Get(ctx, formID)
}

// ListSubmissions returns a page of the form's archive, newest first.
func (s *OwnerService) ListSubmissions(ctx context.Context, userID uint, hashid string, page, pageSize int) ([]domain.Submission, int64, error) {
	f, _, err := s.controlled(ctx, userID, hashid)
	if err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)
	total, err := repo.CountSubmissions(ctx, s.DB, f.ID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Submission{}, 0, nil
	}
	items, err := repo.ListSubmissionsPage(ctx, s.DB, f.ID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// searchScanLimit bounds how many of the newest submissions a search reads.
const searchScanLimit = 1000

// SearchSubmissions ranks the form's newest archived submissions against q
// and returns at most limit matches, best first.
func (s *OwnerService) SearchSubmissions(ctx context.Context, userID uint, hashid, q string, limit int) ([]domain.Submission, error) {
	tr := otel.Tracer("services/OwnerService")
	ctx, span := tr.Start(ctx, "SearchSubmissions",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	f, _, err := s.controlled(ctx, userID, hashid)
	if err != nil {
		return nil, err
	}
	_, limit = normalizePage(1, limit)
	subs, err := repo.ListSubmissionsPage(ctx, s.DB, f.ID, 0, searchScanLimit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	hits := search.New(subs).TopK(q, limit)
	span.SetAttributes(
		attribute.Int("search.scanned", len(subs)),
		attribute.Int("search.hits", len(hits)),
	)
	return search.Submissions(hits), nil
}

// DeleteSubmission removes one archived submission and decrements the
// form's lifetime counter.
func (s *OwnerService) DeleteSubmission(ctx context.Context, userID uint, hashid string, submissionID uint) error {
	f, _, err := s.controlled(ctx, userID, hashid)
	if err != nil {
		return err
	}
	err = repo.DeleteSubmission(ctx, s.DB, f.ID, submissionID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSubmissionNotFound
	}
	return err
}

// PutTemplate stores the form's custom notification template.
func (s *OwnerService) PutTemplate(ctx context.Context, userID uint, hashid string, t domain.EmailTemplate) (*domain.EmailTemplate, error) {
	f, u, err := s.controlled(ctx, userID, hashid)
	if err != nil {
		return nil, err
	}
	if err := s.requireFeature(u, plans.FeatureWhitelabel); err != nil {
		return nil, err
	}
	t.FormID = f.ID
	t.UpdatedAt = time.Now().UTC()
	if err := repo.UpsertTemplate(ctx, s.DB, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTemplate restores the default notification.
func (s *OwnerService) DeleteTemplate(ctx context.Context, userID uint, hashid string) error {
	f, _, err := s.controlled(ctx, userID, hashid)
	if err != nil {
		return err
	}
	err = repo.DeleteTemplate(ctx, s.DB, f.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return err
}

// CreateUser registers an account on plan (the catalogue default when empty).
func (s *OwnerService) CreateUser(ctx context.Context, email, plan string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !identity.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if plan == "" {
		plan = s.Plans.Default
	}
	if !s.Plans.Exists(plan) {
		return nil, ErrFeatureRequired
	}
	return repo.CreateUser(ctx, s.DB, email, plan)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// FormsVersion returns the number of the user's dashboard forms and their
// newest UpdatedAt, for conditional GETs.
func (s *OwnerService) FormsVersion(ctx context.Context, userID uint) (int64, *time.Time, error) {
	return repo.FormsStats(ctx, s.DB, userID)
}

// SubmissionsVersion returns the archive size of a form the user controls
// and its newest SubmittedAt.
func (s *OwnerService) SubmissionsVersion(ctx context.Context, userID uint, hashid string) (int64, *time.Time, error) {
	f, _, err := s.controlled(ctx, userID, hashid)
	if err != nil {
		return 0, nil, err
	}
	return repo.SubmissionsStats(ctx, s.DB, f.ID)
}
