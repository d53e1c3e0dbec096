// Package handlers provides the HTTP endpoints: the public submission and
// confirmation pages, and the authenticated owner API.
//
// Handlers are transport-thin: they parse and negotiate the request, call
// application services through the interfaces below, and translate results
// into HTML pages or JSON bodies.
package handlers

import (
	"context"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/services"
)

//
// Service contracts (context-aware)
//

// FormResolver finds or creates the form a submission targets.
type FormResolver interface {
	Resolve(ctx context.Context, t services.Target) (*domain.Form, error)
}

// SubmissionAdmitter runs a submission through the pipeline.
type SubmissionAdmitter interface {
	Admit(ctx context.Context, f *domain.Form, sub services.Submission) (services.Result, error)
}

// ConfirmationService covers the email handshake and the unsubscribe flows.
type ConfirmationService interface {
	Confirm(ctx context.Context, token string) (*domain.Form, *services.Result, error)
	Unsubscribe(ctx context.Context, hashid, digest string) (*domain.Form, error)
	RequestUnsubscribe(ctx context.Context, hashid, userAgent string) (*domain.Form, error)
	FormsSharingEmail(ctx context.Context, f *domain.Form) ([]domain.Form, error)
	UnsubscribeMany(ctx context.Context, email string, ids []uint) (int, error)
}

// HostNonceStore redeems the nonce carried by a CAPTCHA round trip.
type HostNonceStore interface {
	Take(ctx context.Context, nonce string) (host, referrer string, ok bool, err error)
}

// OwnerService defines the owner API operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type OwnerService interface {
	CreateForm(ctx context.Context, userID uint, in services.CreateFormInput, idemKey string) (*domain.Form, bool, error)
	CheckSitewide(ctx context.Context, userID uint, siteURL, email string) (fileURL string, ok bool, err error)
	ListForms(ctx context.Context, userID uint, page, pageSize int) ([]domain.Form, int64, error)
	GetForm(ctx context.Context, userID uint, hashid string) (*domain.Form, error)
	MonthlyCount(ctx context.Context, formID uint) (int64, error)
	UpdateForm(ctx context.Context, userID uint, hashid string, upd services.FormUpdate) (*domain.Form, error)
	DeleteForm(ctx context.Context, userID uint, hashid string) error
	ListSubmissions(ctx context.Context, userID uint, hashid string, page, pageSize int) ([]domain.Submission, int64, error)
	SearchSubmissions(ctx context.Context, userID uint, hashid, q string, limit int) ([]domain.Submission, error)
	DeleteSubmission(ctx context.Context, userID uint, hashid string, submissionID uint) error
	PutTemplate(ctx context.Context, userID uint, hashid string, t domain.EmailTemplate) (*domain.EmailTemplate, error)
	DeleteTemplate(ctx context.Context, userID uint, hashid string) error
	// FormsVersion and SubmissionsVersion feed weak ETags.
	FormsVersion(ctx context.Context, userID uint) (int64, *time.Time, error)
	SubmissionsVersion(ctx context.Context, userID uint, hashid string) (int64, *time.Time, error)
}

//
// Handler wiring
//

// Deps bundles what New needs.
type Deps struct {
	Resolver      FormResolver
	Admitter      SubmissionAdmitter
	Confirmations ConfirmationService
	Owners        OwnerService
	HostNonces    HostNonceStore
	Keys          *identity.Keyring
	// Cookies signs the short-lived session of the multi-form unsubscribe
	// page.
	Cookies *securecookie.SecureCookie

	ServiceURL   string
	ServiceName  string
	RecaptchaKey string
}

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	resolver FormResolver
	admitter SubmissionAdmitter
	confirms ConfirmationService
	owners   OwnerService
	nonces   HostNonceStore
	keys     *identity.Keyring
	cookies  *securecookie.SecureCookie

	serviceURL   string
	serviceName  string
	recaptchaKey string
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		resolver:     d.Resolver,
		admitter:     d.Admitter,
		confirms:     d.Confirmations,
		owners:       d.Owners,
		nonces:       d.HostNonces,
		keys:         d.Keys,
		cookies:      d.Cookies,
		serviceURL:   d.ServiceURL,
		serviceName:  d.ServiceName,
		recaptchaKey: d.RecaptchaKey,
	}
}
