package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/hostname"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/repo"
)

// Target identifies where a submission is going.
type Target struct {
	// Token is the path segment: an email address or a form hash-id.
	Token string
	// Host is the submitting page, as produced by hostname.ReferrerToPath.
	Host     string
	Referrer string
	// WantsJSON marks a programmatic (AJAX) caller.
	WantsJSON bool
}

// Resolver finds or creates the form a submission belongs to and enforces
// host binding.
type Resolver struct {
	DB         *gorm.DB
	Keys       *identity.Keyring
	ServiceURL string
	// AllowAjaxCreation lets AJAX callers create spontaneous forms.
	AllowAjaxCreation bool
}

// Resolve returns the form for t.
//
// For an email target the spoof check runs before the AJAX creation check,
// so a request from the service's own domain always reports ErrSpoofAttempt.
func (r *Resolver) Resolve(ctx context.Context, t Target) (*domain.Form, error) {
	tr := otel.Tracer("services/Resolver")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("form.host", t.Host),
			attribute.Bool("request.ajax", t.WantsJSON),
		),
	)
	defer span.End()

	host := strings.TrimRight(t.Host, "/")
	if host == "" {
		return nil, ErrInvalidTarget
	}
	token := strings.TrimSpace(t.Token)
	if identity.IsValidEmail(token) {
		return r.resolveEmail(ctx, strings.ToLower(token), host, t.WantsJSON)
	}
	return r.resolveID(ctx, token, host, t.WantsJSON)
}

func (r *Resolver) resolveID(ctx context.Context, token, host string, ajax bool) (*domain.Form, error) {
	id, err := r.Keys.DecodeID(token)
	if err != nil {
		return nil, ErrInvalidTarget
	}
	f, err := repo.GetFormByID(ctx, r.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidTarget
	}
	if err != nil {
		return nil, err
	}
	if f.Disabled() {
		return nil, ErrFormDisabled
	}

	if f.Host == "" {
		bound := host
		if f.Sitewide {
			bound = hostname.SitewideRoot("http://" + host)
		}
		won, err := repo.BindHost(ctx, r.DB, f.ID, bound, ajax)
		if err != nil {
			return nil, err
		}
		if won {
			f.Host = bound
			f.UsesAjax = &ajax
			zerolog.Ctx(ctx).Info().Uint("form_id", f.ID).Str("host", bound).Msg("form bound to host")
			return f, nil
		}
		// another request bound it first
		if f, err = repo.GetFormByID(ctx, r.DB, id); err != nil {
			return nil, err
		}
	}

	if !hostname.Matches(f.Host, f.Sitewide, host) {
		return nil, &HostMismatchError{Submitted: host, Confirmed: f.Host}
	}
	if err := r.pinAjax(ctx, f, ajax); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *Resolver) resolveEmail(ctx context.Context, email, host string, ajax bool) (*domain.Form, error) {
	hash := r.Keys.Hash(email, host)
	f, err := repo.GetFormByHash(ctx, r.DB, hash)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		if hostname.IsServiceDomain(r.ServiceURL, host) {
			return nil, ErrSpoofAttempt
		}
		if ajax && !r.AllowAjaxCreation {
			return nil, ErrAjaxFormCreationForbidden
		}
		f = &domain.Form{Hash: &hash, Email: email, Host: host, State: domain.StateNew, UsesAjax: &ajax}
		if err := repo.CreateForm(ctx, r.DB, f); err != nil {
			if !errors.Is(err, repo.ErrDuplicate) {
				return nil, err
			}
			// concurrent first submission created it; use that row
			if f, err = repo.GetFormByHash(ctx, r.DB, hash); err != nil {
				return nil, err
			}
		} else {
			zerolog.Ctx(ctx).Info().Uint("form_id", f.ID).Str("host", host).Msg("spontaneous form created")
		}
	default:
		return nil, err
	}

	if err := r.pinAjax(ctx, f, ajax); err != nil {
		return nil, err
	}
	if f.Disabled() {
		return nil, ErrFormDisabled
	}
	return f, nil
}

// pinAjax records the calling convention of the first submission.
func (r *Resolver) pinAjax(ctx context.Context, f *domain.Form, ajax bool) error {
	if f.UsesAjax != nil {
		return nil
	}
	if err := repo.UpdateForm(ctx, r.DB, f.ID, map[string]any{"uses_ajax": ajax}); err != nil {
		return err
	}
	f.UsesAjax = &ajax
	return nil
}
