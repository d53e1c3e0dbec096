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
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/mail"
	"github.com/formrelay/formrelay/internal/repo"
	"github.com/formrelay/formrelay/internal/tempstate"
)

// Confirmations runs the email ownership handshake and the unsubscribe
// flows.
type Confirmations struct {
	DB      *gorm.DB
	Mail    mail.Sender
	Keys    *identity.Keyring
	Replays *tempstate.PendingReplays
	// Pipeline replays the buffered first submission after confirmation.
	Pipeline *Pipeline

	ServiceURL    string
	ServiceName   string
	DefaultSender string
}

// SendConfirmation handles a submission to an unconfirmed form. The first
// one is buffered and triggers the confirmation email; later ones get the
// Duplicate variant and send nothing.
func (c *Confirmations) SendConfirmation(ctx context.Context, f *domain.Form, sub Submission) (Result, error) {
	tr := otel.Tracer("services/Confirmations")
	ctx, span := tr.Start(ctx, "SendConfirmation",
		trace.WithAttributes(attribute.Int64("form.id", int64(f.ID))),
	)
	defer span.End()

	if f.State == domain.StatePending {
		return Result{Outcome: OutcomeQueuedConfirmation, Duplicate: true, Referrer: sub.Referrer}, nil
	}

	token := c.Keys.ConfirmationToken(f)
	err := c.Replays.Stash(ctx, tempstate.PendingReplay{
		Nonce:     token,
		Fields:    sub.Fields.Without(transportFields),
		Host:      sub.Host,
		Referrer:  sub.Referrer,
		WantsJSON: sub.WantsJSON,
	})
	if err != nil {
		return Result{}, err
	}

	if err := c.sendConfirmationEmail(ctx, f, token); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("confirmation email failed")
		return Result{Outcome: OutcomeRejected, Message: "Unable to send confirmation email", Referrer: sub.Referrer}, nil
	}

	if err := f.MarkConfirmationSent(); err != nil {
		return Result{}, err
	}
	if err := repo.SaveFormState(ctx, c.DB, f); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeQueuedConfirmation, Referrer: sub.Referrer}, nil
}

func (c *Confirmations) sendConfirmationEmail(ctx context.Context, f *domain.Form, token string) error {
	text, html, err := mail.Render(mail.TplConfirmation, mail.ConfirmationView{
		Email:       f.Email,
		Host:        f.Host,
		ConfirmURL:  c.ServiceURL + "/confirm/" + token,
		ServiceName: c.ServiceName,
	})
	if err != nil {
		return err
	}
	return c.Mail.Send(ctx, mail.Message{
		To:       []string{f.Email},
		From:     c.DefaultSender,
		FromName: c.ServiceName,
		Subject:  "Confirm email for " + c.ServiceName + " on " + f.Host,
		Text:     text,
		HTML:     html,
	})
}

// SendOwnerConfirmation emails a confirmation link for a dashboard form
// without buffering any submission.
func (c *Confirmations) SendOwnerConfirmation(ctx context.Context, f *domain.Form) error {
	if err := c.sendConfirmationEmail(ctx, f, c.Keys.ConfirmationToken(f)); err != nil {
		return err
	}
	if err := f.MarkConfirmationSent(); err != nil {
		return err
	}
	return repo.SaveFormState(ctx, c.DB, f)
}

// Confirm activates the form named by token and replays its buffered first
// submission, if one is still stored. The returned Result is nil when there
// was nothing to replay. Confirming twice is a no-op.
func (c *Confirmations) Confirm(ctx context.Context, token string) (*domain.Form, *Result, error) {
	tr := otel.Tracer("services/Confirmations")
	ctx, span := tr.Start(ctx, "Confirm")
	defer span.End()

	ref, err := c.Keys.ParseConfirmationToken(token)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	var f *domain.Form
	if ref.Hash != "" {
		f, err = repo.GetFormByHash(ctx, c.DB, ref.Hash)
	} else {
		f, err = repo.GetFormByID(ctx, c.DB, ref.ID)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrInvalidToken
	}
	if err != nil {
		return nil, nil, err
	}
	if !c.Keys.VerifyConfirmation(f, ref) {
		return nil, nil, ErrInvalidToken
	}
	span.SetAttributes(attribute.Int64("form.id", int64(f.ID)))

	if !f.Confirmed() {
		f.Confirm()
		if err := repo.SaveFormState(ctx, c.DB, f); err != nil {
			return nil, nil, err
		}
		zerolog.Ctx(ctx).Info().Uint("form_id", f.ID).Msg("form confirmed")
	}

	pending, ok, err := c.Replays.Consume(ctx, strings.TrimSpace(token))
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Uint("form_id", f.ID).Msg("pending replay lookup failed")
		return f, nil, nil
	}
	if !ok {
		return f, nil, nil
	}
	res, err := c.Pipeline.Admit(ctx, f, Submission{
		Fields:    pending.Fields,
		Host:      pending.Host,
		Referrer:  pending.Referrer,
		WantsJSON: pending.WantsJSON,
		Replayed:  true,
	})
	if err != nil {
		return f, nil, err
	}
	return f, &res, nil
}

// loadByHashID resolves a hash-id from a link.
func (c *Confirmations) loadByHashID(ctx context.Context, hashid string) (*domain.Form, error) {
	id, err := c.Keys.DecodeID(hashid)
	if err != nil {
		return nil, ErrFormNotFound
	}
	f, err := repo.GetFormByID(ctx, c.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFormNotFound
	}
	return f, err
}

// Unsubscribe turns off the form named by hashid when digest matches. The
// form and its archive are kept; it goes back to pending confirmation.
func (c *Confirmations) Unsubscribe(ctx context.Context, hashid, digest string) (*domain.Form, error) {
	tr := otel.Tracer("services/Confirmations")
	ctx, span := tr.Start(ctx, "Unsubscribe")
	defer span.End()

	f, err := c.loadByHashID(ctx, hashid)
	if err != nil {
		return nil, err
	}
	if !c.Keys.VerifyDigest(f.ID, digest) {
		return nil, ErrInvalidDigest
	}
	if err := c.unconfirm(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Confirmations) unconfirm(ctx context.Context, f *domain.Form) error {
	if !f.Confirmed() {
		return nil
	}
	if err := f.Unconfirm(); err != nil {
		return err
	}
	if err := repo.SaveFormState(ctx, c.DB, f); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Uint("form_id", f.ID).Msg("form unconfirmed")
	return nil
}

// RequestUnsubscribe emails the owner of the form named by hashid a link to
// the unsubscribe page. It only answers browsers, so that link scanners
// following the body link of a submission email do nothing.
func (c *Confirmations) RequestUnsubscribe(ctx context.Context, hashid, userAgent string) (*domain.Form, error) {
	if !IsBrowser(userAgent) {
		return nil, ErrNotBrowser
	}
	f, err := c.loadByHashID(ctx, hashid)
	if err != nil {
		return nil, err
	}
	if !f.Confirmed() {
		return f, nil
	}
	link := c.ServiceURL + "/unconfirm/" + c.Keys.EncodeID(f.ID) + "/" + c.Keys.Digest(f.ID)
	text, html, err := mail.Render(mail.TplUnconfirmRequest, mail.UnconfirmView{Email: f.Email, Host: f.Host, UnconfirmURL: link})
	if err != nil {
		return nil, err
	}
	err = c.Mail.Send(ctx, mail.Message{
		To:       []string{f.Email},
		From:     c.DefaultSender,
		FromName: c.ServiceName,
		Subject:  "Stop submissions from " + f.Host,
		Text:     text,
		HTML:     html,
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FormsSharingEmail lists the other confirmed forms delivering to f.Email.
func (c *Confirmations) FormsSharingEmail(ctx context.Context, f *domain.Form) ([]domain.Form, error) {
	all, err := repo.ListConfirmedFormsByEmail(ctx, c.DB, f.Email)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Form, 0, len(all))
	for _, other := range all {
		if other.ID != f.ID {
			out = append(out, other)
		}
	}
	return out, nil
}

// UnsubscribeMany unconfirms each listed form that delivers to email and
// returns how many changed. Ids of forms with another email are skipped.
func (c *Confirmations) UnsubscribeMany(ctx context.Context, email string, ids []uint) (int, error) {
	n := 0
	for _, id := range ids {
		f, err := repo.GetFormByID(ctx, c.DB, id)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if !strings.EqualFold(f.Email, email) || !f.Confirmed() {
			continue
		}
		if err := c.unconfirm(ctx, f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

var nonBrowserMarkers = []string{"bot", "crawler", "spider", "preview", "curl", "wget", "python", "go-http-client", "scanner"}

// IsBrowser reports whether a User-Agent looks like an interactive browser.
func IsBrowser(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	if !strings.Contains(ua, "mozilla/") && !strings.Contains(ua, "opera/") {
		return false
	}
	for _, m := range nonBrowserMarkers {
		if strings.Contains(ua, m) {
			return false
		}
	}
	return true
}
