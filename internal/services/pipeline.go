package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/hostname"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/mail"
	"github.com/formrelay/formrelay/internal/plans"
	"github.com/formrelay/formrelay/internal/quota"
	"github.com/formrelay/formrelay/internal/repo"
	"github.com/formrelay/formrelay/internal/tempstate"
)

// Control fields recognized in a submission.
const (
	FieldHoneypot  = "_gotcha"
	FieldNext      = "_next"
	FieldSubject   = "_subject"
	FieldCC        = "_cc"
	FieldReplyTo   = "_replyto"
	FieldFormat    = "_format"
	FieldLanguage  = "_language"
	FieldCaptcha   = "g-recaptcha-response"
	FieldHostNonce = "_host_nonce"
)

// excludedFields never reach the archive or the rendered field list.
var excludedFields = map[string]struct{}{
	FieldHoneypot:  {},
	FieldNext:      {},
	FieldSubject:   {},
	FieldCC:        {},
	FieldFormat:    {},
	FieldLanguage:  {},
	FieldCaptcha:   {},
	FieldHostNonce: {},
}

// transportFields are added by the challenge round trip, not by the sender.
var transportFields = map[string]struct{}{
	FieldCaptcha:   {},
	FieldHostNonce: {},
}

const maxCC = 5

// Outcome is where a submission ended up.
type Outcome string

const (
	OutcomeSent               Outcome = "sent"
	OutcomeQueuedConfirmation Outcome = "queued_confirmation"
	OutcomeOverQuota          Outcome = "over_quota"
	OutcomeReplyToInvalid     Outcome = "reply_to_invalid"
	OutcomeEmpty              Outcome = "empty"
	OutcomeRejected           Outcome = "rejected"
	// OutcomeChallenge is not terminal: the caller must solve a CAPTCHA and
	// post again with the host nonce.
	OutcomeChallenge Outcome = "challenge"
)

// Submission is one inbound post to a resolved form.
type Submission struct {
	Fields    domain.Fields
	Host      string
	Referrer  string
	WantsJSON bool
	RemoteIP  string
	// Replayed marks the buffered first submission being re-run after the
	// form was confirmed.
	Replayed bool
}

// Result describes the outcome of Admit.
type Result struct {
	Outcome Outcome
	// Duplicate is set on OutcomeQueuedConfirmation when the confirmation
	// email had already gone out.
	Duplicate    bool
	Next         string
	ReplyTo      string
	Referrer     string
	Message      string
	NoticeSent   bool
	EmailSkipped bool

	// Challenge round trip.
	HostNonce string
	Fields    domain.Fields
}

// CaptchaVerifier checks a CAPTCHA response token.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

var submissionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "formrelay_submissions_total",
		Help: "Submissions by pipeline outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(submissionsTotal)
}

// Pipeline admits submissions to a resolved form.
type Pipeline struct {
	DB      *gorm.DB
	Mail    mail.Sender
	Keys    *identity.Keyring
	Counter *quota.Counter
	Limits  quota.Limits
	Plans   *plans.Catalog

	// Captcha is nil when the gate is bypassed.
	Captcha    CaptchaVerifier
	HostNonces *tempstate.HostNonces

	Confirmations *Confirmations
	Pruner        *Pruner

	ServiceURL    string
	ServiceName   string
	DefaultSender string

	Now func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Admit runs a submission through confirmation, CAPTCHA, validation, quota
// and delivery, in that order. A returned error is an infrastructure failure;
// every policy decision is reported through Result.
func (p *Pipeline) Admit(ctx context.Context, f *domain.Form, sub Submission) (res Result, err error) {
	tr := otel.Tracer("services/Pipeline")
	ctx, span := tr.Start(ctx, "Admit",
		trace.WithAttributes(
			attribute.Int64("form.id", int64(f.ID)),
			attribute.String("form.state", string(f.State)),
			attribute.Bool("submission.replayed", sub.Replayed),
		),
	)
	defer span.End()
	defer func() {
		if err == nil {
			submissionsTotal.WithLabelValues(string(res.Outcome)).Inc()
			span.SetAttributes(attribute.String("submission.outcome", string(res.Outcome)))
		}
	}()

	lg := zerolog.Ctx(ctx).With().Uint("form_id", f.ID).Logger()
	ctx = lg.WithContext(ctx)

	// 1. confirmation
	if !f.Confirmed() {
		return p.Confirmations.SendConfirmation(ctx, f, sub)
	}

	// 2. CAPTCHA
	challenge, err := p.needsChallenge(ctx, f, sub)
	if err != nil {
		return Result{}, err
	}
	if challenge {
		ok, err := p.verifyCaptcha(ctx, sub)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			nonce, err := p.HostNonces.Put(ctx, sub.Host, sub.Referrer)
			if err != nil {
				return Result{}, err
			}
			return Result{
				Outcome:   OutcomeChallenge,
				HostNonce: nonce,
				Fields:    sub.Fields.Without(transportFields),
				Referrer:  sub.Referrer,
			}, nil
		}
	}

	// 3. empty
	if sub.Fields.Without(transportFields).Blank() {
		return Result{Outcome: OutcomeEmpty, Referrer: sub.Referrer}, nil
	}

	next := p.nextURL(sub)

	// 4. honeypot
	if strings.TrimSpace(sub.Fields.Get(FieldHoneypot)) != "" {
		lg.Info().Msg("honeypot filled, discarding submission")
		return Result{Outcome: OutcomeSent, Next: next}, nil
	}

	// 5. reply-to
	replyTo := replyToOf(sub.Fields)
	if replyTo != "" && !identity.IsValidEmail(replyTo) {
		return Result{Outcome: OutcomeReplyToInvalid, ReplyTo: replyTo, Referrer: sub.Referrer}, nil
	}

	// 6. counting and archive
	count, err := p.Counter.Incr(ctx, f.ID)
	if err != nil {
		return Result{}, err
	}
	if err := repo.IncrementCounter(ctx, p.DB, f.ID); err != nil {
		return Result{}, err
	}
	f.Counter++
	data := sub.Fields.Without(excludedFields)
	if !f.DisableStorage {
		s := &domain.Submission{FormID: f.ID, SubmittedAt: p.now().UTC(), Data: data}
		if err := repo.CreateSubmission(ctx, p.DB, s); err != nil {
			return Result{}, err
		}
		if p.Pruner != nil {
			if _, err := p.Pruner.MaybePrune(ctx, f.ID); err != nil {
				lg.Warn().Err(err).Msg("archive prune failed")
			}
		}
	}

	// 7. quota
	controllers, err := repo.ListFormControllers(ctx, p.DB, f)
	if err != nil {
		return Result{}, err
	}
	if !p.anyHas(controllers, plans.FeatureUnlimited) {
		limit := p.Limits.For(f.ID)
		if w := p.Limits.WarningAt(limit); w > 0 && count == w {
			p.notify(ctx, f, mail.TplLimitWarning, "approaching the monthly limit", count, limit)
		}
		if p.Limits.Over(count, limit) {
			res := Result{Outcome: OutcomeOverQuota, Referrer: sub.Referrer}
			if p.Limits.ShouldNotice(count, limit) {
				res.NoticeSent = p.notify(ctx, f, mail.TplOverLimit, "over the monthly limit", count, limit)
			}
			lg.Info().Int64("count", count).Int("limit", limit).Msg("form over quota")
			return res, nil
		}
	}

	if f.DisableEmail {
		return Result{Outcome: OutcomeSent, Next: next, EmailSkipped: true}, nil
	}

	// 8. assemble and send
	msg, err := p.buildMessage(ctx, f, sub, data, replyTo, controllers)
	if err != nil {
		return Result{}, err
	}

	// 9. outcome
	if err := p.Mail.Send(ctx, msg); err != nil {
		if errors.Is(err, mail.ErrInvalidReplyTo) {
			return Result{Outcome: OutcomeReplyToInvalid, ReplyTo: replyTo, Referrer: sub.Referrer}, nil
		}
		lg.Error().Err(err).Msg("submission email failed")
		return Result{Outcome: OutcomeRejected, Message: "Unable to send email", Referrer: sub.Referrer}, nil
	}
	return Result{Outcome: OutcomeSent, Next: next, ReplyTo: replyTo}, nil
}

// needsChallenge decides whether sub must pass the CAPTCHA. Turning the
// CAPTCHA off is a dashboard feature, so the setting only counts while a
// controller's plan still includes it.
func (p *Pipeline) needsChallenge(ctx context.Context, f *domain.Form, sub Submission) (bool, error) {
	if p.Captcha == nil || sub.WantsJSON || sub.Replayed {
		return false, nil
	}
	if !f.CaptchaDisabled {
		return true, nil
	}
	controllers, err := repo.ListFormControllers(ctx, p.DB, f)
	if err != nil {
		return false, err
	}
	return !p.anyHas(controllers, plans.FeatureDashboard), nil
}

func (p *Pipeline) verifyCaptcha(ctx context.Context, sub Submission) (bool, error) {
	token := strings.TrimSpace(sub.Fields.Get(FieldCaptcha))
	if token == "" {
		return false, nil
	}
	return p.Captcha.Verify(ctx, token, sub.RemoteIP)
}

func (p *Pipeline) anyHas(users []domain.User, feature string) bool {
	if p.Plans == nil {
		return false
	}
	for _, u := range users {
		if p.Plans.Has(u.Plan, feature) {
			return true
		}
	}
	return false
}

// notify sends a quota notice to the form's email. Failures are logged and
// never change the submission's outcome.
func (p *Pipeline) notify(ctx context.Context, f *domain.Form, tpl, what string, count int64, limit int) bool {
	text, html, err := mail.Render(tpl, mail.LimitView{Host: f.Host, Count: count, Limit: limit})
	if err == nil {
		err = p.Mail.Send(ctx, mail.Message{
			To:       []string{f.Email},
			From:     p.DefaultSender,
			FromName: p.ServiceName,
			Subject:  "[" + p.ServiceName + "] Your form on " + f.Host + " is " + what,
			Text:     text,
			HTML:     html,
		})
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("template", tpl).Msg("quota notice failed")
		return false
	}
	return true
}

func (p *Pipeline) buildMessage(ctx context.Context, f *domain.Form, sub Submission, data domain.Fields, replyTo string, controllers []domain.User) (mail.Message, error) {
	view := mail.SubmissionView{
		Host:         f.Host,
		Fields:       data,
		Time:         p.now().UTC().Format("03:04 PM UTC - 02 January 2006"),
		UnconfirmURL: p.ServiceURL + "/unconfirm/" + p.Keys.EncodeID(f.ID),
	}

	subject := strings.TrimSpace(sub.Fields.Get(FieldSubject))
	if subject == "" {
		subject = "New submission from " + hostname.ReferrerToPath(sub.Referrer)
	}
	fromName := p.ServiceName

	var (
		text, html string
		err        error
	)
	tpl, terr := p.customTemplate(ctx, f, controllers)
	if terr != nil {
		return mail.Message{}, terr
	}
	if tpl != nil {
		var customSubject string
		customSubject, text, html, err = mail.RenderCustom(*tpl, view)
		if strings.TrimSpace(customSubject) != "" {
			subject = customSubject
		}
		if tpl.FromName != "" {
			fromName = tpl.FromName
		}
	} else {
		text, html, err = mail.Render(mail.TplSubmission, view)
	}
	if err != nil {
		return mail.Message{}, err
	}
	if strings.EqualFold(strings.TrimSpace(sub.Fields.Get(FieldFormat)), "plain") {
		html = ""
	}

	unsubscribe := p.ServiceURL + "/unconfirm/" + p.Keys.EncodeID(f.ID) + "/" + p.Keys.Digest(f.ID)
	return mail.Message{
		To:       []string{f.Email},
		From:     p.DefaultSender,
		FromName: fromName,
		Subject:  subject,
		Text:     text,
		HTML:     html,
		CC:       parseCC(sub.Fields.Get(FieldCC)),
		ReplyTo:  replyTo,
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + unsubscribe + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
	}, nil
}

// customTemplate returns the form's template when a controller's plan allows
// custom templates.
func (p *Pipeline) customTemplate(ctx context.Context, f *domain.Form, controllers []domain.User) (*domain.EmailTemplate, error) {
	if !p.anyHas(controllers, plans.FeatureWhitelabel) {
		return nil, nil
	}
	t, err := repo.GetTemplate(ctx, p.DB, f.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return t, err
}

// nextURL is where a browser is sent after a successful submission.
func (p *Pipeline) nextURL(sub Submission) string {
	next := strings.TrimSpace(sub.Fields.Get(FieldNext))
	if next == "" {
		return p.ServiceURL + "/thanks?next=" + url.QueryEscape(sub.Referrer)
	}
	u, err := url.Parse(next)
	if err != nil {
		return p.ServiceURL + "/thanks?next=" + url.QueryEscape(sub.Referrer)
	}
	if u.IsAbs() {
		return next
	}
	base, err := url.Parse(hostname.ReferrerToBaseURL(sub.Referrer) + "/")
	if err != nil {
		return next
	}
	return base.ResolveReference(u).String()
}

func replyToOf(fs domain.Fields) string {
	for _, k := range []string{FieldReplyTo, "email", "Email"} {
		if v := strings.TrimSpace(fs.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// parseCC keeps at most maxCC valid addresses from a comma-separated list.
func parseCC(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" || !identity.IsValidEmail(addr) {
			continue
		}
		out = append(out, addr)
		if len(out) == maxCC {
			break
		}
	}
	return out
}
