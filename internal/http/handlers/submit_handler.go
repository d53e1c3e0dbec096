// Submission endpoints.
//
//   - POST /{target}   relay a form post (target is an email or a form hash-id)
//   - GET  /{target}   405, forms must POST
//
// Browsers get HTML pages and redirects; scripts get JSON (see wantsJSON).
package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/formrelay/formrelay/internal/captcha"
	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/hostname"
	"github.com/formrelay/formrelay/internal/http/middleware"
	"github.com/formrelay/formrelay/internal/services"
)

// Submit godoc
// @ID          submitForm
// @Summary     Submit a form
// @Description Relays a form post to the target's email. The target is an email address or a form hash-id. Accepts urlencoded, multipart or JSON bodies; responds with JSON to AJAX callers and with HTML or a redirect otherwise.
// @Tags        Submissions
// @Accept      x-www-form-urlencoded,json,mpfd
// @Produce     json,html
//
// @Param       target   path    string  true  "Email address or form hash-id"  example(owner@example.com)
// @Param       Referer  header  string  true  "Page the form was posted from"  example(https://example.com/contact)
//
// @Success     200  {object}  map[string]string  "email sent, or confirmation email sent"
// @Success     302  {string}  string             "Redirect to the thank-you page"
// @Failure     400  {object}  map[string]string  "Invalid target, empty form, missing referrer"
// @Failure     402  {object}  map[string]string  "Form over quota"
// @Failure     403  {object}  map[string]string  "Form disabled or host mismatch"
// @Failure     500  {object}  map[string]string  "Unable to send email"
// @Router      /{target} [post]
func (h *Handlers) Submit(c *gin.Context) {
	ctx := c.Request.Context()
	target := c.Param("target")

	fs, jsonBody, err := readFields(c.Request)
	asJSON := wantsJSON(c.Request, jsonBody)
	if err != nil {
		h.respond(c, asJSON, http.StatusBadRequest,
			gin.H{"error": "Unable to read form data"},
			info("Unable to submit form", "The form data could not be read."))
		return
	}

	host, referrer, err := h.origin(c, fs)
	if err != nil {
		h.internalError(c, asJSON, err)
		return
	}
	if host == "" {
		h.respond(c, asJSON, http.StatusBadRequest,
			gin.H{"error": `Invalid "Referer" header`},
			info("Unable to submit form",
				"Make sure you open this page through a web server. Forms opened from a local file, or from a page that hides its address, cannot be accepted.",
				"If you are not the owner of this form, contact them and let them know about this problem."))
		return
	}

	f, err := h.resolver.Resolve(ctx, services.Target{
		Token:     target,
		Host:      host,
		Referrer:  referrer,
		WantsJSON: asJSON,
	})
	if err != nil {
		h.resolveFailed(c, asJSON, target, host, err)
		return
	}

	res, err := h.admitter.Admit(ctx, f, services.Submission{
		Fields:    fs,
		Host:      host,
		Referrer:  referrer,
		WantsJSON: asJSON,
		RemoteIP:  c.ClientIP(),
	})
	if err != nil {
		h.internalError(c, asJSON, err)
		return
	}
	c.Set(middleware.FormIDKey, f.ID)
	c.Set(middleware.OutcomeKey, string(res.Outcome))
	h.admitted(c, asJSON, target, f, fs, res)
}

// SubmitGet godoc
// @ID          submitFormGet
// @Summary     Reject GET submissions
// @Tags        Submissions
// @Produce     json,html
// @Param       target  path  string  true  "Email address or form hash-id"
// @Failure     405  {object}  map[string]string  "Please submit POST request."
// @Router      /{target} [get]
func (h *Handlers) SubmitGet(c *gin.Context) {
	h.respond(c, wantsJSON(c.Request, false), http.StatusMethodNotAllowed,
		gin.H{"error": "Please submit POST request."},
		info("Form should POST",
			"Make sure your form has the method=\"POST\" attribute."))
}

// RateLimited answers a client that exceeded the per-IP request rate. The
// limiter has already set Retry-After.
func (h *Handlers) RateLimited(c *gin.Context, retryAfter time.Duration) {
	wait := int(math.Ceil(retryAfter.Seconds()))
	if wait < 1 {
		wait = 1
	}
	h.respond(c, wantsJSON(c.Request, false), http.StatusTooManyRequests,
		gin.H{"error": "Too many requests", "retry_after": wait},
		info("Too many requests",
			fmt.Sprintf("Please wait %d seconds and try again.", wait)))
}

// origin returns the submitting page. A CAPTCHA round trip posts from the
// challenge page, so the original page is recovered from the host nonce;
// otherwise the Referer header is used.
func (h *Handlers) origin(c *gin.Context, fs domain.Fields) (host, referrer string, err error) {
	if nonce := fs.Get(services.FieldHostNonce); nonce != "" && h.nonces != nil {
		host, referrer, found, err := h.nonces.Take(c.Request.Context(), nonce)
		if err != nil {
			return "", "", err
		}
		if found {
			return host, referrer, nil
		}
	}
	referrer = c.Request.Referer()
	if referrer == "" {
		return "", "", nil
	}
	return hostname.ReferrerToPath(referrer), referrer, nil
}

func (h *Handlers) resolveFailed(c *gin.Context, asJSON bool, target, host string, err error) {
	var mismatch *services.HostMismatchError
	switch {
	case errors.Is(err, services.ErrInvalidTarget):
		h.respond(c, asJSON, http.StatusBadRequest,
			gin.H{"error": "Invalid email address"},
			info("Check email address",
				fmt.Sprintf("The form was sent to %q, which is not a valid email address.", target),
				"Fix the action attribute of the form and try again."))
	case errors.Is(err, services.ErrFormDisabled):
		h.respond(c, asJSON, http.StatusForbidden,
			gin.H{"error": "Form not active"},
			info("Form not active", "The owner of this form has disabled it."))
	case errors.As(err, &mismatch):
		h.respond(c, asJSON, http.StatusForbidden,
			gin.H{
				"error":     "Submission from different host than confirmed",
				"submitted": mismatch.Submitted,
				"confirmed": mismatch.Confirmed,
			},
			info("Check form address",
				fmt.Sprintf("This form is registered for %s, but it was submitted from %s.", mismatch.Confirmed, mismatch.Submitted),
				"If you own this form, create a new one for this page or update the page address."))
	case errors.Is(err, services.ErrAjaxFormCreationForbidden):
		h.respond(c, asJSON, http.StatusBadRequest,
			gin.H{"error": "To prevent spam, only upgraded accounts may create AJAX forms."},
			info("AJAX form not allowed",
				"Submit this form once without AJAX to confirm your email address, or create it from your account."))
	case errors.Is(err, services.ErrSpoofAttempt):
		h.respond(c, asJSON, http.StatusBadRequest,
			gin.H{"error": "Unable to submit form"},
			info("Unable to submit form", "Sorry"))
	default:
		lg := loggerFrom(c)
		lg.Error().Err(err).Str("host", host).Msg("resolve form")
		h.internalError(c, asJSON, err)
	}
}

func (h *Handlers) admitted(c *gin.Context, asJSON bool, target string, f *domain.Form, fs domain.Fields, res services.Result) {
	switch res.Outcome {
	case services.OutcomeSent:
		if asJSON {
			msg := "email sent"
			if res.EmailSkipped {
				msg = fmt.Sprintf("no email sent, access submission archive on %s dashboard", h.serviceName)
			}
			c.JSON(http.StatusOK, gin.H{"success": msg, "next": res.Next})
			return
		}
		c.Redirect(http.StatusFound, res.Next)

	case services.OutcomeQueuedConfirmation:
		p := info("Confirm your email",
			fmt.Sprintf("This form needs to be activated. We sent an email to %s with a link to confirm submissions from %s.", f.Email, f.Host),
			"Your message will be delivered as soon as the link is clicked.")
		if res.Duplicate {
			p = info("Confirm your email",
				fmt.Sprintf("A confirmation link was already sent to %s. The form on %s starts working once it is clicked.", f.Email, f.Host))
		}
		if res.Referrer != "" {
			p = p.withLink(res.Referrer, "Return to original site")
		}
		h.respond(c, asJSON, http.StatusOK, gin.H{"success": "confirmation email sent"}, p)

	case services.OutcomeOverQuota:
		h.respond(c, asJSON, http.StatusPaymentRequired,
			gin.H{"error": "form over quota"},
			info("Form over quota",
				"It looks like this form received too many submissions this month. The owner has been notified."))

	case services.OutcomeReplyToInvalid:
		h.respond(c, asJSON, http.StatusBadRequest,
			gin.H{"error": "_replyto or email field has not been sent correctly"},
			info("Invalid email address",
				fmt.Sprintf("You entered %s. That is an invalid email address. Please correct the form and try to submit again.", res.ReplyTo)).
				withLink(res.Referrer, "Back to the form"))

	case services.OutcomeEmpty:
		h.respond(c, asJSON, http.StatusBadRequest,
			gin.H{"error": "Can't send an empty form"},
			info("Can't send an empty form").withLink(res.Referrer, "Return to form"))

	case services.OutcomeRejected:
		msg := res.Message
		if msg == "" {
			msg = "Unable to send email"
		}
		h.respond(c, asJSON, http.StatusInternalServerError,
			gin.H{"error": msg},
			info("Unable to submit form", msg+". Please try again later."))

	case services.OutcomeChallenge:
		strs := captcha.Strings(fs.Get(services.FieldLanguage), c.GetHeader("Accept-Language"))
		h.render(c, http.StatusOK, "captcha.html", &captchaPage{
			chrome:    chrome{Lang: strs.Lang, Title: strs.Title, ServiceName: h.serviceName},
			Strings:   strs,
			Action:    h.serviceURL + "/" + url.PathEscape(target),
			Fields:    res.Fields,
			HostNonce: res.HostNonce,
			SiteKey:   h.recaptchaKey,
		})

	default:
		h.internalError(c, asJSON, fmt.Errorf("unknown outcome %q", res.Outcome))
	}
}
