// Confirmation and unsubscribe pages.
//
//   - GET  /confirm/{token}               confirm a form's email
//   - GET  /unconfirm/{id}                email the owner an unsubscribe link
//   - GET  /unconfirm/{id}/{digest}       unsubscribe, offer sibling forms
//   - POST /unconfirm/{id}/{digest}       one-click List-Unsubscribe
//   - POST /unconfirm/multiple            unsubscribe the selected siblings
//   - GET  /thanks                        default thank-you page
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/formrelay/formrelay/internal/services"
)

// unconfirmCookie carries the unsubscribing email from the digest page to
// the multi-form post.
const (
	unconfirmCookie       = "formrelay_unconfirm"
	unconfirmCookieMaxAge = 3600
)

func (h *Handlers) invalidLink(c *gin.Context) {
	h.respond(c, wantsJSON(c.Request, false), http.StatusBadRequest,
		gin.H{"error": "Not a valid link"},
		info("Not a valid link", "Confirmation token not found.", "Please check the link and try again."))
}

// Confirm godoc
// @ID          confirmEmail
// @Summary     Confirm a form's email
// @Description Activates the form named by the token and delivers the submission that triggered the confirmation.
// @Tags        Confirmation
// @Produce     html,json
// @Param       token  path  string  true  "Confirmation token from the email"
// @Success     200  {string}  string  "Email confirmed page"
// @Failure     400  {string}  string  "Not a valid link"
// @Router      /confirm/{token} [get]
func (h *Handlers) Confirm(c *gin.Context) {
	f, replay, err := h.confirms.Confirm(c.Request.Context(), c.Param("token"))
	if errors.Is(err, services.ErrInvalidToken) {
		h.invalidLink(c)
		return
	}
	if err != nil {
		h.internalError(c, wantsJSON(c.Request, false), err)
		return
	}

	paras := []string{fmt.Sprintf("%s is now confirmed to receive submissions from %s.", f.Email, f.Host)}
	delivered := replay != nil && replay.Outcome == services.OutcomeSent
	if delivered {
		paras = append(paras, "The submission that was waiting for this confirmation has been delivered.")
	}
	h.respond(c, wantsJSON(c.Request, false), http.StatusOK,
		gin.H{"success": "email confirmed", "email": f.Email, "host": f.Host, "delivered": delivered},
		info("Email confirmed", paras...))
}

// RequestUnconfirm godoc
// @ID          requestUnconfirm
// @Summary     Request an unsubscribe link
// @Description Emails the form's owner a signed link to stop submissions. Only browsers are answered, so link scanners cannot trigger it.
// @Tags        Confirmation
// @Produce     html,json
// @Param       id  path  string  true  "Form hash-id"
// @Success     200  {string}  string  "Check your inbox page"
// @Failure     400  {string}  string  "Not a valid link"
// @Router      /unconfirm/{id} [get]
func (h *Handlers) RequestUnconfirm(c *gin.Context) {
	asJSON := wantsJSON(c.Request, false)
	f, err := h.confirms.RequestUnsubscribe(c.Request.Context(), c.Param("id"), c.Request.UserAgent())
	switch {
	case errors.Is(err, services.ErrNotBrowser):
		h.respond(c, asJSON, http.StatusOK,
			gin.H{"error": "Open this link in a browser"},
			info("Open this link in a browser", "This link only works when opened in a web browser."))
		return
	case errors.Is(err, services.ErrFormNotFound):
		h.invalidLink(c)
		return
	case err != nil:
		h.internalError(c, asJSON, err)
		return
	}
	if !f.Confirmed() {
		h.respond(c, asJSON, http.StatusOK,
			gin.H{"success": "form is not active"},
			info("Form not active", fmt.Sprintf("The form on %s is not sending submissions to anyone.", f.Host)))
		return
	}
	h.respond(c, asJSON, http.StatusOK,
		gin.H{"success": "unsubscribe link sent"},
		info("Check your inbox",
			fmt.Sprintf("We sent %s a link to stop submissions from %s.", f.Email, f.Host)))
}

// UnconfirmPage godoc
// @ID          unconfirmForm
// @Summary     Stop submissions for a form
// @Description Returns the form to pending confirmation and lists other forms delivering to the same email.
// @Tags        Confirmation
// @Produce     html
// @Param       id      path  string  true  "Form hash-id"
// @Param       digest  path  string  true  "Signed digest of the form id"
// @Success     200  {string}  string  "Form disabled page"
// @Failure     400  {string}  string  "Not a valid link"
// @Router      /unconfirm/{id}/{digest} [get]
func (h *Handlers) UnconfirmPage(c *gin.Context) {
	ctx := c.Request.Context()
	f, err := h.confirms.Unsubscribe(ctx, c.Param("id"), c.Param("digest"))
	if errors.Is(err, services.ErrInvalidDigest) || errors.Is(err, services.ErrFormNotFound) {
		h.invalidLink(c)
		return
	}
	if err != nil {
		h.internalError(c, false, err)
		return
	}

	others, err := h.confirms.FormsSharingEmail(ctx, f)
	if err != nil {
		h.internalError(c, false, err)
		return
	}
	page := unconfirmPage{
		chrome: chrome{Title: "Form disabled", ServiceName: h.serviceName},
		Email:  f.Email,
		Host:   f.Host,
		Action: h.serviceURL + "/unconfirm/multiple",
	}
	if len(others) > 0 && h.cookies != nil {
		value, err := h.cookies.Encode(unconfirmCookie, f.Email)
		if err != nil {
			h.internalError(c, false, err)
			return
		}
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(unconfirmCookie, value, unconfirmCookieMaxAge, "/unconfirm", "", h.secureCookies(), true)
		for _, o := range others {
			page.Others = append(page.Others, siblingForm{HashID: h.keys.EncodeID(o.ID), Host: o.Host})
		}
	}
	h.render(c, http.StatusOK, "unconfirm.html", &page)
}

// UnconfirmOneClick godoc
// @ID          unconfirmOneClick
// @Summary     One-click unsubscribe
// @Description RFC 8058 List-Unsubscribe-Post target. Returns the form to pending confirmation.
// @Tags        Confirmation
// @Produce     json
// @Param       id      path  string  true  "Form hash-id"
// @Param       digest  path  string  true  "Signed digest of the form id"
// @Success     200  {object}  map[string]string
// @Failure     400  {object}  map[string]string
// @Router      /unconfirm/{id}/{digest} [post]
func (h *Handlers) UnconfirmOneClick(c *gin.Context) {
	_, err := h.confirms.Unsubscribe(c.Request.Context(), c.Param("id"), c.Param("digest"))
	if errors.Is(err, services.ErrInvalidDigest) || errors.Is(err, services.ErrFormNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Not a valid link"})
		return
	}
	if err != nil {
		h.internalError(c, true, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "unsubscribed"})
}

// UnconfirmMultiple godoc
// @ID          unconfirmMultiple
// @Summary     Stop submissions for several forms
// @Description Unsubscribes the selected forms that deliver to the email remembered by the unsubscribe page.
// @Tags        Confirmation
// @Accept      x-www-form-urlencoded
// @Produce     html
// @Param       form_ids  formData  []string  true  "Form hash-ids"  collectionFormat(multi)
// @Success     200  {string}  string  "Success page"
// @Failure     400  {string}  string  "Not a valid link"
// @Router      /unconfirm/multiple [post]
func (h *Handlers) UnconfirmMultiple(c *gin.Context) {
	raw, err := c.Cookie(unconfirmCookie)
	var email string
	if err != nil || h.cookies == nil || h.cookies.Decode(unconfirmCookie, raw, &email) != nil || email == "" {
		h.page(c, http.StatusBadRequest, info("Not a valid link",
			"This page has expired. Open the unsubscribe link from your email again."))
		return
	}

	var ids []uint
	for _, hid := range c.PostFormArray("form_ids") {
		if id, err := h.keys.DecodeID(hid); err == nil {
			ids = append(ids, id)
		}
	}
	n, err := h.confirms.UnsubscribeMany(c.Request.Context(), email, ids)
	if err != nil {
		h.internalError(c, false, err)
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(unconfirmCookie, "", -1, "/unconfirm", "", h.secureCookies(), true)

	msg := "No forms were changed."
	switch {
	case n == 1:
		msg = "1 more form will stop sending submissions to " + email + "."
	case n > 1:
		msg = fmt.Sprintf("%d more forms will stop sending submissions to %s.", n, email)
	}
	h.page(c, http.StatusOK, info("Success", msg))
}

// Thanks godoc
// @ID          thanks
// @Summary     Default thank-you page
// @Tags        Submissions
// @Produce     html
// @Param       next  query  string  false  "Page to link back to"
// @Success     200  {string}  string  "Thank-you page"
// @Router      /thanks [get]
func (h *Handlers) Thanks(c *gin.Context) {
	p := info("Thanks!", "The form was submitted successfully.")
	if next := c.Query("next"); isWebURL(next) {
		p = p.withLink(next, "Return to original site")
	}
	h.page(c, http.StatusOK, p)
}

func (h *Handlers) secureCookies() bool {
	return strings.HasPrefix(h.serviceURL, "https://")
}

func isWebURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
