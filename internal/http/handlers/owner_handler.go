// Owner API handlers.
//
// This file exposes the authenticated REST endpoints for dashboard forms:
//   - POST   /forms                                (create, Idempotency-Key aware)
//   - POST   /forms/sitewide-check                 (is the site's verification file in place?)
//   - GET    /forms                                (list, paginated, ETag support)
//   - GET    /forms/{hashid}                       (read)
//   - PATCH  /forms/{hashid}                       (settings)
//   - DELETE /forms/{hashid}                       (delete with archive)
//   - GET    /forms/{hashid}/submissions           (archive, paginated or ?q= search, ETag support)
//   - DELETE /forms/{hashid}/submissions/{id}      (delete one submission)
//   - PUT    /forms/{hashid}/template              (custom notification)
//   - DELETE /forms/{hashid}/template              (restore default notification)
//
// The account id comes from middleware.Auth.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/http/middleware"
	"github.com/formrelay/formrelay/internal/services"
	"github.com/formrelay/formrelay/internal/utils"
)

//
// DTOs
//

// CreateFormRequest is the JSON payload for creating a dashboard form.
type CreateFormRequest struct {
	// Email receives the submissions.
	Email string `json:"email" binding:"required,max=320" example:"owner@example.com"`
	// URL optionally binds the form to a page (or, with Sitewide, a whole site).
	URL string `json:"url" binding:"omitempty,max=512" example:"https://example.com/contact"`
	// Sitewide accepts submissions from every page of URL's site.
	Sitewide bool `json:"sitewide" example:"false"`
}

// SitewideCheckRequest asks whether a sitewide form for Email could be
// created on URL.
type SitewideCheckRequest struct {
	Email string `json:"email" binding:"required,max=320" example:"owner@example.com"`
	URL   string `json:"url" binding:"required,max=512" example:"https://example.com"`
}

// SitewideCheckResponse reports the verification file consulted and whether
// it lists the email.
type SitewideCheckResponse struct {
	OK   bool   `json:"ok"`
	File string `json:"file" example:"https://example.com/formrelay-verify.txt"`
}

// UpdateFormRequest carries optional setting changes; omitted fields are
// left alone.
type UpdateFormRequest struct {
	Disabled        *bool `json:"disabled" example:"false"`
	CaptchaDisabled *bool `json:"captcha_disabled" example:"true"`
	DisableEmail    *bool `json:"disable_email" example:"false"`
	DisableStorage  *bool `json:"disable_storage" example:"false"`
}

// TemplateRequest is the custom notification of a form. Body is Markdown
// with {{ field }} placeholders.
type TemplateRequest struct {
	Subject  string `json:"subject" binding:"max=255" example:"New message from {{ name }}"`
	FromName string `json:"from_name" binding:"max=255" example:"Example Inc"`
	Style    string `json:"style" binding:"max=20000" example:"h1 { color: #333 }"`
	Body     string `json:"body" binding:"required,max=100000" example:"**{{ name }}** wrote: {{ message }}"`
}

// FormResponse is the public representation of a form.
type FormResponse struct {
	HashID          string    `json:"hashid" example:"kQ3x9Z"`
	Email           string    `json:"email" example:"owner@example.com"`
	Host            string    `json:"host" example:"example.com/contact"`
	Sitewide        bool      `json:"sitewide"`
	State           string    `json:"state" example:"active"`
	CaptchaDisabled bool      `json:"captcha_disabled"`
	DisableEmail    bool      `json:"disable_email"`
	DisableStorage  bool      `json:"disable_storage"`
	Counter         int       `json:"counter" example:"12"`
	MonthlyCount    *int64    `json:"monthly_count,omitempty" example:"3"` // single-form reads only
	SubmitURL       string    `json:"submit_url" example:"https://formrelay.example/kQ3x9Z"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListFormsResponse wraps a page of forms and pagination information.
type ListFormsResponse struct {
	Forms      []FormResponse `json:"forms"`
	Pagination Pagination     `json:"pagination"`
}

// ListSubmissionsResponse wraps a page of archived submissions.
type ListSubmissionsResponse struct {
	Submissions []domain.Submission `json:"submissions"`
	Pagination  Pagination          `json:"pagination"`
}

//
// Helpers
//

// clampPagination reads page and page_size, falling back to defaults and
// capping page_size at 100.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.Page(c.Query("page"), c.Query("page_size"))
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

func (h *Handlers) formResponse(f *domain.Form) FormResponse {
	hid := h.keys.EncodeID(f.ID)
	return FormResponse{
		HashID:          hid,
		Email:           f.Email,
		Host:            f.Host,
		Sitewide:        f.Sitewide,
		State:           string(f.State),
		CaptchaDisabled: f.CaptchaDisabled,
		DisableEmail:    f.DisableEmail,
		DisableStorage:  f.DisableStorage,
		Counter:         f.Counter,
		SubmitURL:       h.serviceURL + "/" + hid,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

// userID returns the authenticated account. Routes are mounted behind
// middleware.Auth, so a missing id is a wiring error.
func userID(c *gin.Context) (uint, bool) {
	id, found := middleware.UserID(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}
	return id, found
}

// etag sets a weak ETag built from (kind, scope, count, newest change) and
// reports whether the client's If-None-Match already matches it.
func etag(c *gin.Context, kind, scope string, count int64, maxTS *time.Time) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	tag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, scope, count, ts)
	c.Header("ETag", tag)
	return c.GetHeader("If-None-Match") == tag
}

//
// Handlers
//

// CreateForm godoc
// @ID          createForm
// @Summary     Create a dashboard form
// @Description Creates a form owned by the current account. The form is active right away when the email is one of the account's verified addresses; otherwise a confirmation email is sent. Supports idempotency via the Idempotency-Key header (same key → same form).
// @Tags        Forms
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateFormRequest  true  "Create form payload"
//
// @Success     201  {object}  handlers.FormResponse
// @Success     200  {object}  handlers.FormResponse  "Replayed by Idempotency-Key"
// @Header      200  {string}  Idempotency-Replayed   "true when served from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     402  {object}  handlers.ErrorResponse  "Plan does not include dashboard forms"
// @Failure     403  {object}  handlers.ErrorResponse  "Sitewide form without a verification file listing the email"
// @Failure     422  {object}  handlers.ErrorResponse  "Idempotency-Key reused with a different body"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/forms [post]
func (h *Handlers) CreateForm(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	var req CreateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email is required")
		return
	}
	idemKey := middleware.IdempotencyKey(c)

	f, replayed, err := h.owners.CreateForm(c.Request.Context(), uid, services.CreateFormInput{
		Email:    strings.TrimSpace(req.Email),
		URL:      strings.TrimSpace(req.URL),
		Sitewide: req.Sitewide,
	}, idemKey)
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, h.formResponse(f))
		return
	}
	ok(c, http.StatusCreated, h.formResponse(f))
}

// ListForms godoc
// @ID          listForms
// @Summary     List dashboard forms (paginated)
// @Description Returns a page of the account's forms, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Forms
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"forms:1:3:1715342400\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListFormsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/forms [get]
func (h *Handlers) ListForms(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.owners.FormsVersion(ctx, uid); err == nil {
		scope := strconv.FormatUint(uint64(uid), 10) + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
		if etag(c, "forms", scope, count, maxTS) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.owners.ListForms(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	out := make([]FormResponse, 0, len(items))
	for i := range items {
		out = append(out, h.formResponse(&items[i]))
	}
	ok(c, http.StatusOK, ListFormsResponse{Forms: out, Pagination: newPagination(page, pageSize, total)})
}

// GetForm godoc
// @ID          getForm
// @Summary     Get a form
// @Tags        Forms
// @Produce     json
// @Security    BearerAuth
// @Param       hashid  path  string  true  "Form hash-id"
// @Success     200  {object}  handlers.FormResponse  "Includes this month's submission count"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a controller of the form"
// @Failure     404  {object}  handlers.ErrorResponse  "Form not found"
// @Router      /api/v1/forms/{hashid} [get]
func (h *Handlers) GetForm(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	f, err := h.owners.GetForm(ctx, uid, c.Param("hashid"))
	if err != nil {
		failErr(c, err)
		return
	}
	resp := h.formResponse(f)
	if n, err := h.owners.MonthlyCount(ctx, f.ID); err != nil {
		loggerFrom(c).Warn().Err(err).Uint("form_id", f.ID).Msg("monthly count unavailable")
	} else {
		resp.MonthlyCount = &n
	}
	ok(c, http.StatusOK, resp)
}

// SitewideCheck godoc
// @ID          sitewideCheck
// @Summary     Check a site's verification file
// @Description Sitewide forms need a file named formrelay-verify.txt at the site root with a line holding the form's email. This reports whether that file is in place before the form is created.
// @Tags        Forms
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.SitewideCheckRequest  true  "Site and email"
// @Success     200  {object}  handlers.SitewideCheckResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse  "Plan does not include dashboard forms"
// @Router      /api/v1/forms/sitewide-check [post]
func (h *Handlers) SitewideCheck(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	var req SitewideCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and url are required")
		return
	}
	file, verified, err := h.owners.CheckSitewide(c.Request.Context(), uid, strings.TrimSpace(req.URL), strings.TrimSpace(req.Email))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SitewideCheckResponse{OK: verified, File: file})
}

// UpdateForm godoc
// @ID          updateForm
// @Summary     Change form settings
// @Description Disables or enables the form and toggles CAPTCHA, email delivery and archiving. CAPTCHA and email toggles need a plan with dashboard features.
// @Tags        Forms
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       hashid  path  string  true  "Form hash-id"
// @Param       body    body  handlers.UpdateFormRequest  true  "Settings to change"
// @Success     200  {object}  handlers.FormResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse  "Plan does not include this feature"
// @Failure     404  {object}  handlers.ErrorResponse  "Form not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Form is not confirmed"
// @Router      /api/v1/forms/{hashid} [patch]
func (h *Handlers) UpdateForm(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	var req UpdateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	f, err := h.owners.UpdateForm(c.Request.Context(), uid, c.Param("hashid"), services.FormUpdate{
		Disabled:        req.Disabled,
		CaptchaDisabled: req.CaptchaDisabled,
		DisableEmail:    req.DisableEmail,
		DisableStorage:  req.DisableStorage,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, h.formResponse(f))
}

// DeleteForm godoc
// @ID          deleteForm
// @Summary     Delete a form
// @Description Deletes the form together with its archived submissions and template.
// @Tags        Forms
// @Security    BearerAuth
// @Param       hashid  path  string  true  "Form hash-id"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Form not found"
// @Router      /api/v1/forms/{hashid} [delete]
func (h *Handlers) DeleteForm(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	if err := h.owners.DeleteForm(c.Request.Context(), uid, c.Param("hashid")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListSubmissions godoc
// @ID          listSubmissions
// @Summary     List archived submissions (paginated)
// @Description Returns a page of the form's archive, newest first. With q, returns up to page_size submissions ranked by relevance instead. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Submissions
// @Produce     json
// @Security    BearerAuth
//
// @Param       hashid         path    string  true  "Form hash-id"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Param       q              query   string  false "Free-text search over field names and values"
//
// @Success     200  {object} handlers.ListSubmissionsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Form not found"
// @Router      /api/v1/forms/{hashid}/submissions [get]
func (h *Handlers) ListSubmissions(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	ctx := c.Request.Context()
	hashid := c.Param("hashid")
	page, pageSize := clampPagination(c)

	count, maxTS, err := h.owners.SubmissionsVersion(ctx, uid, hashid)
	if err != nil {
		failErr(c, err)
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	scope := hashid + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
	if q != "" {
		scope += ":q=" + q
	}
	if etag(c, "submissions", scope, count, maxTS) {
		c.Status(http.StatusNotModified)
		return
	}

	if q != "" {
		hits, err := h.owners.SearchSubmissions(ctx, uid, hashid, q, pageSize)
		if err != nil {
			failErr(c, err)
			return
		}
		ok(c, http.StatusOK, ListSubmissionsResponse{Submissions: hits, Pagination: newPagination(1, pageSize, int64(len(hits)))})
		return
	}

	items, total, err := h.owners.ListSubmissions(ctx, uid, hashid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListSubmissionsResponse{Submissions: items, Pagination: newPagination(page, pageSize, total)})
}

// DeleteSubmission godoc
// @ID          deleteSubmission
// @Summary     Delete an archived submission
// @Tags        Submissions
// @Security    BearerAuth
// @Param       hashid  path  string  true  "Form hash-id"
// @Param       id      path  int     true  "Submission id"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Submission not found"
// @Router      /api/v1/forms/{hashid}/submissions/{id} [delete]
func (h *Handlers) DeleteSubmission(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	sid, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || sid == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "submission id must be a positive integer")
		return
	}
	if err := h.owners.DeleteSubmission(c.Request.Context(), uid, c.Param("hashid"), uint(sid)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// PutTemplate godoc
// @ID          putTemplate
// @Summary     Set the custom notification
// @Description Stores a Markdown notification template for the form. Needs a plan with whitelabel.
// @Tags        Templates
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       hashid  path  string  true  "Form hash-id"
// @Param       body    body  handlers.TemplateRequest  true  "Template"
// @Success     200  {object}  domain.EmailTemplate
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse  "Plan does not include whitelabel"
// @Failure     404  {object}  handlers.ErrorResponse  "Form not found"
// @Router      /api/v1/forms/{hashid}/template [put]
func (h *Handlers) PutTemplate(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body is required")
		return
	}
	t, err := h.owners.PutTemplate(c.Request.Context(), uid, c.Param("hashid"), domain.EmailTemplate{
		Subject:  req.Subject,
		FromName: req.FromName,
		Style:    req.Style,
		Body:     req.Body,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// DeleteTemplate godoc
// @ID          deleteTemplate
// @Summary     Restore the default notification
// @Tags        Templates
// @Security    BearerAuth
// @Param       hashid  path  string  true  "Form hash-id"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Form not found"
// @Router      /api/v1/forms/{hashid}/template [delete]
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	uid, found := userID(c)
	if !found {
		return
	}
	if err := h.owners.DeleteTemplate(c.Request.Context(), uid, c.Param("hashid")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
