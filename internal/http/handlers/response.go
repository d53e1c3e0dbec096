// Package handlers provides HTTP handler implementations for the public
// pages and the owner API.
//
// Owner API errors share one envelope:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "form not found"
//	}
//
// Submission endpoints answer through respond() in pages.go instead, which
// negotiates between an HTML page and the {"error": ...} body form scripts
// expect.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/formrelay/formrelay/internal/http/middleware"
	"github.com/formrelay/formrelay/internal/services"
)

// ErrorResponse is the error envelope of the owner API.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Safe to show to users
	Message string `json:"message" example:"form not found"`
}

// apiError is how one service error surfaces through the API.
type apiError struct {
	target  error
	status  int
	code    string
	message string
}

var apiErrors = []apiError{
	{services.ErrFormNotFound, http.StatusNotFound, ErrCodeNotFound, "form not found"},
	{services.ErrSubmissionNotFound, http.StatusNotFound, ErrCodeNotFound, "submission not found"},
	{services.ErrForbidden, http.StatusForbidden, ErrCodeForbidden, "you do not control this form"},
	{services.ErrFeatureRequired, http.StatusPaymentRequired, ErrCodeFeatureRequired, "your plan does not include this feature"},
	{services.ErrInvalidEmail, http.StatusBadRequest, ErrCodeInvalidEmail, "invalid email address"},
	{services.ErrInvalidURL, http.StatusBadRequest, ErrCodeInvalidURL, "url must be absolute, like https://example.com/contact"},
	{services.ErrIllegalState, http.StatusConflict, ErrCodeIllegalState, "the form must be confirmed before it can be disabled or enabled"},
	{services.ErrUserNotFound, http.StatusUnauthorized, ErrCodeUnauthorized, "account not found"},
	{services.ErrIdempotencyMismatch, http.StatusUnprocessableEntity, ErrCodeIdempotencyKey, "Idempotency-Key was already used with a different request body"},
	// names the file that was checked
	{services.ErrSitewideUnverified, http.StatusForbidden, ErrCodeSitewideUnverified, ""},
}

// failErr answers with the envelope registered for err. Unknown errors become
// a 500 whose cause is logged but not echoed to the client.
func failErr(c *gin.Context, err error) {
	for _, e := range apiErrors {
		if errors.Is(err, e.target) {
			msg := e.message
			if msg == "" {
				msg = err.Error()
			}
			fail(c, e.status, e.code, msg)
			return
		}
	}
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}

// fail aborts with the error envelope. 5xx responses are also logged on the
// request logger, with the gin error chain when there is one.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := loggerFrom(c).Error().Int("status", status).Str("code", code)
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			ev = ev.Str("cause", errs.String())
		}
		ev.Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer NoRoute/NoMethod with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }

func loggerFrom(c *gin.Context) *zerolog.Logger { return middleware.LoggerFrom(c) }
