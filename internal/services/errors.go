// Package services holds the submission pipeline and the operations built
// around it. This file centralizes service-level error values so that they can
// be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Resolution errors.
var (
	// ErrInvalidTarget: the target is neither a valid email nor a known form id.
	ErrInvalidTarget = errors.New("invalid email address or form id")

	// ErrFormDisabled: the owner switched the form off.
	ErrFormDisabled = errors.New("form not active")

	// ErrAjaxFormCreationForbidden: an AJAX caller tried to create a form by
	// submitting to an unseen email/host pair.
	ErrAjaxFormCreationForbidden = errors.New("ajax form creation forbidden")

	// ErrSpoofAttempt: a new form was requested for a page on the service's
	// own domain.
	ErrSpoofAttempt = errors.New("unable to submit form")
)

// HostMismatchError is returned when a submission comes from a host other
// than the one the form is bound to.
type HostMismatchError struct {
	Submitted string
	Confirmed string
}

func (e *HostMismatchError) Error() string {
	return fmt.Sprintf("submission host %q does not match confirmed host %q", e.Submitted, e.Confirmed)
}

// Confirmation and unsubscribe errors.
var (
	ErrInvalidToken  = errors.New("invalid confirmation token")
	ErrInvalidDigest = errors.New("invalid unsubscribe link")
	ErrNotBrowser    = errors.New("request must come from a browser")
)

// Owner API errors.
var (
	ErrFormNotFound       = errors.New("form not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrForbidden          = errors.New("not allowed to manage this form")
	ErrFeatureRequired    = errors.New("plan does not include this feature")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidURL         = errors.New("invalid url")
	ErrIllegalState       = errors.New("form state does not allow this change")
	ErrUserNotFound       = errors.New("user not found")

	// ErrIdempotencyMismatch: an Idempotency-Key was reused with a different
	// request payload.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different input")

	// ErrSitewideUnverified: the site's verification file does not list the
	// form's email.
	ErrSitewideUnverified = errors.New("sitewide verification failed")
)

// SitewideUnverifiedError names the verification file that was checked.
// It matches ErrSitewideUnverified.
type SitewideUnverifiedError struct {
	FileURL string
}

func (e *SitewideUnverifiedError) Error() string {
	return fmt.Sprintf("couldn't verify the file at %s", e.FileURL)
}

func (e *SitewideUnverifiedError) Is(target error) bool { return target == ErrSitewideUnverified }
