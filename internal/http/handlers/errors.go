// Package handlers defines HTTP-layer error codes used by the owner API.
//
// Codes are lowercase snake_case and give clients a stable, machine-readable
// taxonomy alongside the human-readable message. Generic codes mirror HTTP
// status semantics; domain codes cover business rules that the status alone
// cannot express.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "feature_required",
//	  "message": "your plan does not include this feature"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeFeatureRequired    = "feature_required"
	ErrCodeInvalidEmail       = "invalid_email"
	ErrCodeInvalidURL         = "invalid_url"
	ErrCodeIllegalState       = "illegal_state"
	ErrCodeIdempotencyKey     = "idempotency_key_reused"
	ErrCodeSitewideUnverified = "sitewide_unverified"
)
