// Package services defines the business logic for subscriptions and
// newsletter publishing. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Subscription-related errors.
var (
	// ErrInvalidEmail is returned when the submitted address fails validation.
	ErrInvalidEmail = errors.New("invalid subscriber email")

	// ErrInvalidName is returned when the submitted name is empty, too long,
	// or contains forbidden characters.
	ErrInvalidName = errors.New("invalid subscriber name")

	// ErrInvalidToken is returned when a confirmation token is malformed.
	ErrInvalidToken = errors.New("invalid subscription token")

	// ErrTokenNotFound indicates that the presented confirmation token does
	// not match any subscriber.
	ErrTokenNotFound = errors.New("subscription token not found")

	// ErrConfirmationEmail indicates the subscription was stored but the
	// confirmation email could not be sent.
	ErrConfirmationEmail = errors.New("failed to send confirmation email")
)

// Newsletter-related errors.
var (
	// ErrInvalidIdempotencyKey is returned when the Idempotency-Key header is
	// missing, empty, or longer than the allowed maximum.
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

	// ErrEmptyTitle is returned when a publish request has no title.
	ErrEmptyTitle = errors.New("newsletter title is empty")

	// ErrEmptyContent is returned when a publish request is missing the HTML
	// or text body.
	ErrEmptyContent = errors.New("newsletter content is empty")

	// ErrIssueNotFound indicates that the requested newsletter issue does
	// not exist.
	ErrIssueNotFound = errors.New("newsletter issue not found")
)
