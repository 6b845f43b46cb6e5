package domain

import "errors"

var (
	// ErrValidation marks a malformed client request outside the IPN flow.
	ErrValidation = errors.New("validation error")
	// ErrMemberNotFound is returned when the mailing list has no record for an email.
	ErrMemberNotFound = errors.New("member not found")

	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrVerificationFailed   = errors.New("ipn verification failed")
	ErrProviderUnreachable  = errors.New("ipn verification provider unreachable")
	ErrValidationRejected   = errors.New("notification rejected")
	ErrSyncProvider         = errors.New("mailing list provider error")
)
