package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAPIKey indicates a missing or unknown API key.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrForbidden indicates the actor lacks a required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates a request failed domain validation.
	ErrValidation = errors.New("validation failed")
)
