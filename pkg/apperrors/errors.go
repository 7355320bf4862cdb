package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrTenantMismatch   = errors.New("record belongs to another tenant")
	ErrSessionNotActive = errors.New("channel session is not active")
	ErrNoAuthFlow       = errors.New("no pending auth flow; start auth first")
	ErrEmptyDocument    = errors.New("document contains no extractable text")
)
