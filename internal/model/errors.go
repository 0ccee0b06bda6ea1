package model

import "errors"

var (
	ErrValidation           = errors.New("model: validation failed")
	ErrNotFound             = errors.New("model: not found")
	ErrTransientNetwork     = errors.New("model: transient network error")
	ErrMissingContactInfo   = errors.New("model: missing contact info")
	ErrPermissionDenied     = errors.New("model: permission denied")
	ErrMalformedInstruction = errors.New("model: malformed instruction")
)
