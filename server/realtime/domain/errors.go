package domain

import "errors"

var (
	ErrAuthentication  = errors.New("authentication required")
	ErrAuthorization   = errors.New("not authorized")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrTransport       = errors.New("transport failure")
	ErrInvalidArgument = errors.New("invalid argument")
)
