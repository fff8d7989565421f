package impl

import "errors"

var (
	ErrEmptyCredential = errors.New("email and password are required")
	ErrPasswordLength  = errors.New("password must be at least 8 characters")
	ErrEmptyPassword   = errors.New("empty password")
)
