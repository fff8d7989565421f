package domain

import "errors"

// Failure taxonomy for the credential/session lifecycle. Transport maps these
// with errors.Is; none of them is ever retried silently.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account locked")
	ErrEmailNotConfirmed    = errors.New("email not confirmed")
	ErrUserDisabled         = errors.New("user disabled")
	ErrTwoFactorInvalidCode = errors.New("invalid two-factor code")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token signature invalid")
	ErrSessionRevoked       = errors.New("session revoked")
	ErrRefreshTokenInvalid  = errors.New("invalid or expired refresh token")
	ErrEmailTaken           = errors.New("email already registered")
)
