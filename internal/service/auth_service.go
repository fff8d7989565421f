package service

import (
	"context"

	"fintrack-auth/internal/dto"
)

// LoginResult is either a token pair or a two-factor marker, never both.
type LoginResult struct {
	Tokens    *dto.TokenResponse
	TwoFactor *dto.TwoFactorResponse
}

// AuthService owns the credential and session lifecycle: it is the only
// writer of the session registry.
type AuthService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error)
	ConfirmEmail(ctx context.Context, token string) error

	// Login authenticates email/password. On success it atomically revokes
	// every prior active session for the user and inserts the new one.
	Login(ctx context.Context, req dto.LoginRequest, ip, ua string) (*LoginResult, error)

	// LoginTwoFactor completes a login that returned a TwoFactor marker.
	LoginTwoFactor(ctx context.Context, req dto.LoginTwoFactorRequest, ip, ua string) (*dto.TokenResponse, error)

	// Refresh rotates the refresh credential and returns a new token pair.
	Refresh(ctx context.Context, req dto.RefreshRequest, ip, ua string) (*dto.TokenResponse, error)

	// Logout revokes the session; revoking twice is a successful no-op.
	Logout(ctx context.Context, sessionID string) error

	CurrentUser(ctx context.Context, userID string) (*dto.UserResponse, error)
}

// CodeSender delivers a second-factor code out of band. Email/SMS transport is
// an external collaborator; main wires a logging sender by default.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}
