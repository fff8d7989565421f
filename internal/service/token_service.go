package service

import (
	"time"

	"fintrack-auth/internal/domain"

	"github.com/google/uuid"
)

// AccessIdentity is what the bearer middleware learns from a valid access
// token before it consults the session registry.
type AccessIdentity struct {
	UserID    domain.UserID
	SessionID domain.SessionID
	TokenID   uuid.UUID // jti
	ExpiresAt time.Time
}

// TokenService signs and verifies JWTs. It holds no storage: the registry
// write that makes a token pair live happens in AuthService's transaction.
type TokenService interface {
	// SignAccess mints the short-lived access token for the session and
	// reports when it expires.
	SignAccess(user *domain.User, sess *domain.Session, now time.Time) (token string, expiresAt time.Time, err error)
	// SignRefresh mints the refresh token bound to sess.RefreshID.
	SignRefresh(user *domain.User, sess *domain.Session, now time.Time) (string, error)
	// VerifyAccess checks signature, expiry, issuer and audience. Expired
	// tokens return domain.ErrTokenExpired, anything else invalid returns
	// domain.ErrTokenInvalid.
	VerifyAccess(token string) (*AccessIdentity, error)
	// ParseRefresh validates the refresh JWT and returns the session id and
	// refresh jti it is bound to.
	ParseRefresh(token string) (sessionID domain.SessionID, refreshID uuid.UUID, err error)

	// SignTempToken mints the short-lived token that carries a pending
	// two-factor challenge between the two login steps.
	SignTempToken(challengeID domain.ChallengeID, userID domain.UserID, now time.Time) (string, error)
	ParseTempToken(token string) (challengeID domain.ChallengeID, userID domain.UserID, err error)
}

// PasswordService hashes and verifies password credentials.
type PasswordService interface {
	Hash(password string) (hash, salt, paramsJSON []byte, algo string, ver int, err error)
	Verify(password string, user *domain.User) (rehashNeeded bool, ok bool)
}
