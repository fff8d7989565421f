package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is the durable registry row created on every successful login.
// At most one row per user is active at any instant: the issuing transaction
// revokes all prior rows before inserting the new one.
type Session struct {
	ID     SessionID `gorm:"type:uuid;primaryKey" db:"id"`
	UserID UserID    `gorm:"type:uuid;index" db:"user_id"`

	// TokenID is the jti of the currently valid access token. Rotated on
	// refresh, so a stale access token fails the registry lookup even before
	// its exp passes.
	TokenID uuid.UUID `gorm:"type:uuid;uniqueIndex:ux_sessions_token_id" db:"token_id"`

	// RefreshID binds the refresh JWT's jti to this row; the raw refresh token
	// is never stored, only a salted hash of it.
	RefreshID   uuid.UUID `gorm:"type:uuid;uniqueIndex:ux_sessions_refresh_id" db:"refresh_id"`
	RefreshHash string    `gorm:"type:text" db:"refresh_hash"`
	RefreshSalt string    `gorm:"type:text" db:"refresh_salt"`

	ExpiresAt      time.Time  `gorm:"not null" db:"expires_at"`
	RevokedAt      *time.Time `db:"revoked_at"`
	LastAccessedAt *time.Time `db:"last_accessed_at"`
	CreatedAt      time.Time  `gorm:"not null" db:"created_at"`

	IP        string `gorm:"type:inet" db:"ip"`
	UserAgent string `gorm:"type:text" db:"user_agent"`
}

func (Session) TableName() string { return "sessions" }

// ActiveAt reports whether the session is neither revoked nor expired at the
// given instant.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// TwoFactorChallenge is a pending second-factor prompt created when a password
// check succeeds for a 2FA-enabled user. The 6-digit code is stored hashed.
type TwoFactorChallenge struct {
	ID        ChallengeID `gorm:"type:uuid;primaryKey" db:"id"`
	UserID    UserID      `gorm:"type:uuid;index" db:"user_id"`
	CodeHash  string      `gorm:"type:text" db:"code_hash"`
	ExpiresAt time.Time   `gorm:"not null" db:"expires_at"`
	Consumed  bool        `gorm:"not null;default:false" db:"consumed"`
	CreatedAt time.Time   `gorm:"not null" db:"created_at"`
}

func (TwoFactorChallenge) TableName() string { return "two_factor_challenges" }
