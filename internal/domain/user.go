package domain

import "time"

type User struct {
	ID             UserID     `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	Email          string     `gorm:"type:citext;uniqueIndex:ux_users_email" db:"email" json:"email"`
	DisplayName    string     `gorm:"type:text" db:"display_name" json:"displayName"`
	EmailConfirmed bool       `gorm:"not null;default:false" db:"email_confirmed" json:"emailConfirmed"`
	IsDisabled     bool       `gorm:"not null;default:false" db:"is_disabled" json:"isDisabled"`

	// Password credential, argon2id. Params are stored alongside the hash so
	// verification always uses the cost the hash was created with.
	PasswordAlgo   string `gorm:"type:text" db:"password_algo" json:"-"`
	PasswordHash   []byte `gorm:"type:bytea" db:"password_hash" json:"-"`
	PasswordSalt   []byte `gorm:"type:bytea" db:"password_salt" json:"-"`
	PasswordParams []byte `gorm:"type:jsonb" db:"password_params" json:"-"`
	PasswordVer    int    `gorm:"not null;default:1" db:"password_ver" json:"-"`

	// Second factor. The per-login code lives in TwoFactorChallenge; this flag
	// only gates whether Login returns a TwoFactorRequired marker.
	TwoFactorEnabled bool `gorm:"not null;default:false" db:"two_factor_enabled" json:"twoFactorEnabled"`

	// Lockout bookkeeping: FailedLogins resets on success, LockedUntil is set
	// once the failure threshold is crossed inside the lockout window.
	FailedLogins    int        `gorm:"not null;default:0" db:"failed_logins" json:"-"`
	LastFailedLogin *time.Time `db:"last_failed_login" json:"-"`
	LockedUntil     *time.Time `db:"locked_until" json:"-"`

	CreatedAt time.Time `gorm:"not null" db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" db:"updated_at" json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// LockedAt reports whether the account is locked out at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

type EmailConfirmation struct {
	UserID    UserID    `gorm:"type:uuid;index" db:"user_id"`
	Token     string    `gorm:"type:text;uniqueIndex" db:"token"`
	ExpiresAt time.Time `gorm:"not null" db:"expires_at"`
	Consumed  bool      `gorm:"not null;default:false" db:"consumed"`
	CreatedAt time.Time `gorm:"not null" db:"created_at"`
}

func (EmailConfirmation) TableName() string { return "email_confirmations" }
