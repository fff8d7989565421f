package store

import (
	"context"
	"time"

	"fintrack-auth/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserStore struct{ db *gorm.DB }

func (s *Store) Users() *UserStore { return &UserStore{db: s.DB} }

func (u *UserStore) Create(ctx context.Context, usr *domain.User) error {
	if usr.ID == uuid.Nil {
		usr.ID = uuid.New()
	}
	return u.db.WithContext(ctx).Create(usr).Error
}

func (u *UserStore) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (u *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (u *UserStore) SetEmailConfirmed(ctx context.Context, userID domain.UserID) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("email_confirmed", true).Error
}

// RecordLoginFailure writes the caller-computed failure count (the service
// resets it when the previous failure fell outside the lockout window) and,
// once the threshold is crossed, stamps locked_until.
func (u *UserStore) RecordLoginFailure(ctx context.Context, userID domain.UserID, failures int, at time.Time, lockedUntil *time.Time) error {
	updates := map[string]interface{}{
		"failed_logins":     failures,
		"last_failed_login": at,
	}
	if lockedUntil != nil {
		updates["locked_until"] = *lockedUntil
	}
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(updates).Error
}

// ResetLoginFailures clears the lockout bookkeeping after a successful login.
func (u *UserStore) ResetLoginFailures(ctx context.Context, userID domain.UserID) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"failed_logins":     0,
			"last_failed_login": nil,
			"locked_until":      nil,
		}).Error
}

func (u *UserStore) UpdatePassword(ctx context.Context, usr *domain.User) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", usr.ID).
		Updates(map[string]interface{}{
			"password_algo":   usr.PasswordAlgo,
			"password_hash":   usr.PasswordHash,
			"password_salt":   usr.PasswordSalt,
			"password_params": usr.PasswordParams,
			"password_ver":    usr.PasswordVer,
			"updated_at":      time.Now().UTC(),
		}).Error
}
