package store

import (
	"context"
	"time"

	"fintrack-auth/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SessionStore struct{ db *gorm.DB }

func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.DB} }

func (ss *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	return ss.db.WithContext(ctx).Create(sess).Error
}

func (ss *SessionStore) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var sess domain.Session
	if err := ss.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// GetByTokenID resolves the registry row for an access token's jti. This is
// the per-request revocation check, so it stays a single indexed lookup.
func (ss *SessionStore) GetByTokenID(ctx context.Context, tokenID uuid.UUID) (*domain.Session, error) {
	var sess domain.Session
	if err := ss.db.WithContext(ctx).First(&sess, "token_id = ?", tokenID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (ss *SessionStore) GetByRefreshID(ctx context.Context, refreshID uuid.UUID) (*domain.Session, error) {
	var sess domain.Session
	if err := ss.db.WithContext(ctx).First(&sess, "refresh_id = ?", refreshID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// Revoke marks the session revoked. Revoking an already-revoked session is a
// no-op, which makes logout idempotent.
func (ss *SessionStore) Revoke(ctx context.Context, id domain.SessionID, at time.Time) error {
	return ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at).Error
}

// RevokeAllForUser revokes every active session of the user and returns how
// many rows were affected.
func (ss *SessionStore) RevokeAllForUser(ctx context.Context, userID domain.UserID, at time.Time) (int64, error) {
	tx := ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", at)
	return tx.RowsAffected, tx.Error
}

// Rotate swaps in the next access jti and refresh credential after a
// successful refresh, extending the session's expiry.
func (ss *SessionStore) Rotate(ctx context.Context, id domain.SessionID, tokenID, refreshID uuid.UUID, refreshHash, refreshSalt string, expiresAt time.Time) error {
	return ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"token_id":     tokenID,
			"refresh_id":   refreshID,
			"refresh_hash": refreshHash,
			"refresh_salt": refreshSalt,
			"expires_at":   expiresAt,
		}).Error
}

// DeleteExpired removes rows that can no longer authenticate anything: sessions
// past their expiry and sessions revoked before the cutoff.
func (ss *SessionStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return ss.db.WithContext(ctx).
		Where("expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)", before, before).
		Delete(&domain.Session{}).Error
}

// TouchLastAccessed is a best-effort write on the request path; callers run it
// fire-and-forget.
func (ss *SessionStore) TouchLastAccessed(ctx context.Context, id domain.SessionID, at time.Time) error {
	return ss.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("last_accessed_at", at).Error
}
