package store

import (
	"context"
	"time"

	"fintrack-auth/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TwoFactorStore struct{ db *gorm.DB }

func (s *Store) TwoFactor() *TwoFactorStore { return &TwoFactorStore{db: s.DB} }

func (ts *TwoFactorStore) CreateChallenge(ctx context.Context, c *domain.TwoFactorChallenge) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return ts.db.WithContext(ctx).Create(c).Error
}

func (ts *TwoFactorStore) GetChallenge(ctx context.Context, id domain.ChallengeID) (*domain.TwoFactorChallenge, error) {
	var c domain.TwoFactorChallenge
	if err := ts.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ConsumeChallenge marks the challenge used; a consumed challenge never
// verifies again.
func (ts *TwoFactorStore) ConsumeChallenge(ctx context.Context, id domain.ChallengeID) error {
	return ts.db.WithContext(ctx).Model(&domain.TwoFactorChallenge{}).
		Where("id = ? AND consumed = false", id).
		Update("consumed", true).Error
}

// DeleteExpired clears stale challenges; wired to a periodic sweep in main.
func (ts *TwoFactorStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return ts.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&domain.TwoFactorChallenge{}).Error
}
