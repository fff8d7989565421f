package store

import (
	"context"

	"fintrack-auth/internal/domain"

	"gorm.io/gorm"
)

type ConfirmationStore struct{ db *gorm.DB }

func (s *Store) Confirmations() *ConfirmationStore { return &ConfirmationStore{db: s.DB} }

func (cs *ConfirmationStore) Create(ctx context.Context, c *domain.EmailConfirmation) error {
	return cs.db.WithContext(ctx).Create(c).Error
}

func (cs *ConfirmationStore) GetByToken(ctx context.Context, token string) (*domain.EmailConfirmation, error) {
	var c domain.EmailConfirmation
	if err := cs.db.WithContext(ctx).First(&c, "token = ?", token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (cs *ConfirmationStore) Consume(ctx context.Context, token string) error {
	return cs.db.WithContext(ctx).Model(&domain.EmailConfirmation{}).
		Where("token = ? AND consumed = false", token).
		Update("consumed", true).Error
}
