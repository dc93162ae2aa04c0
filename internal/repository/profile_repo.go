package repository

import (
	"context"
	"errors"

	"goldledger/internal/model"

	"gorm.io/gorm"
)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Create(ctx context.Context, profile *model.Profile) error {
	return classify(r.db.WithContext(ctx).Create(profile).Error)
}

func (r *ProfileRepository) GetByPhone(ctx context.Context, phone string) (*model.Profile, error) {
	var profile model.Profile
	err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return &profile, nil
}

func (r *ProfileRepository) Exists(ctx context.Context, phone string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Profile{}).Where("phone = ?", phone).Count(&count).Error
	if err != nil {
		return false, classify(err)
	}
	return count > 0, nil
}

// UpdateVerification 更新核验标记与 KYC 状态
func (r *ProfileRepository) UpdateVerification(ctx context.Context, phone string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.Profile{}).
		Where("phone = ?", phone).
		Updates(updates)
	if result.Error != nil {
		return classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
