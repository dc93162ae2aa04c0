package repository

import (
	"context"
	"errors"

	"goldledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetByUserRef(ctx context.Context, userRef string) (*model.GoldBalance, error) {
	var balance model.GoldBalance
	err := r.db.WithContext(ctx).Where("user_ref = ?", userRef).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return &balance, nil
}

// GetOrCreateForUpdate 在事务内锁住余额行，不存在时先插入 0 余额
func (r *BalanceRepository) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, userRef string) (*model.GoldBalance, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_ref"}},
			DoNothing: true,
		}).
		Create(&model.GoldBalance{UserRef: userRef, Grams: decimal.Zero}).Error
	if err != nil {
		return nil, classify(err)
	}

	var balance model.GoldBalance
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_ref = ?", userRef).
		First(&balance).Error
	if err != nil {
		return nil, classify(err)
	}
	return &balance, nil
}

// UpdateWithVersion 按版本号 CAS 更新余额，版本不符返回 ErrOptimisticLock
func (r *BalanceRepository) UpdateWithVersion(ctx context.Context, tx *gorm.DB, userRef string, grams decimal.Decimal, version int) error {
	if grams.IsNegative() {
		return ErrInsufficientBalance
	}

	result := tx.WithContext(ctx).
		Model(&model.GoldBalance{}).
		Where("user_ref = ? AND version = ?", userRef, version).
		Updates(map[string]interface{}{
			"grams":   grams,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}
