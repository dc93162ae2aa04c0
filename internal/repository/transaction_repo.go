package repository

import (
	"context"
	"errors"

	"goldledger/internal/model"

	"gorm.io/gorm"
)

// TransactionFilter 流水查询条件，零值表示不过滤
type TransactionFilter struct {
	Kind     model.Kind
	Status   string
	Page     int
	PageSize int
}

func (f *TransactionFilter) normalize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return classify(tx.WithContext(ctx).Create(trans).Error)
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, tx *gorm.DB, transactionNo string) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.Transaction
	err := tx.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &trans, nil
}

// GetByIdempotencyKey 幂等键只在同一用户内唯一
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, userRef, key string) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.Transaction
	err := tx.WithContext(ctx).Where("user_ref = ? AND idempotency_key = ?", userRef, key).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &trans, nil
}

// ListByUserRef 最新的在前
func (r *TransactionRepository) ListByUserRef(ctx context.Context, userRef string, filter TransactionFilter) ([]*model.Transaction, int64, error) {
	filter.normalize()

	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_ref = ?", userRef)
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&transactions).Error

	return transactions, total, classify(err)
}

// ListSuccessByUserRef 按写入顺序返回全部 SUCCESS 流水，用于折叠校验余额
func (r *TransactionRepository) ListSuccessByUserRef(ctx context.Context, userRef string) ([]*model.Transaction, error) {
	var transactions []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("user_ref = ? AND status = ?", userRef, model.TxnStatusSuccess).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, classify(err)
}
