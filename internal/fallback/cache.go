// Package fallback 主账本不可达时的本地持久化待对账队列。
// 队列按 Seq 保存原始创建顺序，余额快照加上待入账差额即为乐观余额
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goldledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicate = errors.New("降级队列中已存在相同请求")
	ErrNotFound  = errors.New("降级记录不存在")
)

type Cache struct {
	db *gorm.DB
}

func NewCache(db *gorm.DB) *Cache {
	return &Cache{db: db}
}

// Enqueue 写入一条待对账流水，Delta 为对用户余额的带符号影响
func (c *Cache) Enqueue(ctx context.Context, txn *model.Transaction, delta decimal.Decimal) (*model.PendingEntry, error) {
	payload, err := json.Marshal(txn)
	if err != nil {
		return nil, fmt.Errorf("序列化流水失败: %w", err)
	}

	entry := &model.PendingEntry{
		EntityType:     model.EntityTransaction,
		UserRef:        txn.UserRef,
		TransactionNo:  txn.TransactionNo,
		IdempotencyKey: txn.IdempotencyKey,
		Payload:        string(payload),
		Delta:          delta,
		Status:         model.PendingStatusPending,
		CreatedAt:      txn.CreatedAt,
	}
	if err := c.db.WithContext(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("写入降级队列失败: %w", err)
	}
	return entry, nil
}

// Pending 某用户所有待对账记录，按写入顺序
func (c *Cache) Pending(ctx context.Context, userRef string) ([]*model.PendingEntry, error) {
	var entries []*model.PendingEntry
	err := c.db.WithContext(ctx).
		Where("user_ref = ? AND status = ?", userRef, model.PendingStatusPending).
		Order("seq ASC").
		Find(&entries).Error
	return entries, err
}

func (c *Cache) HasPending(ctx context.Context, userRef string) (bool, error) {
	var count int64
	err := c.db.WithContext(ctx).
		Model(&model.PendingEntry{}).
		Where("user_ref = ? AND status = ?", userRef, model.PendingStatusPending).
		Count(&count).Error
	return count > 0, err
}

// UsersWithPending 有待对账记录的用户，最早挂起的在前
func (c *Cache) UsersWithPending(ctx context.Context, limit int) ([]string, error) {
	var users []string
	err := c.db.WithContext(ctx).
		Model(&model.PendingEntry{}).
		Select("user_ref").
		Where("status = ?", model.PendingStatusPending).
		Group("user_ref").
		Order("MIN(seq) ASC").
		Limit(limit).
		Pluck("user_ref", &users).Error
	return users, err
}

func (c *Cache) MarkCommitted(ctx context.Context, seq int64) error {
	return c.mark(ctx, seq, model.PendingStatusCommitted, "")
}

func (c *Cache) MarkFailed(ctx context.Context, seq int64, reason string) error {
	return c.mark(ctx, seq, model.PendingStatusFailed, reason)
}

func (c *Cache) mark(ctx context.Context, seq int64, status, reason string) error {
	result := c.db.WithContext(ctx).
		Model(&model.PendingEntry{}).
		Where("seq = ? AND status = ?", seq, model.PendingStatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"fail_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByIdempotencyKey 不存在时返回 nil, nil
func (c *Cache) FindByIdempotencyKey(ctx context.Context, userRef, key string) (*model.PendingEntry, error) {
	var entry model.PendingEntry
	err := c.db.WithContext(ctx).Where("user_ref = ? AND idempotency_key = ?", userRef, key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListFailed 对账失败、等待人工补偿的记录
func (c *Cache) ListFailed(ctx context.Context, userRef string) ([]*model.PendingEntry, error) {
	var entries []*model.PendingEntry
	err := c.db.WithContext(ctx).
		Where("user_ref = ? AND status = ?", userRef, model.PendingStatusFailed).
		Order("seq ASC").
		Find(&entries).Error
	return entries, err
}

// Snapshot 不存在时返回 nil, nil
func (c *Cache) Snapshot(ctx context.Context, userRef string) (*model.BalanceSnapshot, error) {
	var snap model.BalanceSnapshot
	err := c.db.WithContext(ctx).Where("user_ref = ?", userRef).First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

// SetSnapshot 记录最近一次从主库读到的余额。调用方需持有该用户的锁
func (c *Cache) SetSnapshot(ctx context.Context, userRef string, grams decimal.Decimal) error {
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_ref"}},
			DoUpdates: clause.AssignmentColumns([]string{"grams", "synced_at"}),
		}).
		Create(&model.BalanceSnapshot{UserRef: userRef, Grams: grams, SyncedAt: time.Now()}).Error
}

// SetSnapshotIfNewer 不持锁的读路径使用：readAt 为开始读主库的时间，
// 已有快照不早于 readAt 时说明期间有记账写过新值，不覆盖
func (c *Cache) SetSnapshotIfNewer(ctx context.Context, userRef string, grams decimal.Decimal, readAt time.Time) error {
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_ref"}},
			DoUpdates: clause.AssignmentColumns([]string{"grams", "synced_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "balance_snapshot.synced_at < excluded.synced_at"},
			}},
		}).
		Create(&model.BalanceSnapshot{UserRef: userRef, Grams: grams, SyncedAt: readAt}).Error
}

// Balance 乐观余额 = 快照 + 待入账差额；没有快照时按 0 计，known=false
func (c *Cache) Balance(ctx context.Context, userRef string) (grams decimal.Decimal, known bool, err error) {
	snap, err := c.Snapshot(ctx, userRef)
	if err != nil {
		return decimal.Zero, false, err
	}
	grams = decimal.Zero
	if snap != nil {
		grams = snap.Grams
		known = true
	}

	entries, err := c.Pending(ctx, userRef)
	if err != nil {
		return decimal.Zero, false, err
	}
	for _, e := range entries {
		grams = grams.Add(e.Delta)
	}
	return grams, known, nil
}

// DecodeTransaction 还原挂起时计算好的流水
func DecodeTransaction(entry *model.PendingEntry) (*model.Transaction, error) {
	var txn model.Transaction
	if err := json.Unmarshal([]byte(entry.Payload), &txn); err != nil {
		return nil, fmt.Errorf("解析降级记录失败: seq=%d: %w", entry.Seq, err)
	}
	return &txn, nil
}

// EntryTransaction 解析流水并带上降级记录当前的状态
func EntryTransaction(entry *model.PendingEntry) (*model.Transaction, error) {
	txn, err := DecodeTransaction(entry)
	if err != nil {
		return nil, err
	}
	switch entry.Status {
	case model.PendingStatusFailed:
		txn.Status = model.TxnStatusFailed
		txn.Remark = entry.FailReason
	case model.PendingStatusCommitted:
		txn.Status = model.TxnStatusSuccess
	}
	return txn, nil
}

// FindByTransactionNo 不存在时返回 nil, nil
func (c *Cache) FindByTransactionNo(ctx context.Context, transactionNo string) (*model.PendingEntry, error) {
	var entry model.PendingEntry
	err := c.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
