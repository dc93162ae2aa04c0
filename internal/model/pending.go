package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PendingStatusPending   = "PENDING"
	PendingStatusCommitted = "COMMITTED"
	PendingStatusFailed    = "FAILED"
)

// EntityTransaction 降级队列中的实体类型，后续新增实体沿用同一张表
const EntityTransaction = "TRANSACTION"

// PendingEntry 主库不可用时写入本地降级缓存的待对账记录，Seq 即原始创建顺序
type PendingEntry struct {
	Seq            int64           `gorm:"primaryKey;autoIncrement" json:"seq"`
	EntityType     string          `gorm:"type:varchar(32);not null" json:"entity_type"`
	UserRef        string          `gorm:"type:varchar(64);index:idx_pending_user;uniqueIndex:uniq_pending_user_idempotency,priority:1;not null" json:"user_ref"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	IdempotencyKey *string         `gorm:"type:varchar(128);uniqueIndex:uniq_pending_user_idempotency,priority:2" json:"idempotency_key,omitempty"`
	Payload        string          `gorm:"type:text;not null" json:"payload"` // Transaction 的 JSON
	Delta          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"delta"`
	Status         string          `gorm:"type:varchar(16);index:idx_pending_user;not null" json:"status"`
	FailReason     string          `gorm:"type:varchar(256)" json:"fail_reason,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PendingEntry) TableName() string {
	return "pending_entry"
}

// BalanceSnapshot 最近一次从主库同步到本地的余额
type BalanceSnapshot struct {
	UserRef  string          `gorm:"type:varchar(64);primaryKey" json:"user_ref"`
	Grams    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"grams"`
	SyncedAt time.Time       `gorm:"not null" json:"synced_at"`
}

func (BalanceSnapshot) TableName() string {
	return "balance_snapshot"
}
