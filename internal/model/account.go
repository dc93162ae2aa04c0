package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// GoldBalance 用户黄金余额投影
// 只能随 SUCCESS 流水在同一事务内更新，不允许单独修改
type GoldBalance struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserRef   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_ref"`
	Grams     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"grams"`
	Version   int             `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GoldBalance) TableName() string {
	return "gold_balance"
}
