package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 与流水同事务写入的账本事件，由 OutboxSender 投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 用户标识，保证同一用户事件有序
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent 投递到 ledger_events 主题的消息体
type LedgerEvent struct {
	TransactionNo  string `json:"transaction_no"`
	UserRef        string `json:"user_ref"`
	Kind           Kind   `json:"kind"`
	Inbound        bool   `json:"inbound"`
	CurrencyAmount string `json:"currency_amount"`
	Weight         string `json:"weight"`
	RatePerGram    string `json:"rate_per_gram"`
	BalanceAfter   string `json:"balance_after"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}
