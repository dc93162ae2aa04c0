package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxnStatusSuccess = "SUCCESS"
	TxnStatusPending = "PENDING"
	TxnStatusFailed  = "FAILED"
)

// Transaction 黄金流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 余额 = 该用户所有 SUCCESS 流水带符号克数之和
// 3. 记录交易前后余额，便于校验一致性
type Transaction struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserRef         string          `gorm:"type:varchar(64);index:idx_user_created;uniqueIndex:uniq_user_idempotency,priority:1;not null" json:"user_ref"`
	Kind            Kind            `gorm:"type:varchar(16);not null" json:"kind"`
	Inbound         bool            `gorm:"not null;default:false" json:"inbound"` // 受赠方入账
	CounterpartyRef string          `gorm:"type:varchar(64)" json:"counterparty_ref,omitempty"`
	CurrencyAmount  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"currency_amount"` // 买入/定投含服务费
	GoldValue       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"gold_value"`
	Fee             decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"fee"`
	Weight          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"weight"`
	RatePerGram     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"rate_per_gram"`
	Status          string          `gorm:"type:varchar(16);index;not null" json:"status"`
	IdempotencyKey  *string         `gorm:"type:varchar(128);uniqueIndex:uniq_user_idempotency,priority:2" json:"idempotency_key,omitempty"` // 按用户唯一
	SipPlanNo       string          `gorm:"type:varchar(64);index" json:"sip_plan_no,omitempty"`
	VoucherCode     string          `gorm:"type:varchar(32)" json:"voucher_code,omitempty"`
	Remark          string          `gorm:"type:varchar(256)" json:"remark,omitempty"`
	BalanceBefore   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance_after"`
	CreatedAt       time.Time       `gorm:"index:idx_user_created;not null" json:"created_at"`
}

func (Transaction) TableName() string {
	return "gold_transaction"
}

// SignedWeight 该流水对所属用户余额的影响；非 SUCCESS 为 0
func (t *Transaction) SignedWeight() decimal.Decimal {
	if t.Status != TxnStatusSuccess {
		return decimal.Zero
	}
	if t.Inbound || !t.Kind.Debits() {
		return t.Weight
	}
	return t.Weight.Neg()
}
