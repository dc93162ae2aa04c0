package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanStatusActive    = "ACTIVE"
	PlanStatusCompleted = "COMPLETED"
	PlanStatusCancelled = "CANCELLED"
)

// COMPLETED 与 CANCELLED 为终态
var ValidPlanTransitions = map[string][]string{
	PlanStatusActive: {PlanStatusActive, PlanStatusCompleted, PlanStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidPlanTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return status == PlanStatusCompleted || status == PlanStatusCancelled
}

type Cadence string

const (
	CadenceDaily   Cadence = "DAILY"
	CadenceWeekly  Cadence = "WEEKLY"
	CadenceMonthly Cadence = "MONTHLY"
)

func (c Cadence) Valid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// Next 按固定天数推进，月度固定 30 天，不按自然月
func (c Cadence) Next(t time.Time) time.Time {
	switch c {
	case CadenceDaily:
		return t.AddDate(0, 0, 1)
	case CadenceWeekly:
		return t.AddDate(0, 0, 7)
	default:
		return t.AddDate(0, 0, 30)
	}
}

type SipPlan struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PlanNo          string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"plan_no"`
	UserRef         string          `gorm:"type:varchar(64);index;not null" json:"user_ref"`
	PlanAmount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"plan_amount"`
	Cadence         Cadence         `gorm:"type:varchar(16);not null" json:"cadence"`
	StartDate       time.Time       `gorm:"not null" json:"start_date"`
	NextDueDate     time.Time       `gorm:"index;not null" json:"next_due_date"`
	TotalCycles     int             `gorm:"not null" json:"total_cycles"`
	CyclesCompleted int             `gorm:"not null;default:0" json:"cycles_completed"`
	Status          string          `gorm:"type:varchar(16);index;not null" json:"status"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SipPlan) TableName() string {
	return "sip_plan"
}
