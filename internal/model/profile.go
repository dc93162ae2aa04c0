package model

import "time"

const (
	KycNotStarted = "NOT_STARTED"
	KycPending    = "PENDING"
	KycVerified   = "VERIFIED"
	KycRejected   = "REJECTED"
)

// Profile 用户资料，Phone 即账本中的 UserRef
type Profile struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Phone           string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"phone"`
	FirstName       string    `gorm:"type:varchar(64)" json:"first_name"`
	LastName        string    `gorm:"type:varchar(64)" json:"last_name"`
	Email           string    `gorm:"type:varchar(128)" json:"email"`
	KycStatus       string    `gorm:"type:varchar(16);not null;default:NOT_STARTED" json:"kyc_status"`
	PanVerified     bool      `gorm:"not null;default:false" json:"pan_verified"`
	AadhaarVerified bool      `gorm:"not null;default:false" json:"aadhaar_verified"`
	BankVerified    bool      `gorm:"not null;default:false" json:"bank_verified"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Profile) TableName() string {
	return "user_profile"
}
