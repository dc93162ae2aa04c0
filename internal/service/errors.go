package service

import (
	"errors"
	"fmt"

	"goldledger/internal/infrastructure/verification"
	"goldledger/internal/repository"
)

var (
	ErrInvalidInput           = errors.New("参数不合法")
	ErrInsufficientBalance    = errors.New("黄金余额不足")
	ErrInvalidPlan            = errors.New("定投计划参数不合法")
	ErrPlanNotDue             = errors.New("本期定投尚未到期")
	ErrPlanTerminal           = errors.New("定投计划已结束")
	ErrPlanNotFound           = errors.New("定投计划不存在")
	ErrRateUnavailable        = errors.New("金价暂不可用")
	ErrReconciliationConflict = errors.New("对账冲突")
	ErrProfileNotFound        = errors.New("用户资料不存在")
	ErrProfileExists          = errors.New("用户资料已存在")
	ErrTransactionNotFound    = errors.New("流水不存在")

	// 与存储层共用同一个哨兵，errors.Is 在两层都成立
	ErrStoreUnavailable = repository.ErrStoreUnavailable
	ErrStoreTimeout     = repository.ErrStoreTimeout

	ErrVerificationTimeout = verification.ErrTimeout
)

// ExternalVerificationError 核验服务返回 success=false，Message 原样透传，不自动重试
type ExternalVerificationError struct {
	Kind    string
	Message string
}

func (e *ExternalVerificationError) Error() string {
	return fmt.Sprintf("核验失败(%s): %s", e.Kind, e.Message)
}

// DegradedModeWarning 主库不可达，交易已挂在本地降级队列，余额为临时值
type DegradedModeWarning struct {
	Reason string `json:"reason"`
	Cause  error  `json:"-"`
}

func (w *DegradedModeWarning) Error() string {
	if w.Cause == nil {
		return w.Reason
	}
	return fmt.Sprintf("%s: %v", w.Reason, w.Cause)
}

func (w *DegradedModeWarning) Unwrap() error {
	return w.Cause
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
