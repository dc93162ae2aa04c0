package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrStoreUnavailable    = errors.New("账本存储不可用")
	ErrStoreTimeout        = fmt.Errorf("账本存储请求超时: %w", ErrStoreUnavailable)
	ErrInsufficientBalance = errors.New("黄金余额不足")
	ErrOptimisticLock      = errors.New("乐观锁冲突，请重试")
	ErrDuplicate           = errors.New("重复请求")
	ErrValidation          = errors.New("流水字段不合法")
	ErrNotFound            = errors.New("记录不存在")
	ErrPlanStale           = errors.New("定投计划已被其他请求更新")
	ErrStatusInvalid       = errors.New("状态流转不合法")
)

// classify 把驱动层错误归类为存储不可用/超时，业务错误原样返回
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrOptimisticLock),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPlanStale),
		errors.Is(err, ErrStatusInvalid):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
