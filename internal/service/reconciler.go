package service

import (
	"context"
	"errors"
	"fmt"

	"goldledger/internal/fallback"
	"goldledger/internal/model"
	"goldledger/internal/repository"
	"goldledger/pkg/logger"
)

type ReconcileFailure struct {
	Seq           int64  `json:"seq"`
	TransactionNo string `json:"transaction_no"`
	Reason        string `json:"reason"`
}

type ReconcileReport struct {
	UserRef   string             `json:"user_ref"`
	Committed int                `json:"committed"`
	Failed    []ReconcileFailure `json:"failed,omitempty"`
	Remaining int                `json:"remaining"` // 主库再次不可达时尚未处理的条数
}

// ReconcileUser 按原始顺序重放该用户的降级记录。
// 重放时按当时的主库余额重新校验，会透支的记录记为 FAILED 并返回 ErrReconciliationConflict
func (e *Engine) ReconcileUser(ctx context.Context, userRef string) (*ReconcileReport, error) {
	release, err := e.locker.Acquire(ctx, userRef)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer release()

	return e.reconcileLocked(ctx, userRef)
}

// Reconcile 处理所有有待对账记录的用户，主库不可达时提前结束
func (e *Engine) Reconcile(ctx context.Context, limit int) ([]*ReconcileReport, error) {
	users, err := e.cache.UsersWithPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("读取降级队列失败: %w", err)
	}

	var (
		reports  []*ReconcileReport
		conflict error
	)
	for _, userRef := range users {
		report, err := e.ReconcileUser(ctx, userRef)
		if report != nil {
			reports = append(reports, report)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrReconciliationConflict):
			conflict = err
		default:
			return reports, err
		}
	}
	return reports, conflict
}

func (e *Engine) reconcileLocked(ctx context.Context, userRef string) (*ReconcileReport, error) {
	report := &ReconcileReport{UserRef: userRef}

	entries, err := e.cache.Pending(ctx, userRef)
	if err != nil {
		return nil, fmt.Errorf("读取降级队列失败: %w", err)
	}
	if len(entries) == 0 {
		return report, nil
	}

	for i, entry := range entries {
		err := e.replay(ctx, entry, report)
		if errors.Is(err, ErrStoreUnavailable) {
			report.Remaining = len(entries) - i
			logger.Warn("对账中断，主库仍不可达", "user", userRef, "remaining", report.Remaining, "error", err)
			return report, err
		}
		if err != nil {
			report.Remaining = len(entries) - i
			return report, err
		}
	}

	if grams, err := e.store.GetBalance(ctx, userRef); err == nil {
		if err := e.cache.SetSnapshot(ctx, userRef, grams); err != nil {
			logger.Warn("更新本地余额快照失败", "user", userRef, "error", err)
		}
	}

	logger.Info("对账完成", "user", userRef, "committed", report.Committed, "failed", len(report.Failed))
	if len(report.Failed) > 0 {
		return report, fmt.Errorf("%w: 用户 %s 有 %d 条记录入账失败", ErrReconciliationConflict, userRef, len(report.Failed))
	}
	return report, nil
}

func (e *Engine) replay(ctx context.Context, entry *model.PendingEntry, report *ReconcileReport) error {
	txn, err := fallback.DecodeTransaction(entry)
	if err != nil {
		return e.rejectEntry(ctx, entry, nil, err.Error(), report)
	}

	// 上次入账成功但未来得及标记
	existing, err := e.store.GetTransaction(ctx, txn.TransactionNo)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Status == model.TxnStatusSuccess {
			return e.commitEntry(ctx, entry, existing, report)
		}
		return e.rejectEntry(ctx, entry, nil, "主库已有同号失败流水", report)
	}

	txn.Status = model.TxnStatusSuccess
	committed, err := e.store.Apply(ctx, txn)
	switch {
	case err == nil:
		return e.commitEntry(ctx, entry, committed, report)
	case errors.Is(err, repository.ErrDuplicate) && committed != nil:
		// 同一幂等键在降级前或别的实例已经入账
		return e.commitEntry(ctx, entry, committed, report)
	case errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, repository.ErrInsufficientBalance):
		return e.rejectEntry(ctx, entry, txn, "重放时余额不足", report)
	case errors.Is(err, repository.ErrValidation):
		return e.rejectEntry(ctx, entry, txn, err.Error(), report)
	default:
		return err
	}
}

func (e *Engine) commitEntry(ctx context.Context, entry *model.PendingEntry, committed *model.Transaction, report *ReconcileReport) error {
	if err := e.cache.MarkCommitted(ctx, entry.Seq); err != nil {
		return fmt.Errorf("标记降级记录失败: seq=%d: %w", entry.Seq, err)
	}
	report.Committed++
	e.metrics.IncReconcile("committed")

	if committed.Kind == model.KindGift && !committed.Inbound {
		e.creditRecipient(ctx, committed)
	}
	return nil
}

// rejectEntry 记为 FAILED：主库留一条同号 FAILED 流水供审计，本地记录标记失败，不会丢弃
func (e *Engine) rejectEntry(ctx context.Context, entry *model.PendingEntry, txn *model.Transaction, reason string, report *ReconcileReport) error {
	if txn != nil {
		failed := *txn
		failed.Status = model.TxnStatusFailed
		failed.Remark = "对账失败：" + reason
		if _, err := e.store.Append(ctx, &failed); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			if errors.Is(err, ErrStoreUnavailable) {
				return err
			}
			logger.Error("记录失败流水出错", "transactionNo", failed.TransactionNo, "error", err)
		}
	}

	if err := e.cache.MarkFailed(ctx, entry.Seq, reason); err != nil {
		return fmt.Errorf("标记降级记录失败: seq=%d: %w", entry.Seq, err)
	}
	report.Failed = append(report.Failed, ReconcileFailure{
		Seq:           entry.Seq,
		TransactionNo: entry.TransactionNo,
		Reason:        reason,
	})
	e.metrics.IncReconcile("failed")
	logger.Error("降级记录对账失败，需人工补偿",
		"seq", entry.Seq,
		"transactionNo", entry.TransactionNo,
		"user", entry.UserRef,
		"reason", reason,
	)
	return nil
}
