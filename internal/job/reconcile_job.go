package job

import (
	"context"
	"errors"
	"time"

	"goldledger/internal/service"
	"goldledger/pkg/logger"
)

// Reconciler 重放降级队列
type Reconciler interface {
	Reconcile(ctx context.Context, limit int) ([]*service.ReconcileReport, error)
}

// ReconcileJob 主库恢复后把本地降级记录补入主库
type ReconcileJob struct {
	reconciler Reconciler
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewReconcileJob(reconciler Reconciler, interval time.Duration) *ReconcileJob {
	return &ReconcileJob{
		reconciler: reconciler,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  50,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	logger.Info("[ReconcileJob] 对账任务启动", "interval", j.interval.String())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[ReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			logger.Info("[ReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcileOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *ReconcileJob) reconcileOnce(ctx context.Context) {
	reports, err := j.reconciler.Reconcile(ctx, j.batchSize)

	committed, failed := 0, 0
	for _, r := range reports {
		committed += r.Committed
		failed += len(r.Failed)
	}

	switch {
	case err == nil:
	case errors.Is(err, service.ErrStoreUnavailable):
		logger.Warn("[ReconcileJob] 主库仍不可达，稍后重试", "error", err)
	case errors.Is(err, service.ErrReconciliationConflict):
		logger.Error("[ReconcileJob] 存在对账冲突，需人工处理", "failed", failed, "error", err)
	default:
		logger.Error("[ReconcileJob] 对账出错", "error", err)
	}

	if committed > 0 || failed > 0 {
		logger.Info("[ReconcileJob] 本轮对账完成", "users", len(reports), "committed", committed, "failed", failed)
	}
}
