package job

import (
	"context"
	"errors"
	"time"

	"goldledger/internal/service"
	"goldledger/pkg/logger"
)

// DuePayer 扣到期定投
type DuePayer interface {
	PayDue(ctx context.Context, limit int) (int, error)
}

type SipDueJob struct {
	payer     DuePayer
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewSipDueJob(payer DuePayer, interval time.Duration) *SipDueJob {
	return &SipDueJob{
		payer:     payer,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 100,
	}
}

func (j *SipDueJob) Start(ctx context.Context) {
	logger.Info("[SipDueJob] 定投扣款任务启动", "interval", j.interval.String())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[SipDueJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			logger.Info("[SipDueJob] 任务停止")
			return
		case <-ticker.C:
			j.payDuePlans(ctx)
		}
	}
}

func (j *SipDueJob) Stop() {
	close(j.stopCh)
}

func (j *SipDueJob) payDuePlans(ctx context.Context) {
	paid, err := j.payer.PayDue(ctx, j.batchSize)
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			logger.Warn("[SipDueJob] 主库不可达，本轮跳过", "paid", paid, "error", err)
			return
		}
		logger.Error("[SipDueJob] 扣款失败", "paid", paid, "error", err)
		return
	}
	if paid > 0 {
		logger.Info("[SipDueJob] 本次扣款完成", "paid", paid)
	}
}
