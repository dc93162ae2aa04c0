package job

import (
	"context"
	"time"

	"goldledger/internal/model"
	"goldledger/internal/repository"
	"goldledger/pkg/logger"
)

// MessagePublisher 账本事件投递通道
type MessagePublisher interface {
	Publish(topic, key, value string) error
}

type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     MessagePublisher
	maxRetryCount int
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewOutboxSender(outboxRepo *repository.OutboxRepository, publisher MessagePublisher, maxRetryCount int) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    outboxRepo,
		publisher:     publisher,
		maxRetryCount: maxRetryCount,
		stopCh:        make(chan struct{}),
		interval:      100 * time.Millisecond,
		batchSize:     100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			logger.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.Warn("[OutboxSender] 查询消息失败", "error", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			logger.Error("[OutboxSender] 更新消息状态失败", "id", msg.ID, "error", updateErr)
		} else {
			logger.Debug("[OutboxSender] 消息发送成功", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		}
		return
	}

	logger.Warn("[OutboxSender] 消息发送失败", "id", msg.ID, "error", err)

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		logger.Error("[OutboxSender] 增加重试次数失败", "id", msg.ID, "error", err)
	}

	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			logger.Error("[OutboxSender] 标记消息失败状态失败", "id", msg.ID, "error", err)
		} else {
			logger.Error("[OutboxSender] 消息超过最大重试次数，标记为失败", "id", msg.ID, "key", msg.MessageKey)
		}
	}
}
