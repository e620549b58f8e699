package handlers

import (
	"context"

	"backend/internal/security"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type NotifyHandler struct {
	dispatcher *security.Dispatcher
	logger     *zap.Logger
}

func NewNotifyHandler(dispatcher *security.Dispatcher, logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *NotifyHandler) HandleRetryNotifications(ctx context.Context, t *asynq.Task) error {
	retried, err := h.dispatcher.RetryFailedNotifications(ctx)
	if err != nil {
		h.logger.Error("失败通知重试出错", zap.Error(err))
		return err
	}

	if retried > 0 {
		h.logger.Info("失败通知重试完成", zap.Int("retried", retried))
	}
	return nil
}
