package security

import (
	"context"
	"time"

	"backend/internal/metrics"
	"backend/internal/models"
	"backend/internal/notification"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 通知投递状态
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Dispatcher 告警通知分发器。
//
// 对告警规则上启用的每个动作建一条投递记录，逐渠道发送；
// 单个渠道失败只标记该记录，不影响其他渠道。
type Dispatcher struct {
	db       *gorm.DB
	registry *notification.Registry
	logger   *zap.Logger
	maxRetry int
}

// NewDispatcher 创建分发器
func NewDispatcher(db *gorm.DB, registry *notification.Registry, logger *zap.Logger, maxRetry int) *Dispatcher {
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return &Dispatcher{db: db, registry: registry, logger: logger, maxRetry: maxRetry}
}

// SendNotifications 按规则动作逐渠道投递告警
func (d *Dispatcher) SendNotifications(ctx context.Context, alert *models.Alert, rule *models.AlertRule) {
	msg := alertMessage(alert)

	for _, action := range rule.Actions {
		if !action.Enabled {
			continue
		}

		record := &models.AlertNotification{
			ID:          uuid.NewString(),
			AlertID:     alert.ID,
			ChannelType: action.Type,
			Status:      NotificationPending,
			Recipient:   action.Recipient,
			Message:     alert.Message,
			Attempts:    1,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
		if err := d.db.WithContext(ctx).Create(record).Error; err != nil {
			d.logger.Error("通知记录写入失败",
				zap.String("alert_id", alert.ID),
				zap.String("channel", action.Type),
				zap.Error(err),
			)
			continue
		}

		d.deliver(ctx, record, msg)
	}
}

// BroadcastCritical 紧急事件直接走实时推送广播，不落投递记录
func (d *Dispatcher) BroadcastCritical(ctx context.Context, event *models.SecurityEvent) {
	ch, err := d.registry.Get(notification.ChannelPush)
	if err != nil {
		return
	}

	msg := &notification.Message{
		Title:     "紧急安全事件",
		Body:      event.EventType,
		Severity:  event.Severity,
		Timestamp: event.CreatedAt,
		Data: map[string]any{
			"event_id":   event.ID,
			"event_type": event.EventType,
			"email":      event.Email,
			"ip_address": event.IPAddress,
		},
	}
	if err := ch.Send(ctx, "", msg); err != nil {
		d.logger.Warn("紧急事件广播失败", zap.Error(err))
	}
}

// RetryFailedNotifications 重试未超过次数上限的失败投递（由后台任务周期调用）
func (d *Dispatcher) RetryFailedNotifications(ctx context.Context) (int, error) {
	var records []models.AlertNotification
	if err := d.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", NotificationFailed, d.maxRetry).
		Order("created_at ASC").
		Limit(100).
		Find(&records).Error; err != nil {
		return 0, err
	}

	retried := 0
	for i := range records {
		record := &records[i]

		var alert models.Alert
		if err := d.db.WithContext(ctx).Where("id = ?", record.AlertID).First(&alert).Error; err != nil {
			d.logger.Warn("重试通知时告警不存在",
				zap.String("notification_id", record.ID),
				zap.String("alert_id", record.AlertID),
			)
			continue
		}

		record.Attempts++
		d.deliver(ctx, record, alertMessage(&alert))
		retried++
	}
	return retried, nil
}

// deliver 单渠道投递并更新记录状态
func (d *Dispatcher) deliver(ctx context.Context, record *models.AlertNotification, msg *notification.Message) {
	ch, err := d.registry.Get(record.ChannelType)
	if err != nil {
		d.markFailed(ctx, record, err)
		return
	}

	if err := ch.Send(ctx, record.Recipient, msg); err != nil {
		d.markFailed(ctx, record, err)
		return
	}

	now := time.Now().UTC()
	if err := d.db.WithContext(ctx).Model(&models.AlertNotification{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"status":        NotificationSent,
			"sent_at":       now,
			"attempts":      record.Attempts,
			"error_message": "",
		}).Error; err != nil {
		d.logger.Error("通知状态更新失败", zap.String("notification_id", record.ID), zap.Error(err))
	}
	metrics.NotificationsTotal.WithLabelValues(record.ChannelType, NotificationSent).Inc()
}

func (d *Dispatcher) markFailed(ctx context.Context, record *models.AlertNotification, cause error) {
	d.logger.Warn("通知投递失败",
		zap.String("notification_id", record.ID),
		zap.String("channel", record.ChannelType),
		zap.Int("attempts", record.Attempts),
		zap.Error(cause),
	)

	if err := d.db.WithContext(ctx).Model(&models.AlertNotification{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"status":        NotificationFailed,
			"attempts":      record.Attempts,
			"error_message": cause.Error(),
		}).Error; err != nil {
		d.logger.Error("通知状态更新失败", zap.String("notification_id", record.ID), zap.Error(err))
	}
	metrics.NotificationsTotal.WithLabelValues(record.ChannelType, NotificationFailed).Inc()
}

// alertMessage 告警转投递消息
func alertMessage(alert *models.Alert) *notification.Message {
	return &notification.Message{
		AlertID:   alert.ID,
		Title:     alert.RuleName,
		Body:      alert.Message,
		Severity:  alert.Severity,
		Timestamp: alert.CreatedAt,
		Data:      map[string]any(alert.Details),
	}
}
