package security_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend/internal/models"
	"backend/internal/notification"
	"backend/internal/security"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubChannel 可控成败的测试渠道
type stubChannel struct {
	channelType string
	fail        bool
	sent        int
}

func (s *stubChannel) Type() string { return s.channelType }

func (s *stubChannel) Send(ctx context.Context, recipient string, msg *notification.Message) error {
	s.sent++
	if s.fail {
		return errors.New("channel down")
	}
	return nil
}

func newDispatcherStack(t *testing.T, channels ...notification.Channel) (*gorm.DB, *security.Dispatcher) {
	t.Helper()
	db := setupTestDB(t)
	registry := notification.NewRegistry()
	for _, ch := range channels {
		registry.Register(ch)
	}
	return db, security.NewDispatcher(db, registry, zap.NewNop(), 3)
}

func sampleAlertWithRule(t *testing.T, db *gorm.DB, actions models.AlertActionList) (*models.Alert, *models.AlertRule) {
	t.Helper()
	now := time.Now().UTC()
	one := 1
	rule := &models.AlertRule{
		ID:                uuid.NewString(),
		Name:              "notify-test",
		EventType:         "login_failure",
		Condition:         security.ConditionThreshold,
		Threshold:         &one,
		TimeWindowMinutes: 5,
		Severity:          "high",
		Enabled:           true,
		Actions:           actions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("seed rule failed: %v", err)
	}
	alert := &models.Alert{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Severity:  rule.Severity,
		Message:   "sample alert",
		Status:    security.AlertStatusActive,
		CreatedAt: now,
	}
	if err := db.Create(alert).Error; err != nil {
		t.Fatalf("seed alert failed: %v", err)
	}
	return alert, rule
}

func TestSendNotifications_PerChannelIsolation(t *testing.T) {
	email := &stubChannel{channelType: notification.ChannelEmail, fail: true}
	push := &stubChannel{channelType: notification.ChannelPush}
	db, dispatcher := newDispatcherStack(t, email, push)
	ctx := context.Background()

	alert, rule := sampleAlertWithRule(t, db, models.AlertActionList{
		{Type: notification.ChannelEmail, Enabled: true, Recipient: "ops@example.com"},
		{Type: notification.ChannelPush, Enabled: true},
		{Type: notification.ChannelSMS, Enabled: false},
	})

	dispatcher.SendNotifications(ctx, alert, rule)

	// 禁用的动作不建投递记录
	var records []models.AlertNotification
	if err := db.Where("alert_id = ?", alert.ID).Order("channel_type ASC").Find(&records).Error; err != nil {
		t.Fatalf("load records failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 delivery records, got %d", len(records))
	}

	byChannel := map[string]models.AlertNotification{}
	for _, r := range records {
		byChannel[r.ChannelType] = r
	}
	if byChannel[notification.ChannelEmail].Status != security.NotificationFailed {
		t.Fatalf("expected failed email record, got %s", byChannel[notification.ChannelEmail].Status)
	}
	if byChannel[notification.ChannelEmail].ErrorMessage == "" {
		t.Fatal("expected error message on failed record")
	}
	if byChannel[notification.ChannelPush].Status != security.NotificationSent {
		t.Fatalf("email failure must not affect push, got %s", byChannel[notification.ChannelPush].Status)
	}
	if push.sent != 1 {
		t.Fatalf("expected 1 push delivery, got %d", push.sent)
	}
}

func TestSendNotifications_UnregisteredChannelFails(t *testing.T) {
	db, dispatcher := newDispatcherStack(t)
	ctx := context.Background()

	alert, rule := sampleAlertWithRule(t, db, models.AlertActionList{
		{Type: notification.ChannelWebhook, Enabled: true, Recipient: "https://hooks.example.com/x"},
	})

	dispatcher.SendNotifications(ctx, alert, rule)

	var record models.AlertNotification
	if err := db.Where("alert_id = ?", alert.ID).First(&record).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.Status != security.NotificationFailed {
		t.Fatalf("expected failed record for unregistered channel, got %s", record.Status)
	}
}

func TestRetryFailedNotifications(t *testing.T) {
	email := &stubChannel{channelType: notification.ChannelEmail, fail: true}
	db, dispatcher := newDispatcherStack(t, email)
	ctx := context.Background()

	alert, rule := sampleAlertWithRule(t, db, models.AlertActionList{
		{Type: notification.ChannelEmail, Enabled: true, Recipient: "ops@example.com"},
	})
	dispatcher.SendNotifications(ctx, alert, rule)

	// 渠道恢复后重试成功
	email.fail = false
	retried, err := dispatcher.RetryFailedNotifications(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected 1 retried delivery, got %d", retried)
	}

	var record models.AlertNotification
	if err := db.Where("alert_id = ?", alert.ID).First(&record).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.Status != security.NotificationSent {
		t.Fatalf("expected sent after retry, got %s", record.Status)
	}
	if record.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", record.Attempts)
	}
	if record.SentAt == nil {
		t.Fatal("expected sent timestamp")
	}

	// 已成功的记录不再重试
	retried, err = dispatcher.RetryFailedNotifications(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried != 0 {
		t.Fatalf("expected nothing to retry, got %d", retried)
	}
}

func TestRetryFailedNotifications_RespectsMaxAttempts(t *testing.T) {
	email := &stubChannel{channelType: notification.ChannelEmail, fail: true}
	db, dispatcher := newDispatcherStack(t, email)
	ctx := context.Background()

	alert, rule := sampleAlertWithRule(t, db, models.AlertActionList{
		{Type: notification.ChannelEmail, Enabled: true, Recipient: "ops@example.com"},
	})
	dispatcher.SendNotifications(ctx, alert, rule)

	// maxRetry=3：第 1 次投递 + 2 次重试后封顶
	for i := 0; i < 3; i++ {
		if _, err := dispatcher.RetryFailedNotifications(ctx); err != nil {
			t.Fatalf("retry failed: %v", err)
		}
	}

	var record models.AlertNotification
	if err := db.Where("alert_id = ?", alert.ID).First(&record).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.Attempts != 3 {
		t.Fatalf("expected attempts capped at 3, got %d", record.Attempts)
	}
	if email.sent != 3 {
		t.Fatalf("expected 3 channel calls, got %d", email.sent)
	}
}
