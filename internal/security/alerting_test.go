package security_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend/internal/config"
	"backend/internal/models"
	"backend/internal/security"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAlertingStack(t *testing.T) (*gorm.DB, *security.AlertingService, *security.EventLogger) {
	t.Helper()
	db := setupTestDB(t)
	svc := security.NewAlertingService(db, nil, zap.NewNop(), nil, config.AlertingConfig{})
	events := security.NewEventLogger(db, zap.NewNop(), svc)
	return db, svc, events
}

func TestSeedDefaultRules_Idempotent(t *testing.T) {
	_, svc, _ := newAlertingStack(t)
	ctx := context.Background()

	if err := svc.SeedDefaultRules(ctx); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := svc.SeedDefaultRules(ctx); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}

	rules, err := svc.GetAlertRules(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rules) != 4 {
		t.Fatalf("expected 4 default rules, got %d", len(rules))
	}
}

func TestThresholdRuleFiresAlert(t *testing.T) {
	db, svc, events := newAlertingStack(t)
	ctx := context.Background()

	if err := svc.SeedDefaultRules(ctx); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// 默认规则：15 分钟内 5 次登录失败触发 high 告警
	for i := 0; i < 4; i++ {
		events.LogLoginFailure(ctx, "victim@example.com", "10.0.0.1", "test-agent", nil)
	}

	var count int64
	if err := db.Model(&models.Alert{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("no alert expected below threshold, got %d", count)
	}

	events.LogLoginFailure(ctx, "victim@example.com", "10.0.0.1", "test-agent", nil)

	var alerts []models.Alert
	if err := db.Where("rule_name = ?", "failed-login-threshold").Find(&alerts).Error; err != nil {
		t.Fatalf("load alerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
	if alerts[0].Severity != "high" {
		t.Fatalf("expected high severity, got %s", alerts[0].Severity)
	}
	if alerts[0].Status != security.AlertStatusActive {
		t.Fatalf("new alert must be active, got %s", alerts[0].Status)
	}
}

func TestPatternRuleExpression(t *testing.T) {
	db, svc, events := newAlertingStack(t)
	ctx := context.Background()

	rule := &models.AlertRule{
		Name:              "critical-suspicious",
		Description:       "仅匹配 critical 级别的可疑活动",
		EventType:         string(security.EventSuspiciousActivity),
		Condition:         security.ConditionPattern,
		PatternExpr:       "severity == 'critical'",
		TimeWindowMinutes: 60,
		Severity:          string(security.SeverityCritical),
		Enabled:           true,
		Actions:           models.AlertActionList{{Type: "push", Enabled: true}},
	}
	if err := svc.CreateAlertRule(ctx, rule); err != nil {
		t.Fatalf("create rule failed: %v", err)
	}

	// low 级别不命中表达式
	events.LogEvent(ctx, security.EventInput{
		EventType: security.EventSuspiciousActivity,
		Email:     "mallory@example.com",
		Severity:  security.SeverityLow,
	})

	var count int64
	if err := db.Model(&models.Alert{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("low severity event must not match expression, got %d alerts", count)
	}

	events.LogSuspiciousActivity(ctx, "u1", "mallory@example.com", "10.0.0.2", nil)

	var alerts []models.Alert
	if err := db.Where("rule_name = ?", "critical-suspicious").Find(&alerts).Error; err != nil {
		t.Fatalf("load alerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert from expression match, got %d", len(alerts))
	}
}

func TestCreateAlertRule_Validation(t *testing.T) {
	_, svc, _ := newAlertingStack(t)
	ctx := context.Background()

	// threshold 条件缺少阈值
	err := svc.CreateAlertRule(ctx, &models.AlertRule{
		Name:      "broken",
		EventType: string(security.EventLoginFailure),
		Condition: security.ConditionThreshold,
		Severity:  string(security.SeverityHigh),
	})
	if err == nil {
		t.Fatal("expected validation error for missing threshold")
	}

	err = svc.CreateAlertRule(ctx, &models.AlertRule{
		Name:      "bad-severity",
		EventType: string(security.EventLoginFailure),
		Condition: security.ConditionPattern,
		Severity:  "extreme",
	})
	if err == nil {
		t.Fatal("expected validation error for invalid severity")
	}
}

func TestAlertStatusTransitions(t *testing.T) {
	db, svc, _ := newAlertingStack(t)
	ctx := context.Background()

	rule := seedRuleAndAlert(t, db)
	alertID := rule.alertID

	if err := svc.AcknowledgeAlert(ctx, alertID, "ops"); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}

	// 重复确认非法
	if err := svc.AcknowledgeAlert(ctx, alertID, "ops"); !errors.Is(err, security.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := svc.ResolveAlert(ctx, alertID); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// resolved 为终态
	if err := svc.ResolveAlert(ctx, alertID); !errors.Is(err, security.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-resolve, got %v", err)
	}
	if err := svc.AcknowledgeAlert(ctx, alertID, "ops"); !errors.Is(err, security.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after resolve, got %v", err)
	}

	var alert models.Alert
	if err := db.Where("id = ?", alertID).First(&alert).Error; err != nil {
		t.Fatalf("load alert failed: %v", err)
	}
	if alert.Status != security.AlertStatusResolved {
		t.Fatalf("expected resolved, got %s", alert.Status)
	}
	if alert.AcknowledgedBy != "ops" || alert.AcknowledgedAt == nil || alert.ResolvedAt == nil {
		t.Fatal("expected acknowledgement and resolution metadata to be recorded")
	}
}

func TestAlertTransitions_UnknownAlert(t *testing.T) {
	_, svc, _ := newAlertingStack(t)
	ctx := context.Background()

	if err := svc.AcknowledgeAlert(ctx, "missing", "ops"); !errors.Is(err, security.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
	if err := svc.ResolveAlert(ctx, "missing"); !errors.Is(err, security.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestUpdateAndDeleteAlertRule(t *testing.T) {
	_, svc, _ := newAlertingStack(t)
	ctx := context.Background()

	ten := 10
	rule := &models.AlertRule{
		Name:              "tunable",
		EventType:         string(security.EventLoginFailure),
		Condition:         security.ConditionThreshold,
		Threshold:         &ten,
		TimeWindowMinutes: 30,
		Severity:          string(security.SeverityMedium),
		Enabled:           true,
	}
	if err := svc.CreateAlertRule(ctx, rule); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	twenty := 20
	if err := svc.UpdateAlertRule(ctx, rule.ID, &models.AlertRule{Threshold: &twenty, Enabled: false}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	rules, err := svc.GetAlertRules(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var updated *models.AlertRule
	for i := range rules {
		if rules[i].ID == rule.ID {
			updated = &rules[i]
		}
	}
	if updated == nil {
		t.Fatal("rule disappeared after update")
	}
	if updated.Threshold == nil || *updated.Threshold != 20 || updated.Enabled {
		t.Fatalf("unexpected rule after update: %+v", updated)
	}

	if err := svc.UpdateAlertRule(ctx, "missing", &models.AlertRule{}); !errors.Is(err, security.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}

	if err := svc.DeleteAlertRule(ctx, rule.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := svc.DeleteAlertRule(ctx, rule.ID); !errors.Is(err, security.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound after delete, got %v", err)
	}
}

func TestGetAlertStats(t *testing.T) {
	db, svc, _ := newAlertingStack(t)
	ctx := context.Background()

	seeded := seedRuleAndAlert(t, db)
	// 再补一条 resolved 告警
	now := time.Now().UTC()
	resolved := models.Alert{
		ID:         uuid.NewString(),
		RuleID:     seeded.ruleID,
		RuleName:   "manual",
		Severity:   string(security.SeverityLow),
		Message:    "resolved sample",
		Status:     security.AlertStatusResolved,
		ResolvedAt: &now,
		CreatedAt:  now,
	}
	if err := db.Create(&resolved).Error; err != nil {
		t.Fatalf("seed resolved alert failed: %v", err)
	}

	stats, err := svc.GetAlertStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 alerts in window, got %d", stats.Total)
	}
	if stats.Active != 1 {
		t.Fatalf("expected 1 active alert, got %d", stats.Active)
	}
	if stats.ByStatus[security.AlertStatusResolved] != 1 {
		t.Fatalf("expected 1 resolved alert, got %d", stats.ByStatus[security.AlertStatusResolved])
	}
}

type seededAlert struct {
	ruleID  string
	alertID string
}

// seedRuleAndAlert 直接写入一条规则及其 active 告警，用于状态流转测试
func seedRuleAndAlert(t *testing.T, db *gorm.DB) seededAlert {
	t.Helper()
	now := time.Now().UTC()
	one := 1
	rule := models.AlertRule{
		ID:                uuid.NewString(),
		Name:              "manual",
		EventType:         string(security.EventLoginFailure),
		Condition:         security.ConditionThreshold,
		Threshold:         &one,
		TimeWindowMinutes: 5,
		Severity:          string(security.SeverityHigh),
		Enabled:           true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("seed rule failed: %v", err)
	}
	alert := models.Alert{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Severity:  rule.Severity,
		Message:   "manual sample",
		Status:    security.AlertStatusActive,
		CreatedAt: now,
	}
	if err := db.Create(&alert).Error; err != nil {
		t.Fatalf("seed alert failed: %v", err)
	}
	return seededAlert{ruleID: rule.ID, alertID: alert.ID}
}
