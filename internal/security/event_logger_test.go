package security_test

import (
	"context"
	"testing"
	"time"

	"backend/internal/models"
	"backend/internal/security"

	"go.uber.org/zap"
)

func TestLogEvent_DefaultSeverity(t *testing.T) {
	db := setupTestDB(t)
	events := newTestEventLogger(t, db)
	ctx := context.Background()

	events.LogEvent(ctx, security.EventInput{
		EventType: security.EventLoginFailure,
		Email:     "alice@example.com",
		IPAddress: "10.0.0.1",
	})

	var stored models.SecurityEvent
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load event failed: %v", err)
	}
	if stored.Severity != string(security.SeverityHigh) {
		t.Fatalf("expected default high severity for login_failure, got %s", stored.Severity)
	}
	if stored.EventType != string(security.EventLoginFailure) {
		t.Fatalf("unexpected event type %s", stored.EventType)
	}
}

func TestLogEvent_ExplicitSeverityWins(t *testing.T) {
	db := setupTestDB(t)
	events := newTestEventLogger(t, db)

	events.LogEvent(context.Background(), security.EventInput{
		EventType: security.EventLoginFailure,
		Email:     "alice@example.com",
		Severity:  security.SeverityLow,
	})

	var stored models.SecurityEvent
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load event failed: %v", err)
	}
	if stored.Severity != string(security.SeverityLow) {
		t.Fatalf("explicit severity must win, got %s", stored.Severity)
	}
}

func TestGetUserSecurityEvents_OrderAndWindow(t *testing.T) {
	db := setupTestDB(t)
	events := newTestEventLogger(t, db)
	ctx := context.Background()

	now := time.Now().UTC()
	rows := []models.SecurityEvent{
		{ID: "e1", EventType: "login_success", UserID: "u1", Severity: "low", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "e2", EventType: "login_failure", UserID: "u1", Severity: "high", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "e3", EventType: "login_success", UserID: "u1", Severity: "low", CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "e4", EventType: "login_failure", UserID: "u2", Severity: "high", CreatedAt: now.Add(-1 * time.Hour)},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed event failed: %v", err)
		}
	}

	// 最近 1 天、仅 u1、倒序
	got := events.GetUserSecurityEvents(ctx, "u1", 1)
	if len(got) != 2 {
		t.Fatalf("expected 2 events in window, got %d", len(got))
	}
	if got[0].ID != "e3" || got[1].ID != "e2" {
		t.Fatalf("expected reverse chronological order, got %s then %s", got[0].ID, got[1].ID)
	}

	// days<=0 回落为 7 天
	got = events.GetUserSecurityEvents(ctx, "u1", 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events in default window, got %d", len(got))
	}
}

func TestGetSystemSecurityEvents(t *testing.T) {
	db := setupTestDB(t)
	events := newTestEventLogger(t, db)
	ctx := context.Background()

	events.LogLoginSuccess(ctx, "u1", "alice@example.com", "10.0.0.1", "agent")
	events.LogLoginFailure(ctx, "bob@example.com", "10.0.0.2", "agent", nil)

	got := events.GetSystemSecurityEvents(ctx, 1)
	if len(got) != 2 {
		t.Fatalf("expected 2 system events, got %d", len(got))
	}
}

// panicProcessor 模拟规则引擎崩溃
type panicProcessor struct{}

func (panicProcessor) ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) []models.Alert {
	panic("rule engine exploded")
}

func (panicProcessor) NotifyCriticalEvent(ctx context.Context, event *models.SecurityEvent) {
	panic("notifier exploded")
}

func TestLogEvent_ProcessorPanicDoesNotPropagate(t *testing.T) {
	db := setupTestDB(t)
	events := security.NewEventLogger(db, zap.NewNop(), panicProcessor{})
	ctx := context.Background()

	// 规则引擎崩溃不能影响事件记录方
	events.LogBruteForceAttempt(ctx, "victim@example.com", "10.0.0.9", nil)

	var count int64
	if err := db.Model(&models.SecurityEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("event must persist despite processor panic, got %d", count)
	}
}
