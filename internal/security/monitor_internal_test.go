package security

import (
	"context"
	"fmt"
	"testing"
	"time"

	"backend/internal/config"
	"backend/internal/models"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func newMonitorTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:monitor_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(models.AllSecurityModels()...); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

func configureTestMonitor(t *testing.T, db *gorm.DB, cfg config.MonitorConfig) *SecurityMonitor {
	t.Helper()
	resetMonitorSingleton()
	t.Cleanup(resetMonitorSingleton)

	logger := zap.NewNop()
	events := NewEventLogger(db, logger, nil)
	alerting := NewAlertingService(db, nil, logger, nil, config.AlertingConfig{})
	checker := NewHealthChecker(db, logger, cfg)
	return Configure(db, logger, events, alerting, checker, cfg)
}

func TestConfigure_Singleton(t *testing.T) {
	db := newMonitorTestDB(t)
	first := configureTestMonitor(t, db, config.MonitorConfig{CheckIntervalMs: 120000})

	// 二次 Configure 返回同一实例，参数被忽略
	second := Configure(nil, nil, nil, nil, nil, config.MonitorConfig{CheckIntervalMs: 999999})
	if first != second {
		t.Fatal("Configure must return the same instance")
	}
	if GetInstance() != first {
		t.Fatal("GetInstance must return the configured instance")
	}
}

func TestConfigure_IntervalFloor(t *testing.T) {
	db := newMonitorTestDB(t)
	monitor := configureTestMonitor(t, db, config.MonitorConfig{CheckIntervalMs: 5000})

	// 低于下限的配置回落到默认 10 分钟
	status := monitor.GetMonitoringStatus()
	if status.CheckIntervalMs != (10 * time.Minute).Milliseconds() {
		t.Fatalf("expected 10min fallback interval, got %dms", status.CheckIntervalMs)
	}
}

func TestUpdateCheckInterval_Validation(t *testing.T) {
	db := newMonitorTestDB(t)
	monitor := configureTestMonitor(t, db, config.MonitorConfig{CheckIntervalMs: 120000})

	if err := monitor.UpdateCheckInterval(59999); err == nil {
		t.Fatal("expected error for sub-minute interval")
	}
	if err := monitor.UpdateCheckInterval(60000); err != nil {
		t.Fatalf("one minute must be accepted: %v", err)
	}

	status := monitor.GetMonitoringStatus()
	if status.CheckIntervalMs != 60000 {
		t.Fatalf("expected 60000ms, got %d", status.CheckIntervalMs)
	}
}

func TestStartStopMonitoring(t *testing.T) {
	db := newMonitorTestDB(t)
	monitor := configureTestMonitor(t, db, config.MonitorConfig{CheckIntervalMs: 60000})

	if err := monitor.StartMonitoring(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// 重复启动为幂等空操作
	if err := monitor.StartMonitoring(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if !monitor.GetMonitoringStatus().Running {
		t.Fatal("expected running state")
	}

	monitor.StopMonitoring()
	monitor.StopMonitoring()
	if monitor.GetMonitoringStatus().Running {
		t.Fatal("expected stopped state")
	}
}

func TestStartMonitoring_AlreadyRunningLogs(t *testing.T) {
	db := newMonitorTestDB(t)
	resetMonitorSingleton()
	t.Cleanup(resetMonitorSingleton)

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	cfg := config.MonitorConfig{CheckIntervalMs: 60000}
	events := NewEventLogger(db, logger, nil)
	alerting := NewAlertingService(db, nil, logger, nil, config.AlertingConfig{})
	checker := NewHealthChecker(db, logger, cfg)
	monitor := Configure(db, logger, events, alerting, checker, cfg)

	if err := monitor.StartMonitoring(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer monitor.StopMonitoring()

	// 重复启动保持运行状态，但要留下一条提示日志
	if err := monitor.StartMonitoring(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if logs.FilterMessage("安全监控已在运行").Len() != 1 {
		t.Fatal("expected a notice log when starting an already-running monitor")
	}
	if !monitor.GetMonitoringStatus().Running {
		t.Fatal("expected running state")
	}
}

func TestRecordSnapshot_BoundedHistory(t *testing.T) {
	db := newMonitorTestDB(t)
	monitor := configureTestMonitor(t, db, config.MonitorConfig{CheckIntervalMs: 120000, MaxHistorySize: 5})

	for i := 0; i < 8; i++ {
		monitor.recordSnapshot(PerformanceSnapshot{
			Timestamp:       time.Now().UTC(),
			CycleDurationMs: int64(i),
			Overall:         HealthHealthy,
		}, &HealthReport{Overall: HealthHealthy})
	}

	history := monitor.GetPerformanceHistory()
	if len(history) != 5 {
		t.Fatalf("expected history capped at 5, got %d", len(history))
	}
	// 淘汰最旧，保留 3..7
	if history[0].CycleDurationMs != 3 || history[4].CycleDurationMs != 7 {
		t.Fatalf("expected oldest entries evicted, got first=%d last=%d",
			history[0].CycleDurationMs, history[4].CycleDurationMs)
	}

	// 副本语义：修改返回值不影响内部状态
	history[0].CycleDurationMs = 999
	if monitor.GetPerformanceHistory()[0].CycleDurationMs == 999 {
		t.Fatal("history must be returned as a copy")
	}
}

func TestRunCycle_RecordsSnapshot(t *testing.T) {
	db := newMonitorTestDB(t)
	monitor := configureTestMonitor(t, db, config.MonitorConfig{CheckIntervalMs: 120000})

	monitor.runCycle()

	history := monitor.GetPerformanceHistory()
	if len(history) != 1 {
		t.Fatalf("expected 1 snapshot after cycle, got %d", len(history))
	}
	if history[0].Overall != HealthHealthy {
		t.Fatalf("expected healthy cycle on fresh database, got %s", history[0].Overall)
	}

	status := monitor.GetMonitoringStatus()
	if status.LastCycleAt == nil || status.LastOverall != HealthHealthy {
		t.Fatalf("expected cycle metadata, got %+v", status)
	}
}

func TestGetPerformanceMetrics_OnDemandSampling(t *testing.T) {
	db := newMonitorTestDB(t)
	monitor := configureTestMonitor(t, db, config.MonitorConfig{CheckIntervalMs: 120000, MaxHistorySize: 3})
	ctx := context.Background()

	snapshot := monitor.GetPerformanceMetrics(ctx)
	if snapshot.Overall != HealthHealthy {
		t.Fatalf("expected healthy sample on fresh database, got %s", snapshot.Overall)
	}
	if snapshot.Timestamp.IsZero() {
		t.Fatal("expected sample timestamp")
	}

	// 按需采样同样计入历史并服从上限淘汰
	for i := 0; i < 3; i++ {
		monitor.GetPerformanceMetrics(ctx)
	}
	history := monitor.GetPerformanceHistory()
	if len(history) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(history))
	}

	status := monitor.GetMonitoringStatus()
	if status.LastCycleAt == nil || status.LastOverall != HealthHealthy {
		t.Fatalf("expected sample metadata, got %+v", status)
	}
}

func TestGetSecurityMetrics(t *testing.T) {
	db := newMonitorTestDB(t)
	monitor := configureTestMonitor(t, db, config.MonitorConfig{CheckIntervalMs: 120000})
	ctx := context.Background()

	// 空库：成功率按 100 计
	m, err := monitor.GetSecurityMetrics(ctx)
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	if m.SuccessRate != 100 || m.TotalLoginAttempts != 0 {
		t.Fatalf("expected 100%% on empty data, got %+v", m)
	}

	now := time.Now().UTC()
	seed := []models.SecurityEvent{
		{ID: "s1", EventType: string(EventLoginSuccess), Severity: "low", CreatedAt: now},
		{ID: "f1", EventType: string(EventLoginFailure), Severity: "high", CreatedAt: now},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	locked := now.Add(time.Hour)
	state := models.UserSecurityState{UserID: "u1", Email: "locked@example.com", LockedUntil: &locked}
	if err := db.Create(&state).Error; err != nil {
		t.Fatalf("seed state failed: %v", err)
	}

	m, err = monitor.GetSecurityMetrics(ctx)
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	if m.TotalLoginAttempts != 2 || m.SuccessfulLogins != 1 || m.FailedLogins != 1 {
		t.Fatalf("unexpected counts: %+v", m)
	}
	if m.SuccessRate != 50 {
		t.Fatalf("expected 50%% success rate, got %f", m.SuccessRate)
	}
	if m.LockedAccounts != 1 {
		t.Fatalf("expected 1 locked account, got %d", m.LockedAccounts)
	}
	if m.SuspiciousEvents != 0 {
		t.Fatalf("1 failure is below noise floor, got %d", m.SuspiciousEvents)
	}
}
