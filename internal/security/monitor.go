package security

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"backend/internal/config"
	"backend/internal/metrics"
	"backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// minCheckInterval 监控周期下限
const minCheckInterval = time.Minute

// SecurityMetrics 最近 24 小时的安全概览
type SecurityMetrics struct {
	TotalLoginAttempts int64   `json:"totalLoginAttempts"`
	SuccessfulLogins   int64   `json:"successfulLogins"`
	FailedLogins       int64   `json:"failedLogins"`
	SuccessRate        float64 `json:"successRate"`
	LockedAccounts     int64   `json:"lockedAccounts"`
	SuspiciousEvents   int64   `json:"suspiciousEvents"`
	ActiveAlerts       int64   `json:"activeAlerts"`
}

// PerformanceSnapshot 单次监控周期的性能快照
type PerformanceSnapshot struct {
	Timestamp         time.Time    `json:"timestamp"`
	CycleDurationMs   int64        `json:"cycleDurationMs"`
	DatabaseLatencyMs int64        `json:"databaseLatencyMs"`
	Overall           HealthStatus `json:"overall"`
}

// MonitoringStatus 监控器运行状态
type MonitoringStatus struct {
	Running         bool          `json:"running"`
	CheckIntervalMs int64         `json:"checkIntervalMs"`
	LastCycleAt     *time.Time    `json:"lastCycleAt,omitempty"`
	LastOverall     HealthStatus  `json:"lastOverall,omitempty"`
	HistorySize     int           `json:"historySize"`
}

// SecurityMonitor 安全监控器。进程内单例，周期执行健康检查，
// 维护有界的性能快照历史。
type SecurityMonitor struct {
	db       *gorm.DB
	logger   *zap.Logger
	events   *EventLogger
	alerting *AlertingService
	checker  *HealthChecker

	mu          sync.RWMutex
	interval    time.Duration
	maxHistory  int
	history     []PerformanceSnapshot
	running     bool
	stopCh      chan struct{}
	lastReport  *HealthReport
	lastCycleAt time.Time

	inFlight atomic.Bool
}

var (
	monitorInstance *SecurityMonitor
	monitorOnce     sync.Once
)

// Configure 初始化监控器单例。重复调用返回首次创建的实例。
func Configure(db *gorm.DB, logger *zap.Logger, events *EventLogger, alerting *AlertingService, checker *HealthChecker, cfg config.MonitorConfig) *SecurityMonitor {
	monitorOnce.Do(func() {
		interval := time.Duration(cfg.CheckIntervalMs) * time.Millisecond
		if interval < minCheckInterval {
			interval = 10 * time.Minute
		}
		maxHistory := cfg.MaxHistorySize
		if maxHistory <= 0 {
			maxHistory = 100
		}
		monitorInstance = &SecurityMonitor{
			db:         db,
			logger:     logger,
			events:     events,
			alerting:   alerting,
			checker:    checker,
			interval:   interval,
			maxHistory: maxHistory,
		}
	})
	return monitorInstance
}

// GetInstance 获取监控器单例
func GetInstance() *SecurityMonitor {
	if monitorInstance == nil {
		panic("安全监控器未初始化，请先调用 Configure()")
	}
	return monitorInstance
}

// StartMonitoring 启动监控循环：先立即执行一轮，之后按间隔周期执行。
// 已在运行时为幂等空操作。
func (m *SecurityMonitor) StartMonitoring() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Info("安全监控已在运行")
		return nil
	}
	if m.interval < minCheckInterval {
		m.mu.Unlock()
		return fmt.Errorf("检查间隔不能小于 1 分钟")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	interval := m.interval
	m.mu.Unlock()

	go m.loop(stopCh, interval)

	m.logger.Info("安全监控已启动", zap.Duration("interval", interval))
	return nil
}

// StopMonitoring 停止监控循环。未在运行时为空操作。
func (m *SecurityMonitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
	m.logger.Info("安全监控已停止")
}

// UpdateCheckInterval 调整监控周期。运行中会先停再以新间隔重启，
// 重启失败的错误原样返回。
func (m *SecurityMonitor) UpdateCheckInterval(intervalMs int64) error {
	interval := time.Duration(intervalMs) * time.Millisecond
	if interval < minCheckInterval {
		return fmt.Errorf("检查间隔不能小于 1 分钟")
	}

	m.mu.Lock()
	wasRunning := m.running
	m.mu.Unlock()

	if wasRunning {
		m.StopMonitoring()
	}

	m.mu.Lock()
	m.interval = interval
	m.mu.Unlock()

	if wasRunning {
		return m.StartMonitoring()
	}
	return nil
}

func (m *SecurityMonitor) loop(stopCh chan struct{}, interval time.Duration) {
	m.runCycle()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.runCycle()
		}
	}
}

// runCycle 执行一轮监控。上一轮未结束时直接跳过，周期之间不会重叠；
// 任何内部 panic 都被吞掉并记为健康检查失败事件，监控循环不死。
func (m *SecurityMonitor) runCycle() {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.logger.Warn("上一轮监控尚未结束，跳过本轮")
		return
	}
	defer m.inFlight.Store(false)

	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("监控周期异常", zap.Any("panic", r))
			m.events.LogEvent(ctx, EventInput{
				EventType: EventHealthCheckFailed,
				Metadata:  map[string]interface{}{"panic": fmt.Sprint(r)},
			})
		}
	}()

	_, report := m.samplePerformance(ctx)

	if report.Overall != HealthHealthy {
		details := map[string]interface{}{
			"overall":        string(report.Overall),
			"database":       string(report.Database.Status),
			"authentication": string(report.Authentication.Status),
			"api":            string(report.API.Status),
		}
		m.events.LogEvent(ctx, EventInput{
			EventType: EventSystemHealthDegraded,
			Metadata:  details,
		})
		m.alerting.RaiseHealthAlert(ctx, string(report.Overall), details)
	}
}

// samplePerformance 执行一轮健康检查，把性能快照计入历史并更新指标
func (m *SecurityMonitor) samplePerformance(ctx context.Context) (PerformanceSnapshot, *HealthReport) {
	start := time.Now()
	report := m.checker.CheckAll(ctx)
	cycleDuration := time.Since(start)

	metrics.HealthCheckDuration.Observe(cycleDuration.Seconds())
	metrics.SystemHealthGauge.Set(float64(healthScores[report.Overall]))

	snapshot := PerformanceSnapshot{
		Timestamp:         report.CheckedAt,
		CycleDurationMs:   cycleDuration.Milliseconds(),
		DatabaseLatencyMs: report.Database.LatencyMs,
		Overall:           report.Overall,
	}
	m.recordSnapshot(snapshot, report)
	return snapshot, report
}

// recordSnapshot 追加性能快照，超出上限时淘汰最旧的一条
func (m *SecurityMonitor) recordSnapshot(snapshot PerformanceSnapshot, report *HealthReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
	m.lastReport = report
	m.lastCycleAt = snapshot.Timestamp
}

// CheckSystemHealth 立即执行一次完整健康检查（不计入周期历史）
func (m *SecurityMonitor) CheckSystemHealth(ctx context.Context) *HealthReport {
	return m.checker.CheckAll(ctx)
}

// GetSecurityMetrics 统计最近 24 小时的安全概览。
// 与事件记录不同，指标读取失败要上抛：看板上的静默假数据比报错更危险。
func (m *SecurityMonitor) GetSecurityMetrics(ctx context.Context) (*SecurityMetrics, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	result := &SecurityMetrics{}

	if err := m.db.WithContext(ctx).Model(&models.SecurityEvent{}).
		Where("event_type = ? AND created_at >= ?", EventLoginSuccess, since).
		Count(&result.SuccessfulLogins).Error; err != nil {
		return nil, fmt.Errorf("统计成功登录失败: %w", err)
	}
	if err := m.db.WithContext(ctx).Model(&models.SecurityEvent{}).
		Where("event_type = ? AND created_at >= ?", EventLoginFailure, since).
		Count(&result.FailedLogins).Error; err != nil {
		return nil, fmt.Errorf("统计失败登录失败: %w", err)
	}

	result.TotalLoginAttempts = result.SuccessfulLogins + result.FailedLogins
	if result.TotalLoginAttempts == 0 {
		result.SuccessRate = 100
	} else {
		result.SuccessRate = float64(result.SuccessfulLogins) / float64(result.TotalLoginAttempts) * 100
	}

	if err := m.db.WithContext(ctx).Model(&models.UserSecurityState{}).
		Where("locked_until IS NOT NULL AND locked_until > ?", time.Now().UTC()).
		Count(&result.LockedAccounts).Error; err != nil {
		return nil, fmt.Errorf("统计锁定账户失败: %w", err)
	}

	// 可疑度启发式：超出正常噪声水位（10 次/天）的失败登录数
	result.SuspiciousEvents = result.FailedLogins - 10
	if result.SuspiciousEvents < 0 {
		result.SuspiciousEvents = 0
	}

	if err := m.db.WithContext(ctx).Model(&models.Alert{}).
		Where("status = ?", AlertStatusActive).
		Count(&result.ActiveAlerts).Error; err != nil {
		return nil, fmt.Errorf("统计活跃告警失败: %w", err)
	}

	return result, nil
}

// GetPerformanceMetrics 按需采样一次性能并计入快照历史
func (m *SecurityMonitor) GetPerformanceMetrics(ctx context.Context) PerformanceSnapshot {
	snapshot, _ := m.samplePerformance(ctx)
	return snapshot
}

// GetPerformanceHistory 返回性能快照历史的副本（旧到新）
func (m *SecurityMonitor) GetPerformanceHistory() []PerformanceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := make([]PerformanceSnapshot, len(m.history))
	copy(history, m.history)
	return history
}

// GetMonitoringStatus 监控器当前状态
func (m *SecurityMonitor) GetMonitoringStatus() *MonitoringStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := &MonitoringStatus{
		Running:         m.running,
		CheckIntervalMs: m.interval.Milliseconds(),
		HistorySize:     len(m.history),
	}
	if !m.lastCycleAt.IsZero() {
		t := m.lastCycleAt
		status.LastCycleAt = &t
	}
	if m.lastReport != nil {
		status.LastOverall = m.lastReport.Overall
	}
	return status
}

// resetMonitorSingleton 仅测试用：清空单例让下一次 Configure 重新生效
func resetMonitorSingleton() {
	monitorInstance = nil
	monitorOnce = sync.Once{}
}
