package security

import (
	"context"
	"fmt"
	"time"

	"backend/internal/config"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthStatus 组件健康度
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// 整体健康度评分：healthy=3 degraded=2 unhealthy=1。
// 三项总分 9 为 healthy，6 及以上为 degraded，其余 unhealthy。
var healthScores = map[HealthStatus]int{
	HealthHealthy:   3,
	HealthDegraded:  2,
	HealthUnhealthy: 1,
}

// CheckResult 单项健康检查结果
type CheckResult struct {
	Status    HealthStatus `json:"status"`
	LatencyMs int64        `json:"latencyMs"`
	Message   string       `json:"message,omitempty"`
}

// HealthReport 一次完整健康检查的结论
type HealthReport struct {
	Overall        HealthStatus `json:"overall"`
	Database       CheckResult  `json:"database"`
	Authentication CheckResult  `json:"authentication"`
	API            CheckResult  `json:"api"`
	CheckedAt      time.Time    `json:"checkedAt"`
}

// APIProbe 对外依赖探测项
type APIProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthChecker 三项基础设施健康检查：数据库、认证依赖、对外接口
type HealthChecker struct {
	db           *gorm.DB
	logger       *zap.Logger
	probes       []APIProbe
	slowQuery    time.Duration
	checkTimeout time.Duration
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(db *gorm.DB, logger *zap.Logger, cfg config.MonitorConfig) *HealthChecker {
	slow := time.Duration(cfg.SlowQueryMs) * time.Millisecond
	if slow <= 0 {
		slow = 2 * time.Second
	}
	timeout := time.Duration(cfg.CheckTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{db: db, logger: logger, slowQuery: slow, checkTimeout: timeout}
}

// AddAPIProbe 注册对外依赖探测
func (h *HealthChecker) AddAPIProbe(probe APIProbe) {
	h.probes = append(h.probes, probe)
}

// CheckAll 顺序执行全部检查并给出整体结论
func (h *HealthChecker) CheckAll(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Database:       h.withTimeout(ctx, h.CheckDatabaseHealth),
		Authentication: h.withTimeout(ctx, h.CheckAuthenticationHealth),
		API:            h.withTimeout(ctx, h.CheckAPIHealth),
		CheckedAt:      time.Now().UTC(),
	}
	report.Overall = DetermineOverallHealth(report.Database.Status, report.Authentication.Status, report.API.Status)
	return report
}

// CheckDatabaseHealth 数据库连通性与延迟。查询超过慢查询阈值判 degraded，
// 出错判 unhealthy。
func (h *HealthChecker) CheckDatabaseHealth(ctx context.Context) CheckResult {
	start := time.Now()

	var one int
	err := h.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
	latency := time.Since(start)

	result := CheckResult{LatencyMs: latency.Milliseconds()}
	switch {
	case err != nil:
		result.Status = HealthUnhealthy
		result.Message = err.Error()
	case latency > h.slowQuery:
		result.Status = HealthDegraded
		result.Message = fmt.Sprintf("数据库响应缓慢: %dms", latency.Milliseconds())
	default:
		result.Status = HealthHealthy
	}
	return result
}

// CheckAuthenticationHealth 认证依赖可用性。认证路径依赖用户安全状态表，
// 能读即 healthy，不可读即 unhealthy（二元，无降级档）。
func (h *HealthChecker) CheckAuthenticationHealth(ctx context.Context) CheckResult {
	start := time.Now()

	var count int64
	err := h.db.WithContext(ctx).Table("user_security_states").Limit(1).Count(&count).Error
	latency := time.Since(start)

	result := CheckResult{LatencyMs: latency.Milliseconds()}
	if err != nil {
		result.Status = HealthUnhealthy
		result.Message = err.Error()
		return result
	}
	result.Status = HealthHealthy
	return result
}

// CheckAPIHealth 对外依赖探测。无失败为 healthy；失败数占比过半为
// unhealthy，否则 degraded。未注册探测项时视为 healthy。
func (h *HealthChecker) CheckAPIHealth(ctx context.Context) CheckResult {
	start := time.Now()

	failures := 0
	var lastErr error
	for _, probe := range h.probes {
		if err := probe.Check(ctx); err != nil {
			failures++
			lastErr = err
			h.logger.Warn("接口探测失败", zap.String("probe", probe.Name), zap.Error(err))
		}
	}
	latency := time.Since(start)

	result := CheckResult{LatencyMs: latency.Milliseconds()}
	switch {
	case failures == 0:
		result.Status = HealthHealthy
	case failures*2 >= len(h.probes):
		result.Status = HealthUnhealthy
		result.Message = lastErr.Error()
	default:
		result.Status = HealthDegraded
		result.Message = lastErr.Error()
	}
	return result
}

// withTimeout 单项检查卡死不能拖垮整个监控周期：超时按 unhealthy 处理
func (h *HealthChecker) withTimeout(ctx context.Context, check func(context.Context) CheckResult) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	done := make(chan CheckResult, 1)
	go func() {
		done <- check(ctx)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return CheckResult{
			Status:    HealthUnhealthy,
			LatencyMs: h.checkTimeout.Milliseconds(),
			Message:   "健康检查超时",
		}
	}
}

// DetermineOverallHealth 三项检查归约为整体健康度
func DetermineOverallHealth(statuses ...HealthStatus) HealthStatus {
	total := 0
	for _, s := range statuses {
		score, ok := healthScores[s]
		if !ok {
			score = healthScores[HealthUnhealthy]
		}
		total += score
	}

	switch {
	case total == len(statuses)*3:
		return HealthHealthy
	case total >= len(statuses)*2:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}
