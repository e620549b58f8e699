package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 报告周期
const (
	ReportPeriodDaily  = "daily"
	ReportPeriodWeekly = "weekly"
)

var ErrReportNotFound = errors.New("REPORT_NOT_FOUND")

// ReportGenerator 周期性安全报告生成器
type ReportGenerator struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewReportGenerator 创建报告生成器
func NewReportGenerator(db *gorm.DB, logger *zap.Logger) *ReportGenerator {
	return &ReportGenerator{db: db, logger: logger}
}

// GenerateReport 汇总指定周期内的安全数据并落库
func (g *ReportGenerator) GenerateReport(ctx context.Context, period string) (*models.SecurityReport, error) {
	end := time.Now().UTC()
	var start time.Time
	switch period {
	case ReportPeriodDaily:
		start = end.AddDate(0, 0, -1)
	case ReportPeriodWeekly:
		start = end.AddDate(0, 0, -7)
	default:
		return nil, fmt.Errorf("不支持的报告周期: %s", period)
	}

	payload, err := g.buildPayload(ctx, start, end)
	if err != nil {
		return nil, err
	}

	report := &models.SecurityReport{
		ID:        uuid.NewString(),
		Period:    period,
		StartTime: start,
		EndTime:   end,
		Payload:   payload,
		CreatedAt: end,
	}
	if err := g.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, fmt.Errorf("报告写入失败: %w", err)
	}

	g.logger.Info("安全报告已生成",
		zap.String("report_id", report.ID),
		zap.String("period", period),
	)
	return report, nil
}

// buildPayload 汇总事件分布、告警分布与锁定情况
func (g *ReportGenerator) buildPayload(ctx context.Context, start, end time.Time) (datatypes.JSONMap, error) {
	type typeCount struct {
		EventType string
		Severity  string
		Count     int64
	}
	var eventCounts []typeCount
	if err := g.db.WithContext(ctx).Model(&models.SecurityEvent{}).
		Select("event_type, severity, COUNT(*) as count").
		Where("created_at >= ? AND created_at < ?", start, end).
		Group("event_type, severity").
		Scan(&eventCounts).Error; err != nil {
		return nil, fmt.Errorf("事件分布查询失败: %w", err)
	}

	byType := make(map[string]int64)
	bySeverity := make(map[string]int64)
	var totalEvents int64
	for _, c := range eventCounts {
		byType[c.EventType] += c.Count
		bySeverity[c.Severity] += c.Count
		totalEvents += c.Count
	}

	type alertCount struct {
		Severity string
		Status   string
		Count    int64
	}
	var alertCounts []alertCount
	if err := g.db.WithContext(ctx).Model(&models.Alert{}).
		Select("severity, status, COUNT(*) as count").
		Where("created_at >= ? AND created_at < ?", start, end).
		Group("severity, status").
		Scan(&alertCounts).Error; err != nil {
		return nil, fmt.Errorf("告警分布查询失败: %w", err)
	}

	alertsBySeverity := make(map[string]int64)
	alertsByStatus := make(map[string]int64)
	var totalAlerts int64
	for _, c := range alertCounts {
		alertsBySeverity[c.Severity] += c.Count
		alertsByStatus[c.Status] += c.Count
		totalAlerts += c.Count
	}

	// 失败登录最多的身份（前 10）
	type emailCount struct {
		Email string
		Count int64
	}
	var topFailures []emailCount
	if err := g.db.WithContext(ctx).Model(&models.SecurityEvent{}).
		Select("email, COUNT(*) as count").
		Where("event_type = ? AND created_at >= ? AND created_at < ? AND email <> ''", EventLoginFailure, start, end).
		Group("email").
		Order("count DESC").
		Limit(10).
		Scan(&topFailures).Error; err != nil {
		return nil, fmt.Errorf("失败登录排行查询失败: %w", err)
	}

	topList := make([]map[string]interface{}, 0, len(topFailures))
	for _, t := range topFailures {
		topList = append(topList, map[string]interface{}{"email": t.Email, "count": t.Count})
	}

	var lockouts int64
	if err := g.db.WithContext(ctx).Model(&models.SecurityEvent{}).
		Where("event_type = ? AND created_at >= ? AND created_at < ?", EventAccountLocked, start, end).
		Count(&lockouts).Error; err != nil {
		return nil, fmt.Errorf("锁定统计查询失败: %w", err)
	}

	return datatypes.JSONMap{
		"total_events":       totalEvents,
		"events_by_type":     byType,
		"events_by_severity": bySeverity,
		"total_alerts":       totalAlerts,
		"alerts_by_severity": alertsBySeverity,
		"alerts_by_status":   alertsByStatus,
		"top_failed_logins":  topList,
		"account_lockouts":   lockouts,
	}, nil
}

// GetReport 按 ID 查询报告
func (g *ReportGenerator) GetReport(ctx context.Context, id string) (*models.SecurityReport, error) {
	var report models.SecurityReport
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询报告失败: %w", err)
	}
	return &report, nil
}

// ListReports 按周期列出最近的报告
func (g *ReportGenerator) ListReports(ctx context.Context, period string, limit int) ([]models.SecurityReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := g.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if period != "" {
		query = query.Where("period = ?", period)
	}

	var reports []models.SecurityReport
	if err := query.Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("查询报告列表失败: %w", err)
	}
	return reports, nil
}
