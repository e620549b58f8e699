package security

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"backend/internal/config"
	"backend/internal/metrics"
	"backend/internal/models"

	"github.com/Knetic/govaluate"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 规则条件类型
const (
	ConditionThreshold = "threshold" // 时间窗口内事件数达到阈值
	ConditionPattern   = "pattern"   // 语义匹配（可附加表达式）
	ConditionAnomaly   = "anomaly"   // 相对历史基线的异常偏离
)

// 告警状态
const (
	AlertStatusActive       = "active"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
)

// 异常检测参数：当前窗口事件数相对前 12 个同长窗口的 z 分数达到 3 且
// 事件数不少于 5 时判定为异常
const (
	anomalyBaselineWindows = 12
	anomalyZScore          = 3.0
	anomalyMinCount        = 5
)

var (
	ErrRuleNotFound      = errors.New("RULE_NOT_FOUND")
	ErrAlertNotFound     = errors.New("ALERT_NOT_FOUND")
	ErrInvalidTransition = errors.New("INVALID_STATUS_TRANSITION")
)

// Notifier 告警通知发送方（由 Dispatcher 实现）
type Notifier interface {
	SendNotifications(ctx context.Context, alert *models.Alert, rule *models.AlertRule)
	BroadcastCritical(ctx context.Context, event *models.SecurityEvent)
}

// AlertingService 规则评估引擎。
//
// 每条入库安全事件都会经过 ProcessSecurityEvent：对事件类型匹配且启用的
// 规则逐条评估，命中则生成 Alert 并交给通知分发器。阈值评估始终以存储层
// 的时间戳重新查询，不缓存计数。
type AlertingService struct {
	db       *gorm.DB
	rdb      redis.UniversalClient
	logger   *zap.Logger
	notifier Notifier
	cfg      config.AlertingConfig
}

// NewAlertingService 创建告警服务。rdb 可为 nil（冷却抑制将被跳过）。
func NewAlertingService(db *gorm.DB, rdb redis.UniversalClient, logger *zap.Logger, notifier Notifier, cfg config.AlertingConfig) *AlertingService {
	return &AlertingService{db: db, rdb: rdb, logger: logger, notifier: notifier, cfg: cfg}
}

// SeedDefaultRules 写入默认规则（按名称幂等）
func (s *AlertingService) SeedDefaultRules(ctx context.Context) error {
	defaults := defaultAlertRules()
	for i := range defaults {
		rule := &defaults[i]
		var existing models.AlertRule
		err := s.db.WithContext(ctx).Where("name = ?", rule.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询默认规则失败: %w", err)
		}
		if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
			return fmt.Errorf("写入默认规则失败: %w", err)
		}
	}
	return nil
}

// defaultAlertRules 出厂默认规则集
func defaultAlertRules() []models.AlertRule {
	five, three, one := 5, 3, 1
	now := time.Now().UTC()
	return []models.AlertRule{
		{
			ID:                uuid.NewString(),
			Name:              "failed-login-threshold",
			Description:       "同一时间窗口内登录失败次数过多",
			EventType:         string(EventLoginFailure),
			Condition:         ConditionThreshold,
			Threshold:         &five,
			TimeWindowMinutes: 15,
			Severity:          string(SeverityHigh),
			Enabled:           true,
			Actions:           models.AlertActionList{{Type: "email", Enabled: true}, {Type: "push", Enabled: true}},
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			ID:                uuid.NewString(),
			Name:              "suspicious-activity-pattern",
			Description:       "检测到可疑活动",
			EventType:         string(EventSuspiciousActivity),
			Condition:         ConditionPattern,
			TimeWindowMinutes: 60,
			Severity:          string(SeverityMedium),
			Enabled:           true,
			Actions:           models.AlertActionList{{Type: "push", Enabled: true}},
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			ID:                uuid.NewString(),
			Name:              "mfa-bypass-threshold",
			Description:       "短时间内多次 MFA 校验失败，疑似绕过尝试",
			EventType:         string(EventMFAFailure),
			Condition:         ConditionThreshold,
			Threshold:         &three,
			TimeWindowMinutes: 30,
			Severity:          string(SeverityCritical),
			Enabled:           true,
			Actions:           models.AlertActionList{{Type: "email", Enabled: true}, {Type: "push", Enabled: true}},
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			ID:                uuid.NewString(),
			Name:              "account-lockout-threshold",
			Description:       "账户触发锁定",
			EventType:         string(EventAccountLocked),
			Condition:         ConditionThreshold,
			Threshold:         &one,
			TimeWindowMinutes: 5,
			Severity:          string(SeverityMedium),
			Enabled:           true,
			Actions:           models.AlertActionList{{Type: "push", Enabled: true}},
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
}

// ProcessSecurityEvent 对入站事件评估全部匹配规则，返回本次生成的告警
func (s *AlertingService) ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) []models.Alert {
	var rules []models.AlertRule
	if err := s.db.WithContext(ctx).
		Where("event_type = ? AND enabled = ?", event.EventType, true).
		Find(&rules).Error; err != nil {
		s.logger.Error("加载告警规则失败", zap.Error(err))
		return nil
	}

	var fired []models.Alert
	for i := range rules {
		rule := &rules[i]
		matched, err := s.evaluateRule(ctx, rule, event)
		if err != nil {
			s.logger.Error("规则评估失败",
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			continue
		}
		if !matched {
			continue
		}
		if s.inCooldown(ctx, rule, event) {
			continue
		}

		alert, err := s.createAlert(ctx, rule, event)
		if err != nil {
			s.logger.Error("告警写入失败",
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			continue
		}
		fired = append(fired, *alert)
		metrics.AlertsFiredTotal.WithLabelValues(rule.Name, rule.Severity).Inc()

		if s.notifier != nil {
			s.notifier.SendNotifications(ctx, alert, rule)
		}
	}
	return fired
}

// NotifyCriticalEvent 紧急事件直通告警通道（不经过规则评估）
func (s *AlertingService) NotifyCriticalEvent(ctx context.Context, event *models.SecurityEvent) {
	if s.notifier != nil {
		s.notifier.BroadcastCritical(ctx, event)
	}
}

// evaluateRule 按条件类型分派评估
func (s *AlertingService) evaluateRule(ctx context.Context, rule *models.AlertRule, event *models.SecurityEvent) (bool, error) {
	switch rule.Condition {
	case ConditionThreshold:
		return s.evaluateThreshold(ctx, rule)
	case ConditionPattern:
		return s.evaluatePattern(rule, event)
	case ConditionAnomaly:
		return s.evaluateAnomaly(ctx, rule)
	default:
		return false, fmt.Errorf("未知的规则条件: %s", rule.Condition)
	}
}

// evaluateThreshold 统计滑动窗口内的事件数。以存储层 created_at 为准，
// 每次评估都重新查询。
func (s *AlertingService) evaluateThreshold(ctx context.Context, rule *models.AlertRule) (bool, error) {
	if rule.Threshold == nil {
		return false, fmt.Errorf("threshold 规则缺少阈值: %s", rule.Name)
	}
	since := time.Now().UTC().Add(-time.Duration(rule.TimeWindowMinutes) * time.Minute)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SecurityEvent{}).
		Where("event_type = ? AND created_at >= ?", rule.EventType, since).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("窗口计数查询失败: %w", err)
	}
	return count >= int64(*rule.Threshold), nil
}

// evaluatePattern 语义匹配。未配置表达式时，事件类型匹配即命中；
// 配置了表达式则在事件字段上求值。
func (s *AlertingService) evaluatePattern(rule *models.AlertRule, event *models.SecurityEvent) (bool, error) {
	if rule.PatternExpr == "" {
		return event.EventType == rule.EventType, nil
	}

	expr, err := govaluate.NewEvaluableExpression(rule.PatternExpr)
	if err != nil {
		return false, fmt.Errorf("表达式解析失败: %w", err)
	}

	params := map[string]interface{}{
		"event_type": event.EventType,
		"severity":   event.Severity,
		"user_id":    event.UserID,
		"email":      event.Email,
		"ip_address": event.IPAddress,
	}
	for k, v := range event.Metadata {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}

	result, err := expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("表达式求值失败: %w", err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("表达式结果不是布尔值: %s", rule.PatternExpr)
	}
	return matched, nil
}

// evaluateAnomaly 以前若干个同长窗口的事件数为基线，对当前窗口计算 z 分数
func (s *AlertingService) evaluateAnomaly(ctx context.Context, rule *models.AlertRule) (bool, error) {
	window := time.Duration(rule.TimeWindowMinutes) * time.Minute
	now := time.Now().UTC()
	since := now.Add(-window * time.Duration(anomalyBaselineWindows+1))

	var events []models.SecurityEvent
	if err := s.db.WithContext(ctx).
		Select("created_at").
		Where("event_type = ? AND created_at >= ?", rule.EventType, since).
		Find(&events).Error; err != nil {
		return false, fmt.Errorf("基线查询失败: %w", err)
	}

	// 按窗口分桶：0 号桶为当前窗口
	buckets := make([]float64, anomalyBaselineWindows+1)
	for _, ev := range events {
		age := now.Sub(ev.CreatedAt)
		idx := int(age / window)
		if idx >= 0 && idx < len(buckets) {
			buckets[idx]++
		}
	}

	current := buckets[0]
	if current < anomalyMinCount {
		return false, nil
	}

	baseline := buckets[1:]
	var sum float64
	for _, c := range baseline {
		sum += c
	}
	mean := sum / float64(len(baseline))

	var variance float64
	for _, c := range baseline {
		variance += (c - mean) * (c - mean)
	}
	stddev := math.Sqrt(variance / float64(len(baseline)))
	if stddev == 0 {
		// 基线无波动：当前窗口只要显著高于均值即判异常
		return current > mean, nil
	}

	z := (current - mean) / stddev
	return z >= anomalyZScore, nil
}

// inCooldown 判断同一规则+主体是否处于抑制窗口内。
// Redis 不可用时放行（保持与无冷却时一致的触发行为）。
func (s *AlertingService) inCooldown(ctx context.Context, rule *models.AlertRule, event *models.SecurityEvent) bool {
	if !s.cfg.CooldownEnabled || s.rdb == nil {
		return false
	}

	subject := alertSubject(event)
	key := fmt.Sprintf("alertcd:%s:%s", rule.ID, subject)
	ttl := time.Duration(rule.TimeWindowMinutes) * time.Minute

	ok, err := s.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		s.logger.Warn("告警冷却检查失败，放行", zap.Error(err))
		return false
	}
	return !ok
}

// createAlert 构造并持久化告警
func (s *AlertingService) createAlert(ctx context.Context, rule *models.AlertRule, event *models.SecurityEvent) (*models.Alert, error) {
	alert := &models.Alert{
		ID:       uuid.NewString(),
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Severity: rule.Severity,
		Message:  generateAlertMessage(rule, event),
		Details: datatypes.JSONMap{
			"event_id":   event.ID,
			"event_type": event.EventType,
			"subject":    alertSubject(event),
			"ip_address": event.IPAddress,
		},
		Status:    AlertStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, err
	}

	s.logger.Warn("告警触发",
		zap.String("rule", rule.Name),
		zap.String("severity", rule.Severity),
		zap.String("subject", alertSubject(event)),
	)
	return alert, nil
}

// generateAlertMessage 拼接规则描述与事件主体
func generateAlertMessage(rule *models.AlertRule, event *models.SecurityEvent) string {
	return fmt.Sprintf("%s（主体: %s）", rule.Description, alertSubject(event))
}

// alertSubject 告警主体：优先邮箱，其次用户 ID、来源 IP
func alertSubject(event *models.SecurityEvent) string {
	switch {
	case event.Email != "":
		return event.Email
	case event.UserID != "":
		return event.UserID
	case event.IPAddress != "":
		return event.IPAddress
	default:
		return "system"
	}
}

// ============ 规则 CRUD ============

// CreateAlertRule 创建规则。threshold 条件必须携带阈值。
func (s *AlertingService) CreateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt

	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("创建规则失败: %w", err)
	}
	return nil
}

// GetAlertRules 列出全部规则
func (s *AlertingService) GetAlertRules(ctx context.Context) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("查询规则失败: %w", err)
	}
	return rules, nil
}

// UpdateAlertRule 更新规则（阈值调整、启停等）
func (s *AlertingService) UpdateAlertRule(ctx context.Context, id string, update *models.AlertRule) error {
	var existing models.AlertRule
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRuleNotFound
	}
	if err != nil {
		return fmt.Errorf("查询规则失败: %w", err)
	}

	if update.Name != "" {
		existing.Name = update.Name
	}
	if update.Description != "" {
		existing.Description = update.Description
	}
	if update.EventType != "" {
		existing.EventType = update.EventType
	}
	if update.Condition != "" {
		existing.Condition = update.Condition
	}
	if update.Threshold != nil {
		existing.Threshold = update.Threshold
	}
	if update.TimeWindowMinutes > 0 {
		existing.TimeWindowMinutes = update.TimeWindowMinutes
	}
	if update.Severity != "" {
		existing.Severity = update.Severity
	}
	if update.PatternExpr != "" {
		existing.PatternExpr = update.PatternExpr
	}
	if update.Actions != nil {
		existing.Actions = update.Actions
	}
	existing.Enabled = update.Enabled
	existing.UpdatedAt = time.Now().UTC()

	if err := validateRule(&existing); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return fmt.Errorf("更新规则失败: %w", err)
	}
	return nil
}

// DeleteAlertRule 删除规则
func (s *AlertingService) DeleteAlertRule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.AlertRule{})
	if result.Error != nil {
		return fmt.Errorf("删除规则失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// validateRule 规则入参校验
func validateRule(rule *models.AlertRule) error {
	if rule.Name == "" {
		return fmt.Errorf("规则名称不能为空")
	}
	if rule.EventType == "" {
		return fmt.Errorf("规则事件类型不能为空")
	}
	switch rule.Condition {
	case ConditionThreshold:
		if rule.Threshold == nil || *rule.Threshold <= 0 {
			return fmt.Errorf("threshold 条件必须配置正数阈值")
		}
	case ConditionPattern, ConditionAnomaly:
	default:
		return fmt.Errorf("不支持的规则条件: %s", rule.Condition)
	}
	if !ValidSeverity(Severity(rule.Severity)) {
		return fmt.Errorf("无效的严重级别: %s", rule.Severity)
	}
	if rule.TimeWindowMinutes <= 0 {
		rule.TimeWindowMinutes = 15
	}
	return nil
}

// ============ 告警查询与状态流转 ============

// AlertFilter 告警查询条件
type AlertFilter struct {
	Status   string
	Severity string
	Limit    int
}

// GetAlerts 按条件查询告警（倒序）
func (s *AlertingService) GetAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var alerts []models.Alert
	if err := query.Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert 确认告警：仅允许 active → acknowledged
func (s *AlertingService) AcknowledgeAlert(ctx context.Context, id, acknowledgedBy string) error {
	alert, err := s.loadAlert(ctx, id)
	if err != nil {
		return err
	}
	if alert.Status != AlertStatusActive {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          AlertStatusAcknowledged,
			"acknowledged_at": now,
			"acknowledged_by": acknowledgedBy,
		}).Error
}

// ResolveAlert 关闭告警：active 或 acknowledged → resolved，终态不可逆
func (s *AlertingService) ResolveAlert(ctx context.Context, id string) error {
	alert, err := s.loadAlert(ctx, id)
	if err != nil {
		return err
	}
	if alert.Status == AlertStatusResolved {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      AlertStatusResolved,
			"resolved_at": now,
		}).Error
}

// AlertStats 最近 24 小时的告警统计
type AlertStats struct {
	Total      int64            `json:"total"`
	Active     int64            `json:"active"`
	BySeverity map[string]int64 `json:"bySeverity"`
	ByStatus   map[string]int64 `json:"byStatus"`
}

// GetAlertStats 统计最近 24 小时的告警分布
func (s *AlertingService) GetAlertStats(ctx context.Context) (*AlertStats, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)

	var alerts []models.Alert
	if err := s.db.WithContext(ctx).
		Select("severity", "status").
		Where("created_at >= ?", since).
		Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("告警统计查询失败: %w", err)
	}

	stats := &AlertStats{
		BySeverity: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}
	for _, a := range alerts {
		stats.Total++
		stats.BySeverity[a.Severity]++
		stats.ByStatus[a.Status]++
		if a.Status == AlertStatusActive {
			stats.Active++
		}
	}
	return stats, nil
}

// RaiseHealthAlert 系统健康度下降时由监控器调用，生成系统级告警
func (s *AlertingService) RaiseHealthAlert(ctx context.Context, overall string, details map[string]interface{}) {
	rule, err := s.ensureHealthRule(ctx)
	if err != nil {
		s.logger.Error("获取系统健康规则失败", zap.Error(err))
		return
	}

	severity := string(SeverityHigh)
	if overall == string(HealthUnhealthy) {
		severity = string(SeverityCritical)
	}

	alert := &models.Alert{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Severity:  severity,
		Message:   fmt.Sprintf("系统健康状态: %s", overall),
		Details:   datatypes.JSONMap(details),
		Status:    AlertStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		s.logger.Error("系统健康告警写入失败", zap.Error(err))
		return
	}

	metrics.AlertsFiredTotal.WithLabelValues(rule.Name, severity).Inc()
	if s.notifier != nil {
		s.notifier.SendNotifications(ctx, alert, rule)
	}
}

// ensureHealthRule 确保系统健康内置规则存在
func (s *AlertingService) ensureHealthRule(ctx context.Context) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := s.db.WithContext(ctx).Where("name = ?", "system-health").First(&rule).Error
	if err == nil {
		return &rule, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	rule = models.AlertRule{
		ID:                uuid.NewString(),
		Name:              "system-health",
		Description:       "系统整体健康度下降",
		EventType:         string(EventSystemHealthDegraded),
		Condition:         ConditionPattern,
		TimeWindowMinutes: 10,
		Severity:          string(SeverityHigh),
		Enabled:           true,
		Actions:           models.AlertActionList{{Type: "push", Enabled: true}},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *AlertingService) loadAlert(ctx context.Context, id string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	return &alert, nil
}
