package security

import (
	"context"
	"time"

	"backend/internal/metrics"
	"backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventInput 待记录的安全事件
type EventInput struct {
	EventType EventType
	UserID    string
	Email     string
	IPAddress string
	UserAgent string
	Metadata  map[string]interface{}
	Severity  Severity // 为空时按事件类型取默认级别
}

// EventProcessor 事件消费方（规则引擎）。日志器对所有入库事件做转发。
type EventProcessor interface {
	ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) []models.Alert
	NotifyCriticalEvent(ctx context.Context, event *models.SecurityEvent)
}

// EventLogger 安全事件日志器。
//
// 记录失败绝不向调用方抛错：审计写入失败不能阻断登录等业务操作，
// 失败仅写入应用日志。查询路径同样降级为空列表。
type EventLogger struct {
	db        *gorm.DB
	logger    *zap.Logger
	processor EventProcessor
}

// NewEventLogger 创建事件日志器。processor 可为 nil（测试或纯审计场景）。
func NewEventLogger(db *gorm.DB, logger *zap.Logger, processor EventProcessor) *EventLogger {
	return &EventLogger{db: db, logger: logger, processor: processor}
}

// SetProcessor 绑定规则引擎（用于解决初始化顺序上的互相依赖）
func (l *EventLogger) SetProcessor(p EventProcessor) {
	l.processor = p
}

// LogEvent 记录一条安全事件。持久化、指标上报、规则评估依次执行，
// 任何一步失败都只记日志，不影响调用方。
func (l *EventLogger) LogEvent(ctx context.Context, input EventInput) {
	severity := input.Severity
	if severity == "" {
		severity = DefaultSeverity(input.EventType)
	}

	event := &models.SecurityEvent{
		ID:        uuid.NewString(),
		EventType: string(input.EventType),
		UserID:    input.UserID,
		Email:     input.Email,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Metadata:  datatypes.JSONMap(input.Metadata),
		Severity:  string(severity),
		CreatedAt: time.Now().UTC(),
	}

	if err := l.db.WithContext(ctx).Create(event).Error; err != nil {
		l.logger.Error("安全事件写入失败",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		// 写入失败不中断后续处理：告警路径依然要收到该事件
	}

	metrics.SecurityEventsTotal.WithLabelValues(event.EventType, event.Severity).Inc()

	if l.processor == nil {
		return
	}

	// 所有事件进入规则引擎评估；评估失败同样只记日志
	func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("规则评估异常", zap.Any("panic", r))
			}
		}()
		l.processor.ProcessSecurityEvent(ctx, event)
	}()

	// 紧急事件同步走告警通知路径（尽力而为）
	if IsCriticalEvent(input.EventType, severity) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("紧急事件通知异常", zap.Any("panic", r))
				}
			}()
			l.processor.NotifyCriticalEvent(ctx, event)
		}()
	}
}

// GetUserSecurityEvents 查询某用户最近 days 天的安全事件（倒序）。
// 查询失败时返回空列表，读路径降级不上抛。
func (l *EventLogger) GetUserSecurityEvents(ctx context.Context, userID string, days int) []models.SecurityEvent {
	return l.queryEvents(ctx, days, func(q *gorm.DB) *gorm.DB {
		return q.Where("user_id = ?", userID)
	})
}

// GetSystemSecurityEvents 查询全系统最近 days 天的安全事件（倒序）。
func (l *EventLogger) GetSystemSecurityEvents(ctx context.Context, days int) []models.SecurityEvent {
	return l.queryEvents(ctx, days, nil)
}

func (l *EventLogger) queryEvents(ctx context.Context, days int, scope func(*gorm.DB) *gorm.DB) []models.SecurityEvent {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	query := l.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC")
	if scope != nil {
		query = scope(query)
	}

	var events []models.SecurityEvent
	if err := query.Find(&events).Error; err != nil {
		l.logger.Error("安全事件查询失败", zap.Error(err))
		return []models.SecurityEvent{}
	}
	return events
}

// ============ 固定级别的便捷方法 ============

// LogLoginSuccess 登录成功（low）
func (l *EventLogger) LogLoginSuccess(ctx context.Context, userID, email, ip, userAgent string) {
	l.LogEvent(ctx, EventInput{EventType: EventLoginSuccess, UserID: userID, Email: email, IPAddress: ip, UserAgent: userAgent})
}

// LogLoginFailure 登录失败（high）
func (l *EventLogger) LogLoginFailure(ctx context.Context, email, ip, userAgent string, metadata map[string]interface{}) {
	l.LogEvent(ctx, EventInput{EventType: EventLoginFailure, Email: email, IPAddress: ip, UserAgent: userAgent, Metadata: metadata})
}

// LogAccountLocked 账户锁定（critical）
func (l *EventLogger) LogAccountLocked(ctx context.Context, email string, metadata map[string]interface{}) {
	l.LogEvent(ctx, EventInput{EventType: EventAccountLocked, Email: email, Metadata: metadata})
}

// LogSuspiciousActivity 可疑活动（critical）
func (l *EventLogger) LogSuspiciousActivity(ctx context.Context, userID, email, ip string, metadata map[string]interface{}) {
	l.LogEvent(ctx, EventInput{EventType: EventSuspiciousActivity, UserID: userID, Email: email, IPAddress: ip, Metadata: metadata})
}

// LogBruteForceAttempt 暴力破解尝试（critical）
func (l *EventLogger) LogBruteForceAttempt(ctx context.Context, email, ip string, metadata map[string]interface{}) {
	l.LogEvent(ctx, EventInput{EventType: EventBruteForceAttempt, Email: email, IPAddress: ip, Metadata: metadata})
}

// LogPasswordChange 密码修改（medium）
func (l *EventLogger) LogPasswordChange(ctx context.Context, userID, email, ip string) {
	l.LogEvent(ctx, EventInput{EventType: EventPasswordChange, UserID: userID, Email: email, IPAddress: ip})
}

// LogSessionExpired 会话过期（low）
func (l *EventLogger) LogSessionExpired(ctx context.Context, userID, email string) {
	l.LogEvent(ctx, EventInput{EventType: EventSessionExpired, UserID: userID, Email: email})
}

// LogPermissionDenied 越权访问（high）
func (l *EventLogger) LogPermissionDenied(ctx context.Context, userID, email, ip string, metadata map[string]interface{}) {
	l.LogEvent(ctx, EventInput{EventType: EventPermissionDenied, UserID: userID, Email: email, IPAddress: ip, Metadata: metadata})
}
