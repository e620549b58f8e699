package security

// EventType 安全事件类型
type EventType string

// 认证相关事件
const (
	EventLoginSuccess     EventType = "login_success"     // 登录成功
	EventLoginFailure     EventType = "login_failure"     // 登录失败
	EventAccountLocked    EventType = "account_locked"    // 账户被锁定
	EventAccountUnlocked  EventType = "account_unlocked"  // 管理员解锁账户
	EventPasswordChange   EventType = "password_change"   // 修改密码
	EventSessionExpired   EventType = "session_expired"   // 会话过期
	EventPermissionDenied EventType = "permission_denied" // 越权访问被拒绝
)

// 威胁类事件
const (
	EventSuspiciousActivity EventType = "suspicious_activity" // 可疑活动
	EventBruteForceAttempt  EventType = "brute_force_attempt" // 暴力破解尝试
)

// MFA 相关事件
const (
	EventMFAEnabled           EventType = "mfa_enabled"            // MFA 激活
	EventMFADisabled          EventType = "mfa_disabled"           // MFA 关闭
	EventMFASuccess           EventType = "mfa_success"            // 动态口令校验成功
	EventMFAFailure           EventType = "mfa_failure"            // 动态口令校验失败
	EventMFABackupUsed        EventType = "mfa_backup_used"        // 备用码被消费
	EventMFABackupRegenerated EventType = "mfa_backup_regenerated" // 备用码重新生成
)

// 监控类事件
const (
	EventHealthCheckFailed    EventType = "health_check_failed"    // 监控周期内部失败
	EventSystemHealthDegraded EventType = "system_health_degraded" // 系统健康度下降
)

// Severity 事件严重级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// criticalEventTypes 无论事件自身级别如何，都要同步触发告警通道的事件类型
var criticalEventTypes = map[EventType]bool{
	EventBruteForceAttempt:  true,
	EventAccountLocked:      true,
	EventSuspiciousActivity: true,
}

// defaultSeverities 各事件类型的固定默认级别
var defaultSeverities = map[EventType]Severity{
	EventLoginSuccess:         SeverityLow,
	EventLoginFailure:         SeverityHigh,
	EventAccountLocked:        SeverityCritical,
	EventAccountUnlocked:      SeverityMedium,
	EventSuspiciousActivity:   SeverityCritical,
	EventBruteForceAttempt:    SeverityCritical,
	EventPasswordChange:       SeverityMedium,
	EventSessionExpired:       SeverityLow,
	EventPermissionDenied:     SeverityHigh,
	EventMFAEnabled:           SeverityLow,
	EventMFADisabled:          SeverityMedium,
	EventMFASuccess:           SeverityLow,
	EventMFAFailure:           SeverityHigh,
	EventMFABackupUsed:        SeverityMedium,
	EventMFABackupRegenerated: SeverityMedium,
	EventHealthCheckFailed:    SeverityHigh,
	EventSystemHealthDegraded: SeverityHigh,
}

// DefaultSeverity 返回事件类型对应的默认级别，未知类型按 medium 处理
func DefaultSeverity(eventType EventType) Severity {
	if s, ok := defaultSeverities[eventType]; ok {
		return s
	}
	return SeverityMedium
}

// IsCriticalEvent 判断事件是否需要走紧急告警路径
func IsCriticalEvent(eventType EventType, severity Severity) bool {
	return criticalEventTypes[eventType] || severity == SeverityCritical
}

// ValidSeverity 校验严重级别取值
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
