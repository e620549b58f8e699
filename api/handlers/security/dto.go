package security

// TrackAttemptRequest 登录尝试上报请求
type TrackAttemptRequest struct {
	Email   string `json:"email" binding:"required,email"`
	Success bool   `json:"success"`
}

// LogEventRequest 手工记录安全事件请求
type LogEventRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	UserID    string         `json:"user_id"`
	Email     string         `json:"email"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata"`
}

// VerifyCodeRequest 动态口令校验请求
type VerifyCodeRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
	Code   string `json:"code" binding:"required"`
}

// SetupMFARequest 初始化 MFA 请求
type SetupMFARequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email" binding:"required,email"`
}

// MFAUserRequest 携带用户身份的 MFA 操作请求
type MFAUserRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
}

// CreateRuleRequest 创建告警规则请求
type CreateRuleRequest struct {
	Name              string              `json:"name" binding:"required"`
	Description       string              `json:"description"`
	EventType         string              `json:"event_type" binding:"required"`
	Condition         string              `json:"condition" binding:"required"`
	Threshold         *int                `json:"threshold"`
	TimeWindowMinutes int                 `json:"time_window_minutes"`
	Severity          string              `json:"severity" binding:"required"`
	Enabled           bool                `json:"enabled"`
	PatternExpr       string              `json:"pattern_expr"`
	Actions           []RuleActionRequest `json:"actions"`
}

// RuleActionRequest 规则动作
type RuleActionRequest struct {
	Type      string `json:"type" binding:"required"`
	Enabled   bool   `json:"enabled"`
	Recipient string `json:"recipient"`
}

// AcknowledgeAlertRequest 确认告警请求
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" binding:"required"`
}

// UpdateIntervalRequest 调整监控周期请求
type UpdateIntervalRequest struct {
	IntervalMs int64 `json:"interval_ms" binding:"required"`
}

// GenerateReportRequest 按需生成报告请求
type GenerateReportRequest struct {
	Period string `json:"period" binding:"required,oneof=daily weekly"`
}
