package tasks

// Task Types
const (
	TypeGenerateReport     = "security:generate_report"
	TypeRetryNotifications = "security:retry_notifications"
)

// GenerateReportPayload 安全报告生成任务载荷
type GenerateReportPayload struct {
	Period string `json:"period"` // daily, weekly
}

// RetryNotificationsPayload 失败通知重试任务载荷（当前无参数，保留扩展位）
type RetryNotificationsPayload struct{}
