package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, handlers *Handlers) {
	api := router.Group("/api")
	registerSecurityRoutes(api, handlers)

	// 版本化 API 组
	apiV1 := router.Group("/api/v1")
	registerSecurityRoutes(apiV1, handlers)
}

// registerSecurityRoutes 安全子系统路由
func registerSecurityRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	sec := apiGroup.Group("/security")
	{
		// 安全事件
		sec.POST("/events", h.Events.LogEvent)
		sec.GET("/events", h.Events.GetSystemEvents)
		sec.GET("/events/user/:user_id", h.Events.GetUserEvents)

		// 登录尝试与锁定
		sec.POST("/login-attempts", h.Account.TrackAttempt)
		sec.GET("/accounts/:email/status", h.Account.GetStatus)
		sec.POST("/accounts/:email/unlock", h.Account.Unlock)

		// MFA
		sec.POST("/mfa/setup", h.MFA.Setup)
		sec.POST("/mfa/activate", h.MFA.Activate)
		sec.POST("/mfa/verify", h.MFA.Verify)
		sec.POST("/mfa/verify-backup", h.MFA.VerifyBackup)
		sec.POST("/mfa/disable", h.MFA.Disable)
		sec.POST("/mfa/backup-codes/regenerate", h.MFA.RegenerateBackupCodes)

		// 告警规则
		sec.GET("/alert-rules", h.Alerts.ListRules)
		sec.POST("/alert-rules", h.Alerts.CreateRule)
		sec.PUT("/alert-rules/:id", h.Alerts.UpdateRule)
		sec.DELETE("/alert-rules/:id", h.Alerts.DeleteRule)

		// 告警
		sec.GET("/alerts", h.Alerts.ListAlerts)
		sec.GET("/alerts/stats", h.Alerts.Stats)
		sec.POST("/alerts/:id/acknowledge", h.Alerts.Acknowledge)
		sec.POST("/alerts/:id/resolve", h.Alerts.Resolve)

		// 监控
		sec.POST("/monitor/start", h.Monitor.Start)
		sec.POST("/monitor/stop", h.Monitor.Stop)
		sec.PUT("/monitor/interval", h.Monitor.UpdateInterval)
		sec.GET("/monitor/status", h.Monitor.Status)
		sec.GET("/monitor/health", h.Monitor.Health)
		sec.GET("/monitor/metrics", h.Monitor.Metrics)
		sec.GET("/monitor/performance", h.Monitor.Performance)
		sec.GET("/monitor/history", h.Monitor.History)

		// 报告
		sec.POST("/reports", h.Reports.Generate)
		sec.GET("/reports", h.Reports.List)
		sec.GET("/reports/:id", h.Reports.Get)

		// 实时推送
		sec.GET("/ws/alerts", h.WS.Connect)
	}
}
