// Package metrics 安全监控相关的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SecurityEventsTotal 安全事件计数（按类型与级别）
	SecurityEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wordwise_security_events_total",
		Help: "Total number of security events recorded, by event type and severity.",
	}, []string{"event_type", "severity"})

	// LoginLockoutsTotal 账户锁定触发次数
	LoginLockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordwise_security_login_lockouts_total",
		Help: "Total number of account lockouts triggered by failed login attempts.",
	})

	// AlertsFiredTotal 告警触发计数（按规则与级别）
	AlertsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wordwise_security_alerts_fired_total",
		Help: "Total number of alerts fired, by rule name and severity.",
	}, []string{"rule", "severity"})

	// NotificationsTotal 告警通知发送计数（按渠道与结果）
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wordwise_security_notifications_total",
		Help: "Total number of alert notifications dispatched, by channel and status.",
	}, []string{"channel", "status"})

	// HealthCheckDuration 单次监控周期耗时
	HealthCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordwise_security_health_check_duration_seconds",
		Help:    "Duration of monitoring cycles in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// SystemHealthGauge 系统整体健康度（3=healthy 2=degraded 1=unhealthy）
	SystemHealthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wordwise_security_system_health",
		Help: "Overall system health score (3=healthy, 2=degraded, 1=unhealthy).",
	})

	// WebSocketConnectionsGauge 当前在线的推送连接数
	WebSocketConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wordwise_security_websocket_connections",
		Help: "Number of active WebSocket push connections.",
	})

	// HTTPRequestsTotal HTTP 请求计数（按方法、路径、状态码）
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wordwise_http_requests_total",
		Help: "Total number of HTTP requests, by method, path and status code.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wordwise_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
