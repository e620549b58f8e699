package api

import (
	"context"

	securityHandlers "backend/api/handlers/security"
	"backend/internal/config"
	"backend/internal/infra"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/notification"
	securitysvc "backend/internal/security"
	"backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 服务依赖容器
type AppContainer struct {
	DB          *gorm.DB
	Redis       redis.UniversalClient
	QueueClient queue.Client
	Hub         *notification.Hub

	Events     *securitysvc.EventLogger
	Tracker    *securitysvc.LoginAttemptTracker
	MFA        *securitysvc.MFAEngine
	Alerting   *securitysvc.AlertingService
	Dispatcher *securitysvc.Dispatcher
	Monitor    *securitysvc.SecurityMonitor
	Reports    *securitysvc.ReportGenerator
}

// Handlers 路由处理器集合
type Handlers struct {
	Events  *securityHandlers.EventsHandler
	Account *securityHandlers.AccountHandler
	MFA     *securityHandlers.MFAHandler
	Alerts  *securityHandlers.AlertsHandler
	Monitor *securityHandlers.MonitorHandler
	Reports *securityHandlers.ReportsHandler
	WS      *securityHandlers.WSHandler
}

// SetupRouter 装配服务依赖，返回 Gin 路由与 Worker 服务器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server) {
	router := gin.New()
	log := logger.Get()

	// 统一归一化 Redis 配置，优先使用 cfg.Redis，再回退到环境变量
	redisCfg := normalizeRedisConfig(cfg.Redis)
	cfg.Redis = redisCfg

	// Redis 不可用时告警冷却放行、队列任务丢失，但核心安全链路照常工作
	rdb, err := infra.InitRedis(&redisCfg)
	if err != nil {
		logger.Warn("Redis 不可用，告警冷却抑制将被跳过", zap.Error(err))
		rdb = nil
	}

	queueClient := queue.NewClient(redisCfg)

	container := buildContainer(db, rdb, queueClient, cfg, log)

	// 默认规则按名称幂等写入
	if err := container.Alerting.SeedDefaultRules(context.Background()); err != nil {
		logger.Error("默认告警规则初始化失败", zap.Error(err))
	}

	handlers := &Handlers{
		Events:  securityHandlers.NewEventsHandler(container.Events),
		Account: securityHandlers.NewAccountHandler(container.Tracker),
		MFA:     securityHandlers.NewMFAHandler(container.MFA),
		Alerts:  securityHandlers.NewAlertsHandler(container.Alerting),
		Monitor: securityHandlers.NewMonitorHandler(container.Monitor),
		Reports: securityHandlers.NewReportsHandler(container.Reports, queueClient),
		WS:      securityHandlers.NewWSHandler(container.Hub, log),
	}

	router.Use(gin.Recovery(), RequestID(), RequestLogger(), Metrics(), CORS())

	router.GET("/health", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, container, handlers)

	workerSrv := worker.NewServer(redisCfg, container.Reports, container.Dispatcher, log)
	return router, workerSrv
}

// buildContainer 构建安全子系统服务图
func buildContainer(db *gorm.DB, rdb redis.UniversalClient, queueClient queue.Client, cfg *config.Config, log *zap.Logger) *AppContainer {
	hub := notification.NewHub(log)

	registry := notification.NewRegistry()
	registry.Register(notification.NewPushChannel(hub))
	if cfg.Notify.Email.Enabled {
		registry.Register(notification.NewEmailChannel(cfg.Notify.Email))
	}
	if cfg.Notify.Webhook.Enabled {
		registry.Register(notification.NewWebhookChannel(cfg.Notify.Webhook))
	}
	if cfg.Notify.SMS.Enabled {
		registry.Register(notification.NewSMSChannel(cfg.Notify.SMS))
	}
	if cfg.Notify.Chat.Enabled {
		registry.Register(notification.NewChatChannel(cfg.Notify.Chat))
	}

	dispatcher := securitysvc.NewDispatcher(db, registry, log, cfg.Security.Alerting.RetryMaxAttempts)
	alerting := securitysvc.NewAlertingService(db, rdb, log, dispatcher, cfg.Security.Alerting)

	// 事件日志器与规则引擎互相依赖，先建后绑
	events := securitysvc.NewEventLogger(db, log, nil)
	events.SetProcessor(alerting)

	tracker := securitysvc.NewLoginAttemptTracker(db, log, events, cfg.Security.Lockout)
	mfa := securitysvc.NewMFAEngine(db, log, events, cfg.Security.MFA)

	checker := securitysvc.NewHealthChecker(db, log, cfg.Security.Monitor)
	monitor := securitysvc.Configure(db, log, events, alerting, checker, cfg.Security.Monitor)
	reports := securitysvc.NewReportGenerator(db, log)

	return &AppContainer{
		DB:          db,
		Redis:       rdb,
		QueueClient: queueClient,
		Hub:         hub,
		Events:      events,
		Tracker:     tracker,
		MFA:         mfa,
		Alerting:    alerting,
		Dispatcher:  dispatcher,
		Monitor:     monitor,
		Reports:     reports,
	}
}
