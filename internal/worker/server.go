package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"backend/internal/config"
	"backend/internal/security"
	"backend/internal/worker/handlers"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

func NewServer(
	cfg config.RedisConfig,
	reports *security.ReportGenerator,
	dispatcher *security.Dispatcher,
	logger *zap.Logger,
) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"security": 6, // 安全任务优先级高
				"default":  1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	reportHandler := handlers.NewReportHandler(reports, logger)
	mux.HandleFunc(tasks.TypeGenerateReport, reportHandler.HandleGenerateReport)

	notifyHandler := handlers.NewNotifyHandler(dispatcher, logger)
	mux.HandleFunc(tasks.TypeRetryNotifications, notifyHandler.HandleRetryNotifications)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	return &Server{
		server:    srv,
		scheduler: scheduler,
		mux:       mux,
		logger:    logger,
	}
}

// registerPeriodicTasks 注册周期任务：每日/每周报告与失败通知重试
func (s *Server) registerPeriodicTasks() error {
	daily, err := json.Marshal(tasks.GenerateReportPayload{Period: security.ReportPeriodDaily})
	if err != nil {
		return err
	}
	weekly, err := json.Marshal(tasks.GenerateReportPayload{Period: security.ReportPeriodWeekly})
	if err != nil {
		return err
	}

	entries := []struct {
		spec string
		task *asynq.Task
	}{
		{"0 1 * * *", asynq.NewTask(tasks.TypeGenerateReport, daily, asynq.Queue("security"))},
		{"0 2 * * 1", asynq.NewTask(tasks.TypeGenerateReport, weekly, asynq.Queue("security"))},
		{"*/10 * * * *", asynq.NewTask(tasks.TypeRetryNotifications, nil, asynq.Queue("security"))},
	}
	for _, e := range entries {
		if _, err := s.scheduler.Register(e.spec, e.task); err != nil {
			return fmt.Errorf("注册周期任务失败: %w", err)
		}
	}
	return nil
}

// Start 非阻塞启动 worker 与调度器
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	if err := s.registerPeriodicTasks(); err != nil {
		return err
	}
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	return s.scheduler.Start()
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
