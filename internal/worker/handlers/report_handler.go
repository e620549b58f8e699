package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"backend/internal/security"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type ReportHandler struct {
	reports *security.ReportGenerator
	logger  *zap.Logger
}

func NewReportHandler(reports *security.ReportGenerator, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  logger,
	}
}

func (h *ReportHandler) HandleGenerateReport(ctx context.Context, t *asynq.Task) error {
	var p tasks.GenerateReportPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始生成安全报告", zap.String("period", p.Period))

	report, err := h.reports.GenerateReport(ctx, p.Period)
	if err != nil {
		h.logger.Error("安全报告生成失败", zap.String("period", p.Period), zap.Error(err))
		return err
	}

	h.logger.Info("安全报告生成完成",
		zap.String("report_id", report.ID),
		zap.String("period", p.Period),
	)
	return nil
}
