package security

import (
	"errors"
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	"backend/internal/infra/queue"
	securitysvc "backend/internal/security"

	"github.com/gin-gonic/gin"
)

// ReportsHandler 安全报告处理器
type ReportsHandler struct {
	reports *securitysvc.ReportGenerator
	queue   queue.Client
}

// NewReportsHandler 创建报告处理器
func NewReportsHandler(reports *securitysvc.ReportGenerator, queueClient queue.Client) *ReportsHandler {
	return &ReportsHandler{reports: reports, queue: queueClient}
}

// Generate 异步生成一份安全报告
// @Summary 生成安全报告
// @Tags Security
// @Accept json
// @Produce json
// @Param request body GenerateReportRequest true "报告周期"
// @Success 202 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/security/reports [post]
func (h *ReportsHandler) Generate(c *gin.Context) {
	var req GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if err := h.queue.EnqueueGenerateReport(req.Period); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "任务投递失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{Success: true, Message: "报告生成任务已提交"})
}

// List 列出最近的报告
// @Summary 查询报告列表
// @Tags Security
// @Produce json
// @Param period query string false "报告周期 daily/weekly"
// @Param limit query int false "返回上限，默认 20"
// @Success 200 {object} response.APIResponse
// @Router /api/security/reports [get]
func (h *ReportsHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	reports, err := h.reports.ListReports(c.Request.Context(), c.Query("period"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: reports})
}

// Get 查询单份报告
// @Summary 查询报告详情
// @Tags Security
// @Produce json
// @Param id path string true "报告 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/security/reports/{id} [get]
func (h *ReportsHandler) Get(c *gin.Context) {
	report, err := h.reports.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, securitysvc.ErrReportNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: "报告不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: report})
}
