package security

import (
	"net/http"

	response "backend/api/handlers/common"
	securitysvc "backend/internal/security"

	"github.com/gin-gonic/gin"
)

// MonitorHandler 安全监控处理器
type MonitorHandler struct {
	monitor *securitysvc.SecurityMonitor
}

// NewMonitorHandler 创建监控处理器
func NewMonitorHandler(monitor *securitysvc.SecurityMonitor) *MonitorHandler {
	return &MonitorHandler{monitor: monitor}
}

// Start 启动监控循环
// @Summary 启动安全监控
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/security/monitor/start [post]
func (h *MonitorHandler) Start(c *gin.Context) {
	if err := h.monitor.StartMonitoring(); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "监控已启动"})
}

// Stop 停止监控循环
// @Summary 停止安全监控
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/security/monitor/stop [post]
func (h *MonitorHandler) Stop(c *gin.Context) {
	h.monitor.StopMonitoring()
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "监控已停止"})
}

// UpdateInterval 调整监控周期
// @Summary 调整监控周期
// @Tags Security
// @Accept json
// @Produce json
// @Param request body UpdateIntervalRequest true "周期（毫秒）"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/security/monitor/interval [put]
func (h *MonitorHandler) UpdateInterval(c *gin.Context) {
	var req UpdateIntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if err := h.monitor.UpdateCheckInterval(req.IntervalMs); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "监控周期已更新"})
}

// Status 监控器运行状态
// @Summary 查询监控状态
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/security/monitor/status [get]
func (h *MonitorHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: h.monitor.GetMonitoringStatus()})
}

// Health 立即执行一次完整健康检查
// @Summary 系统健康检查
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/security/monitor/health [get]
func (h *MonitorHandler) Health(c *gin.Context) {
	report := h.monitor.CheckSystemHealth(c.Request.Context())
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: report})
}

// Metrics 最近 24 小时安全概览
// @Summary 查询安全概览指标
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/security/monitor/metrics [get]
func (h *MonitorHandler) Metrics(c *gin.Context) {
	metrics, err := h.monitor.GetSecurityMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: metrics})
}

// Performance 立即采样一次性能数据并计入历史
// @Summary 按需采样性能指标
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/security/monitor/performance [get]
func (h *MonitorHandler) Performance(c *gin.Context) {
	snapshot := h.monitor.GetPerformanceMetrics(c.Request.Context())
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: snapshot})
}

// History 性能快照历史
// @Summary 查询性能快照历史
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/security/monitor/history [get]
func (h *MonitorHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: h.monitor.GetPerformanceHistory()})
}
