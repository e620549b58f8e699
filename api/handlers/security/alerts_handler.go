package security

import (
	"errors"
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	"backend/internal/models"
	securitysvc "backend/internal/security"

	"github.com/gin-gonic/gin"
)

// AlertsHandler 告警与规则管理处理器
type AlertsHandler struct {
	alerting *securitysvc.AlertingService
}

// NewAlertsHandler 创建告警处理器
func NewAlertsHandler(alerting *securitysvc.AlertingService) *AlertsHandler {
	return &AlertsHandler{alerting: alerting}
}

// ListRules 列出全部告警规则
// @Summary 列出告警规则
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/security/alert-rules [get]
func (h *AlertsHandler) ListRules(c *gin.Context) {
	rules, err := h.alerting.GetAlertRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: rules})
}

// CreateRule 创建告警规则
// @Summary 创建告警规则
// @Tags Security
// @Accept json
// @Produce json
// @Param request body CreateRuleRequest true "规则定义"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/security/alert-rules [post]
func (h *AlertsHandler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	rule := ruleFromRequest(&req)
	if err := h.alerting.CreateAlertRule(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: rule})
}

// UpdateRule 更新告警规则
// @Summary 更新告警规则
// @Tags Security
// @Accept json
// @Produce json
// @Param id path string true "规则 ID"
// @Param request body CreateRuleRequest true "规则定义"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/security/alert-rules/{id} [put]
func (h *AlertsHandler) UpdateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	err := h.alerting.UpdateAlertRule(c.Request.Context(), c.Param("id"), ruleFromRequest(&req))
	if err != nil {
		if errors.Is(err, securitysvc.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: "规则不存在"})
			return
		}
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "规则已更新"})
}

// DeleteRule 删除告警规则
// @Summary 删除告警规则
// @Tags Security
// @Produce json
// @Param id path string true "规则 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/security/alert-rules/{id} [delete]
func (h *AlertsHandler) DeleteRule(c *gin.Context) {
	if err := h.alerting.DeleteAlertRule(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, securitysvc.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: "规则不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "规则已删除"})
}

// ListAlerts 查询告警
// @Summary 查询告警列表
// @Tags Security
// @Produce json
// @Param status query string false "告警状态"
// @Param severity query string false "严重级别"
// @Param limit query int false "返回上限，默认 100"
// @Success 200 {object} response.APIResponse
// @Router /api/security/alerts [get]
func (h *AlertsHandler) ListAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	alerts, err := h.alerting.GetAlerts(c.Request.Context(), securitysvc.AlertFilter{
		Status:   c.Query("status"),
		Severity: c.Query("severity"),
		Limit:    limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: alerts})
}

// Acknowledge 确认告警
// @Summary 确认告警
// @Tags Security
// @Accept json
// @Produce json
// @Param id path string true "告警 ID"
// @Param request body AcknowledgeAlertRequest true "确认人"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/security/alerts/{id}/acknowledge [post]
func (h *AlertsHandler) Acknowledge(c *gin.Context) {
	var req AcknowledgeAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	err := h.alerting.AcknowledgeAlert(c.Request.Context(), c.Param("id"), req.AcknowledgedBy)
	if err != nil {
		h.writeTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "告警已确认"})
}

// Resolve 关闭告警
// @Summary 关闭告警
// @Tags Security
// @Produce json
// @Param id path string true "告警 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/security/alerts/{id}/resolve [post]
func (h *AlertsHandler) Resolve(c *gin.Context) {
	if err := h.alerting.ResolveAlert(c.Request.Context(), c.Param("id")); err != nil {
		h.writeTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "告警已关闭"})
}

// Stats 最近 24 小时告警统计
// @Summary 告警统计
// @Tags Security
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/security/alerts/stats [get]
func (h *AlertsHandler) Stats(c *gin.Context) {
	stats, err := h.alerting.GetAlertStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: stats})
}

func (h *AlertsHandler) writeTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, securitysvc.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: "告警不存在"})
	case errors.Is(err, securitysvc.ErrInvalidTransition):
		c.JSON(http.StatusConflict, response.ErrorResponse{Success: false, Message: "告警状态不允许该操作"})
	default:
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "处理失败: " + err.Error()})
	}
}

func ruleFromRequest(req *CreateRuleRequest) *models.AlertRule {
	actions := make(models.AlertActionList, 0, len(req.Actions))
	for _, a := range req.Actions {
		actions = append(actions, models.AlertAction{
			Type:      a.Type,
			Enabled:   a.Enabled,
			Recipient: a.Recipient,
		})
	}
	return &models.AlertRule{
		Name:              req.Name,
		Description:       req.Description,
		EventType:         req.EventType,
		Condition:         req.Condition,
		Threshold:         req.Threshold,
		TimeWindowMinutes: req.TimeWindowMinutes,
		Severity:          req.Severity,
		Enabled:           req.Enabled,
		PatternExpr:       req.PatternExpr,
		Actions:           actions,
	}
}
