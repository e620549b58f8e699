package security

import (
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	securitysvc "backend/internal/security"

	"github.com/gin-gonic/gin"
)

// EventsHandler 安全事件处理器
type EventsHandler struct {
	events *securitysvc.EventLogger
}

// NewEventsHandler 创建安全事件处理器
func NewEventsHandler(events *securitysvc.EventLogger) *EventsHandler {
	return &EventsHandler{events: events}
}

// LogEvent 手工记录安全事件
// @Summary 记录安全事件
// @Tags Security
// @Accept json
// @Produce json
// @Param request body LogEventRequest true "事件内容"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/security/events [post]
func (h *EventsHandler) LogEvent(c *gin.Context) {
	var req LogEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	severity := securitysvc.Severity(req.Severity)
	if req.Severity != "" && !securitysvc.ValidSeverity(severity) {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "无效的严重级别: " + req.Severity})
		return
	}

	h.events.LogEvent(c.Request.Context(), securitysvc.EventInput{
		EventType: securitysvc.EventType(req.EventType),
		UserID:    req.UserID,
		Email:     req.Email,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Metadata:  req.Metadata,
		Severity:  severity,
	})

	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "事件已记录"})
}

// GetUserEvents 查询用户安全事件
// @Summary 查询指定用户的安全事件
// @Tags Security
// @Produce json
// @Param user_id path string true "用户 ID"
// @Param days query int false "查询天数，默认 7"
// @Success 200 {object} response.APIResponse
// @Router /api/security/events/user/{user_id} [get]
func (h *EventsHandler) GetUserEvents(c *gin.Context) {
	userID := c.Param("user_id")
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))

	events := h.events.GetUserSecurityEvents(c.Request.Context(), userID, days)
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: events})
}

// GetSystemEvents 查询全系统安全事件
// @Summary 查询全系统安全事件
// @Tags Security
// @Produce json
// @Param days query int false "查询天数，默认 7"
// @Success 200 {object} response.APIResponse
// @Router /api/security/events [get]
func (h *EventsHandler) GetSystemEvents(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))

	events := h.events.GetSystemSecurityEvents(c.Request.Context(), days)
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: events})
}
