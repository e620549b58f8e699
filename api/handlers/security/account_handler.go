package security

import (
	"net/http"
	"strings"

	response "backend/api/handlers/common"
	securitysvc "backend/internal/security"

	"github.com/gin-gonic/gin"
)

// AccountHandler 账户锁定状态处理器
type AccountHandler struct {
	tracker *securitysvc.LoginAttemptTracker
}

// NewAccountHandler 创建账户处理器
func NewAccountHandler(tracker *securitysvc.LoginAttemptTracker) *AccountHandler {
	return &AccountHandler{tracker: tracker}
}

// TrackAttempt 上报一次登录尝试
// @Summary 上报登录尝试
// @Tags Security
// @Accept json
// @Produce json
// @Param request body TrackAttemptRequest true "尝试结果"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 423 {object} response.APIResponse
// @Router /api/security/login-attempts [post]
func (h *AccountHandler) TrackAttempt(c *gin.Context) {
	var req TrackAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	result, err := h.tracker.TrackLoginAttempt(c.Request.Context(), strings.ToLower(req.Email), req.Success, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "处理失败: " + err.Error()})
		return
	}

	status := http.StatusOK
	if result.Locked {
		status = http.StatusLocked
	}
	c.JSON(status, response.APIResponse{Success: true, Data: result})
}

// GetStatus 查询账户锁定状态
// @Summary 查询账户锁定状态
// @Tags Security
// @Produce json
// @Param email path string true "账户邮箱"
// @Success 200 {object} response.APIResponse
// @Router /api/security/accounts/{email}/status [get]
func (h *AccountHandler) GetStatus(c *gin.Context) {
	email := strings.ToLower(c.Param("email"))

	status, err := h.tracker.GetAccountStatus(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "查询失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: status})
}

// Unlock 管理员手动解锁账户
// @Summary 手动解锁账户
// @Tags Security
// @Produce json
// @Param email path string true "账户邮箱"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/security/accounts/{email}/unlock [post]
func (h *AccountHandler) Unlock(c *gin.Context) {
	email := strings.ToLower(c.Param("email"))

	if err := h.tracker.UnlockAccount(c.Request.Context(), email); err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "账户已解锁"})
}
