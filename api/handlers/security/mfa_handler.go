package security

import (
	"errors"
	"net/http"

	response "backend/api/handlers/common"
	securitysvc "backend/internal/security"

	"github.com/gin-gonic/gin"
)

// MFAHandler 多因素认证处理器
type MFAHandler struct {
	mfa *securitysvc.MFAEngine
}

// NewMFAHandler 创建 MFA 处理器
func NewMFAHandler(mfa *securitysvc.MFAEngine) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

// Setup 初始化 MFA：生成密钥、配置 URI 和备用码（此时尚未激活）
// @Summary 初始化 MFA
// @Tags Security
// @Accept json
// @Produce json
// @Param request body SetupMFARequest true "用户身份"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/security/mfa/setup [post]
func (h *MFAHandler) Setup(c *gin.Context) {
	var req SetupMFARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	result, err := h.mfa.SetupMFA(c.Request.Context(), req.UserID, req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: result})
}

// Activate 校验首个动态口令并正式启用 MFA
// @Summary 激活 MFA
// @Tags Security
// @Accept json
// @Produce json
// @Param request body VerifyCodeRequest true "动态口令"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /api/security/mfa/activate [post]
func (h *MFAHandler) Activate(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if err := h.mfa.VerifyAndActivateMFA(c.Request.Context(), req.UserID, req.Email, req.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "MFA 已激活"})
}

// Verify 校验动态口令
// @Summary 校验动态口令
// @Tags Security
// @Accept json
// @Produce json
// @Param request body VerifyCodeRequest true "动态口令"
// @Success 200 {object} response.APIResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /api/security/mfa/verify [post]
func (h *MFAHandler) Verify(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if err := h.mfa.VerifyMFACode(c.Request.Context(), req.UserID, req.Email, req.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "校验通过"})
}

// VerifyBackup 消费一个备用恢复码
// @Summary 校验备用恢复码
// @Tags Security
// @Accept json
// @Produce json
// @Param request body VerifyCodeRequest true "备用码"
// @Success 200 {object} response.APIResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /api/security/mfa/verify-backup [post]
func (h *MFAHandler) VerifyBackup(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if err := h.mfa.VerifyBackupCode(c.Request.Context(), req.UserID, req.Email, req.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "备用码校验通过"})
}

// Disable 关闭 MFA 并清除密钥与备用码
// @Summary 关闭 MFA
// @Tags Security
// @Accept json
// @Produce json
// @Param request body MFAUserRequest true "用户身份"
// @Success 200 {object} response.APIResponse
// @Router /api/security/mfa/disable [post]
func (h *MFAHandler) Disable(c *gin.Context) {
	var req MFAUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if err := h.mfa.DisableMFA(c.Request.Context(), req.UserID, req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "MFA 已关闭"})
}

// RegenerateBackupCodes 重新生成备用码（旧码全部作废）
// @Summary 重新生成备用码
// @Tags Security
// @Accept json
// @Produce json
// @Param request body MFAUserRequest true "用户身份"
// @Success 200 {object} response.APIResponse
// @Router /api/security/mfa/backup-codes/regenerate [post]
func (h *MFAHandler) RegenerateBackupCodes(c *gin.Context) {
	var req MFAUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	codes, err := h.mfa.RegenerateBackupCodes(c.Request.Context(), req.UserID, req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{"backup_codes": codes}})
}

// writeError 将领域错误映射为 HTTP 状态码
func (h *MFAHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, securitysvc.ErrInvalidCode):
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Code: err.Error(), Message: "校验码错误"})
	case errors.Is(err, securitysvc.ErrMFANotSetup),
		errors.Is(err, securitysvc.ErrMFANotEnabled),
		errors.Is(err, securitysvc.ErrMFAAlreadyEnabled):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Code: err.Error(), Message: "MFA 状态不允许该操作"})
	default:
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: "处理失败: " + err.Error()})
	}
}
