package security

import (
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/notification"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 告警推送走内部面板，跨域校验交给网关
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler 告警实时推送连接处理器
type WSHandler struct {
	hub    *notification.Hub
	logger *zap.Logger
}

// NewWSHandler 创建推送连接处理器
func NewWSHandler(hub *notification.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

// Connect 建立告警推送 WebSocket 连接
// @Summary 订阅告警实时推送
// @Tags Security
// @Param user_id query string true "用户 ID"
// @Router /api/security/ws/alerts [get]
func (h *WSHandler) Connect(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "缺少 user_id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	h.hub.Register(userID, conn)

	// 读循环只为感知断开，推送方向不接收业务消息
	go func() {
		defer func() {
			h.hub.Unregister(userID, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
