package notification

import (
	"encoding/json"
	"sync"
	"time"

	"backend/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub 管理告警推送的 WebSocket 连接。
//
// 按用户维度维护连接集合；用户离线期间的消息进入内存缓冲，
// 重新连接时按序重放。
type Hub struct {
	mu                sync.RWMutex
	clients           map[string]map[*websocket.Conn]*clientConn
	offline           map[string][][]byte
	offlineLimit      int
	keepAliveInterval time.Duration
	logger            *zap.Logger
}

// HubOption 配置 hub
type HubOption func(*Hub)

// WithOfflineLimit 设置每用户离线消息缓冲上限
func WithOfflineLimit(limit int) HubOption {
	return func(h *Hub) { h.offlineLimit = limit }
}

// WithKeepAliveInterval 设置心跳间隔
func WithKeepAliveInterval(interval time.Duration) HubOption {
	return func(h *Hub) { h.keepAliveInterval = interval }
}

// NewHub 创建推送 hub
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	hub := &Hub{
		clients:           make(map[string]map[*websocket.Conn]*clientConn),
		offline:           make(map[string][][]byte),
		offlineLimit:      50,
		keepAliveInterval: 30 * time.Second,
		logger:            logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(hub)
		}
	}
	return hub
}

// Register 注册用户连接，并重放离线期间积压的消息
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	client := &clientConn{conn: conn}

	h.mu.Lock()
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[*websocket.Conn]*clientConn)
	}
	h.clients[userID][conn] = client
	pending := h.offline[userID]
	delete(h.offline, userID)
	h.mu.Unlock()

	metrics.WebSocketConnectionsGauge.Inc()

	for _, msg := range pending {
		client.mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("离线消息重放失败", zap.String("user_id", userID), zap.Error(err))
			client.mu.Unlock()
			break
		}
		client.mu.Unlock()
	}

	h.startKeepAlive(userID, client)
}

// Unregister 移除连接
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[userID]; ok {
		if _, ok := conns[conn]; ok {
			delete(conns, conn)
			metrics.WebSocketConnectionsGauge.Dec()
		}
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
}

// SendToUser 将消息推送给指定用户的所有连接，用户离线时写入缓冲
func (h *Hub) SendToUser(userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// 持锁快照连接列表，释放后再写：Register 可能并发修改内层 map
	h.mu.RLock()
	targets := make([]*clientConn, 0, len(h.clients[userID]))
	for _, client := range h.clients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		h.storeOffline(userID, data)
		return nil
	}

	var firstErr error
	for _, client := range targets {
		if err := h.write(client, data); err != nil {
			h.Unregister(userID, client.conn)
			_ = client.conn.Close()
			h.storeOffline(userID, data)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Broadcast 向所有在线连接推送（系统级告警）
func (h *Hub) Broadcast(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make(map[string][]*clientConn)
	for userID, conns := range h.clients {
		for _, client := range conns {
			targets[userID] = append(targets[userID], client)
		}
	}
	h.mu.RUnlock()

	var firstErr error
	for userID, clients := range targets {
		for _, client := range clients {
			if err := h.write(client, data); err != nil {
				h.Unregister(userID, client.conn)
				_ = client.conn.Close()
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// ConnectedCount 指定用户的在线连接数
func (h *Hub) ConnectedCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) write(client *clientConn, data []byte) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return client.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) storeOffline(userID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := append(h.offline[userID], data)
	if len(buf) > h.offlineLimit {
		buf = buf[len(buf)-h.offlineLimit:]
	}
	h.offline[userID] = buf
}

func (h *Hub) startKeepAlive(userID string, client *clientConn) {
	if h.keepAliveInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(h.keepAliveInterval)
		defer ticker.Stop()
		for range ticker.C {
			client.mu.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			client.mu.Unlock()
			if err != nil {
				h.Unregister(userID, client.conn)
				_ = client.conn.Close()
				return
			}
		}
	}()
}
