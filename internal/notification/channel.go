// Package notification 告警通知渠道：邮件、Webhook、短信与 WebSocket 实时推送
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// 渠道类型
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelSMS     = "sms"
	ChannelPush    = "push"
	ChannelChat    = "chat"
)

// Message 待投递的告警消息
type Message struct {
	AlertID   string         `json:"alertId"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Severity  string         `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Channel 通知渠道。recipient 的含义随渠道不同：
// 邮件为收件地址，webhook 为目标 URL，短信为手机号，push 为用户 ID（空值广播）。
type Channel interface {
	Type() string
	Send(ctx context.Context, recipient string, msg *Message) error
}

// Registry 渠道注册表
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register 注册渠道（同类型覆盖）
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Type()] = ch
}

// Get 按类型取渠道
func (r *Registry) Get(channelType string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelType]
	if !ok {
		return nil, fmt.Errorf("通知渠道未注册: %s", channelType)
	}
	return ch, nil
}

// Types 列出已注册的渠道类型
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.channels))
	for t := range r.channels {
		types = append(types, t)
	}
	return types
}
