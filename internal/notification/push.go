package notification

import (
	"context"
)

// PushChannel WebSocket 实时推送渠道。recipient 为用户 ID，
// 为空时向全部在线连接广播。
type PushChannel struct {
	hub *Hub
}

// NewPushChannel 创建推送渠道
func NewPushChannel(hub *Hub) *PushChannel {
	return &PushChannel{hub: hub}
}

func (c *PushChannel) Type() string { return ChannelPush }

// Send 推送告警消息
func (c *PushChannel) Send(ctx context.Context, recipient string, msg *Message) error {
	if recipient == "" {
		return c.hub.Broadcast(msg)
	}
	return c.hub.SendToUser(recipient, msg)
}
