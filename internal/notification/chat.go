package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"backend/internal/config"
)

// ChatChannel 群聊机器人渠道。recipient 为机器人 webhook 地址，
// 消息以 markdown 卡片形式发送（钉钉/企微兼容格式）。
type ChatChannel struct {
	client *http.Client
}

// NewChatChannel 创建群聊渠道
func NewChatChannel(cfg config.ChatConfig) *ChatChannel {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatChannel{client: &http.Client{Timeout: timeout}}
}

func (c *ChatChannel) Type() string { return ChannelChat }

// Send 向机器人地址推送告警卡片
func (c *ChatChannel) Send(ctx context.Context, recipient string, msg *Message) error {
	if recipient == "" {
		return fmt.Errorf("群聊机器人地址不能为空")
	}

	card := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": fmt.Sprintf("【%s】%s", msg.Severity, msg.Title),
			"text": fmt.Sprintf("### %s\n\n- 级别: %s\n- 时间: %s\n\n%s",
				msg.Title, msg.Severity, msg.Timestamp.Format(time.RFC3339), msg.Body),
		},
	}
	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("序列化卡片失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("群聊推送失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 10*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("群聊推送响应异常: %d", resp.StatusCode)
	}
	return nil
}
