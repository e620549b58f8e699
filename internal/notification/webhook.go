package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"backend/internal/config"
)

// WebhookChannel HTTP 回调渠道。recipient 为目标 URL，
// 配置了密钥时对请求体做 HMAC-SHA256 签名。
type WebhookChannel struct {
	client *http.Client
	secret string
}

// NewWebhookChannel 创建 Webhook 渠道
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		client: &http.Client{Timeout: timeout},
		secret: cfg.Secret,
	}
}

func (c *WebhookChannel) Type() string { return ChannelWebhook }

// Send 向目标 URL POST 告警载荷
func (c *WebhookChannel) Send(ctx context.Context, recipient string, msg *Message) error {
	if recipient == "" {
		return fmt.Errorf("webhook 目标地址不能为空")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化告警载荷失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "WordWise-SecurityAlert/1.0")
	req.Header.Set("X-Alert-ID", msg.AlertID)
	req.Header.Set("X-Alert-Severity", msg.Severity)
	req.Header.Set("X-Alert-Timestamp", msg.Timestamp.Format(time.RFC3339))
	if c.secret != "" {
		req.Header.Set("X-Alert-Signature", c.sign(body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook 请求失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 10*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 响应异常: %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(c.secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
