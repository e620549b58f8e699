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

// SMSChannel 短信网关渠道。recipient 为手机号，
// 通过统一 HTTP 网关投递（短信正文取告警标题，避免超长）。
type SMSChannel struct {
	client   *http.Client
	gateway  string
	apiKey   string
	signName string
}

// NewSMSChannel 创建短信渠道
func NewSMSChannel(cfg config.SMSConfig) *SMSChannel {
	return &SMSChannel{
		client:   &http.Client{Timeout: 15 * time.Second},
		gateway:  cfg.GatewayURL,
		apiKey:   cfg.APIKey,
		signName: cfg.SignName,
	}
}

func (c *SMSChannel) Type() string { return ChannelSMS }

// Send 调用短信网关下发告警
func (c *SMSChannel) Send(ctx context.Context, recipient string, msg *Message) error {
	if recipient == "" {
		return fmt.Errorf("手机号不能为空")
	}
	if c.gateway == "" {
		return fmt.Errorf("短信网关未配置")
	}

	payload := map[string]any{
		"phone":     recipient,
		"sign_name": c.signName,
		"content":   fmt.Sprintf("【%s】%s", msg.Severity, msg.Title),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化短信请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gateway, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("短信网关请求失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("短信网关响应异常: %d", resp.StatusCode)
	}
	return nil
}
