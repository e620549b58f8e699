package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"

	"backend/internal/config"
)

// EmailChannel SMTP 邮件渠道
type EmailChannel struct {
	cfg config.EmailConfig
}

// NewEmailChannel 创建邮件渠道
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

func (c *EmailChannel) Type() string { return ChannelEmail }

// Send 发送告警邮件。recipient 为收件地址。
func (c *EmailChannel) Send(ctx context.Context, recipient string, msg *Message) error {
	if recipient == "" {
		return fmt.Errorf("收件地址不能为空")
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", c.cfg.FromName, c.cfg.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", recipient))
	buf.WriteString(fmt.Sprintf("Subject: [%s] %s\r\n", msg.Severity, msg.Title))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	buf.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	if c.cfg.UseTLS {
		return c.sendWithTLS(addr, recipient, buf.Bytes())
	}
	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	return smtp.SendMail(addr, auth, c.cfg.From, []string{recipient}, buf.Bytes())
}

// sendWithTLS 使用 TLS 直连发送
func (c *EmailChannel) sendWithTLS(addr, to string, msg []byte) error {
	tlsConfig := &tls.Config{ServerName: c.cfg.SMTPHost}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS连接失败: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, c.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP认证失败: %w", err)
	}
	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("设置收件人失败: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("关闭数据写入器失败: %w", err)
	}
	return client.Quit()
}
