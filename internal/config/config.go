package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// NotifyConfig 告警通知渠道配置
type NotifyConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	SMS     SMSConfig     `mapstructure:"sms"`
	Chat    ChatConfig    `mapstructure:"chat"`
}

// ChatConfig 群聊机器人渠道配置
type ChatConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TimeoutSec int  `mapstructure:"timeout_sec"` // 默认 10
}

// EmailConfig SMTP 邮件渠道配置
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// WebhookConfig Webhook 渠道配置
type WebhookConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Secret     string `mapstructure:"secret"`      // HMAC 签名密钥
	TimeoutSec int    `mapstructure:"timeout_sec"` // 默认 30
}

// SMSConfig 短信网关渠道配置
type SMSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	GatewayURL string `mapstructure:"gateway_url"`
	APIKey     string `mapstructure:"api_key"`
	SignName   string `mapstructure:"sign_name"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	// 单节点模式配置
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// 哨兵模式配置
	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	// 集群模式配置
	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	// 通用配置
	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// SecurityConfig 安全子系统配置
type SecurityConfig struct {
	Lockout  LockoutConfig  `mapstructure:"lockout"`
	MFA      MFAConfig      `mapstructure:"mfa"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Alerting AlertingConfig `mapstructure:"alerting"`
}

// LockoutConfig 登录失败锁定策略
type LockoutConfig struct {
	MaxAttempts       int  `mapstructure:"max_attempts"`        // 默认 5
	LockoutMinutes    int  `mapstructure:"lockout_minutes"`     // 默认 15
	ResetAfterSuccess *bool `mapstructure:"reset_after_success"` // 成功登录后清零失败计数，默认开启
}

// MFAConfig 多因素认证配置
type MFAConfig struct {
	Issuer           string `mapstructure:"issuer"`             // 动态口令签发方名称
	BackupCodeCount  int    `mapstructure:"backup_code_count"`  // 默认 10
	BackupCodeLength int    `mapstructure:"backup_code_length"` // 默认 8
}

// MonitorConfig 安全监控配置
type MonitorConfig struct {
	CheckIntervalMs int `mapstructure:"check_interval_ms"` // 默认 600000（10 分钟）
	MaxHistorySize  int `mapstructure:"max_history_size"`  // 性能快照历史上限，默认 100
	SlowQueryMs     int `mapstructure:"slow_query_ms"`     // 数据库降级阈值，默认 2000
	CheckTimeoutMs  int `mapstructure:"check_timeout_ms"`  // 单项健康检查超时，默认 5000
}

// AlertingConfig 告警配置
type AlertingConfig struct {
	CooldownEnabled  bool `mapstructure:"cooldown_enabled"`   // 是否抑制窗口内的重复告警
	RetryMaxAttempts int  `mapstructure:"retry_max_attempts"` // 失败通知最大重试次数，默认 3
}

var globalConfig *Config

// Load 加载配置文件并解析。env 对应 config/ 下的文件名（dev/prod/test）。
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.Security.ApplyDefaults()

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 构造 PostgreSQL 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ApplyDefaults 填充安全子系统的默认值
func (c *SecurityConfig) ApplyDefaults() {
	if c.Lockout.MaxAttempts <= 0 {
		c.Lockout.MaxAttempts = 5
	}
	if c.Lockout.LockoutMinutes <= 0 {
		c.Lockout.LockoutMinutes = 15
	}
	if c.Lockout.ResetAfterSuccess == nil {
		reset := true
		c.Lockout.ResetAfterSuccess = &reset
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = "WordWise"
	}
	if c.MFA.BackupCodeCount <= 0 {
		c.MFA.BackupCodeCount = 10
	}
	if c.MFA.BackupCodeLength <= 0 {
		c.MFA.BackupCodeLength = 8
	}
	if c.Monitor.CheckIntervalMs <= 0 {
		c.Monitor.CheckIntervalMs = 600000
	}
	if c.Monitor.MaxHistorySize <= 0 {
		c.Monitor.MaxHistorySize = 100
	}
	if c.Monitor.SlowQueryMs <= 0 {
		c.Monitor.SlowQueryMs = 2000
	}
	if c.Monitor.CheckTimeoutMs <= 0 {
		c.Monitor.CheckTimeoutMs = 5000
	}
	if c.Alerting.RetryMaxAttempts <= 0 {
		c.Alerting.RetryMaxAttempts = 3
	}
}
