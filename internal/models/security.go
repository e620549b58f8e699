package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SecurityEvent 安全事件（追加写入，持久化后不再修改）
type SecurityEvent struct {
	ID        string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EventType string            `json:"eventType" gorm:"type:varchar(50);not null;index:idx_event_type_time,priority:1"`
	UserID    string            `json:"userId" gorm:"type:varchar(255);index"`
	Email     string            `json:"email" gorm:"type:varchar(255);index"`
	IPAddress string            `json:"ipAddress" gorm:"type:varchar(45)"`
	UserAgent string            `json:"userAgent" gorm:"type:varchar(500)"`
	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	Severity  string            `json:"severity" gorm:"type:varchar(20);not null;index"`
	CreatedAt time.Time         `json:"createdAt" gorm:"index:idx_event_type_time,priority:2"`
}

// TableName 指定表名
func (SecurityEvent) TableName() string {
	return "security_events"
}

// UserSecurityState 用户安全状态（登录失败计数、锁定、MFA 配置）
type UserSecurityState struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	UserID              string     `json:"userId" gorm:"type:varchar(255);uniqueIndex"`
	Email               string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	FailedLoginAttempts int        `json:"failedLoginAttempts" gorm:"default:0"`
	LockedUntil         *time.Time `json:"lockedUntil"`
	MFAEnabled          bool       `json:"mfaEnabled" gorm:"default:false"`
	MFASecret           string     `json:"-" gorm:"type:varchar(128)"`
	PasswordChangedAt   *time.Time `json:"passwordChangedAt"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (UserSecurityState) TableName() string {
	return "user_security_states"
}

// MFABackupCode 一次性备用码（仅保存哈希，恢复码明文只在生成时返回一次）
type MFABackupCode struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UserID    string     `json:"userId" gorm:"type:varchar(255);not null;index"`
	CodeHash  string     `json:"-" gorm:"type:varchar(100);not null"`
	Used      bool       `json:"used" gorm:"default:false"`
	UsedAt    *time.Time `json:"usedAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// TableName 指定表名
func (MFABackupCode) TableName() string {
	return "mfa_backup_codes"
}

// AlertAction 告警动作（规则命中后向哪些渠道发送通知）
type AlertAction struct {
	Type      string            `json:"type"` // email, push, webhook, sms, chat
	Enabled   bool              `json:"enabled"`
	Recipient string            `json:"recipient,omitempty"`
	Config    map[string]string `json:"config,omitempty"`
}

// AlertActionList 动作列表（JSONB 存储）
type AlertActionList []AlertAction

// Scan 实现 sql.Scanner 接口
func (al *AlertActionList) Scan(value interface{}) error {
	if value == nil {
		*al = []AlertAction{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), al)
	}
	return json.Unmarshal(bytes, al)
}

// Value 实现 driver.Valuer 接口
func (al AlertActionList) Value() (driver.Value, error) {
	if len(al) == 0 {
		return "[]", nil
	}
	return json.Marshal(al)
}

// AlertRule 告警规则
type AlertRule struct {
	ID                string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name              string          `json:"name" gorm:"type:varchar(255);not null"`
	Description       string          `json:"description" gorm:"type:text"`
	EventType         string          `json:"eventType" gorm:"type:varchar(50);not null;index"`
	Condition         string          `json:"condition" gorm:"type:varchar(20);not null"` // threshold, pattern, anomaly
	Threshold         *int            `json:"threshold"`
	TimeWindowMinutes int             `json:"timeWindowMinutes" gorm:"default:15"`
	Severity          string          `json:"severity" gorm:"type:varchar(20);not null"`
	Enabled           bool            `json:"enabled" gorm:"default:true;index"`
	PatternExpr       string          `json:"patternExpr" gorm:"type:text"` // 可选的表达式匹配（pattern 条件）
	Actions           AlertActionList `json:"actions" gorm:"type:jsonb"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// TableName 指定表名
func (AlertRule) TableName() string {
	return "alert_rules"
}

// Alert 告警记录。状态只能单向流转：active → acknowledged → resolved
type Alert struct {
	ID             string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RuleID         string            `json:"ruleId" gorm:"type:varchar(36);not null;index"`
	RuleName       string            `json:"ruleName" gorm:"type:varchar(255)"`
	Severity       string            `json:"severity" gorm:"type:varchar(20);not null;index"`
	Message        string            `json:"message" gorm:"type:text"`
	Details        datatypes.JSONMap `json:"details" gorm:"type:jsonb"`
	Status         string            `json:"status" gorm:"type:varchar(20);default:'active';index"`
	CreatedAt      time.Time         `json:"createdAt" gorm:"index"`
	AcknowledgedAt *time.Time        `json:"acknowledgedAt"`
	ResolvedAt     *time.Time        `json:"resolvedAt"`
	AcknowledgedBy string            `json:"acknowledgedBy" gorm:"type:varchar(255)"`
}

// TableName 指定表名
func (Alert) TableName() string {
	return "alerts"
}

// AlertNotification 告警通知投递记录（每个启用的动作一条）
type AlertNotification struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AlertID      string     `json:"alertId" gorm:"type:varchar(36);not null;index"`
	ChannelType  string     `json:"channelType" gorm:"type:varchar(20);not null"`
	Status       string     `json:"status" gorm:"type:varchar(20);default:'pending';index"` // pending, sent, failed
	Recipient    string     `json:"recipient" gorm:"type:varchar(500)"`
	Message      string     `json:"message" gorm:"type:text"`
	SentAt       *time.Time `json:"sentAt"`
	ErrorMessage string     `json:"errorMessage" gorm:"type:text"`
	Attempts     int        `json:"attempts" gorm:"default:0"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (AlertNotification) TableName() string {
	return "alert_notifications"
}

// SecurityReport 周期性安全报告
type SecurityReport struct {
	ID        string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Period    string            `json:"period" gorm:"type:varchar(20);not null"` // daily, weekly
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Payload   datatypes.JSONMap `json:"payload" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (SecurityReport) TableName() string {
	return "security_reports"
}

// AllSecurityModels 返回安全子系统的全部模型，供自动迁移使用
func AllSecurityModels() []interface{} {
	return []interface{}{
		&SecurityEvent{},
		&UserSecurityState{},
		&MFABackupCode{},
		&AlertRule{},
		&Alert{},
		&AlertNotification{},
		&SecurityReport{},
	}
}
