package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/metrics"
	"backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AttemptResult 一次登录尝试的处理结果
type AttemptResult struct {
	Success           bool       `json:"success"`
	Locked            bool       `json:"locked"`
	RemainingAttempts int        `json:"remainingAttempts"`
	LockoutExpiry     *time.Time `json:"lockoutExpiry,omitempty"`
	Message           string     `json:"message"`
}

// LoginAttemptTracker 登录失败计数与锁定状态机。
//
// 每个身份在 OPEN / LOCKED 两个状态间流转：失败次数达到上限进入 LOCKED，
// 锁定期间的请求直接拒绝且不计入失败次数；锁定到期后自动回到 OPEN 并清零计数。
type LoginAttemptTracker struct {
	db     *gorm.DB
	logger *zap.Logger
	events *EventLogger
	cfg    config.LockoutConfig
}

// NewLoginAttemptTracker 创建登录尝试跟踪器
func NewLoginAttemptTracker(db *gorm.DB, logger *zap.Logger, events *EventLogger, cfg config.LockoutConfig) *LoginAttemptTracker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockoutMinutes <= 0 {
		cfg.LockoutMinutes = 15
	}
	if cfg.ResetAfterSuccess == nil {
		reset := true
		cfg.ResetAfterSuccess = &reset
	}
	return &LoginAttemptTracker{db: db, logger: logger, events: events, cfg: cfg}
}

// TrackLoginAttempt 处理一次登录尝试。override 为 nil 时使用服务默认策略。
//
// 未知邮箱按 OPEN 状态处理并保留全部剩余次数：不存在的账户永远不会被锁定。
func (t *LoginAttemptTracker) TrackLoginAttempt(ctx context.Context, email string, success bool, override *config.LockoutConfig) (*AttemptResult, error) {
	cfg := t.cfg
	if override != nil {
		cfg = *override
		if cfg.MaxAttempts <= 0 {
			cfg.MaxAttempts = t.cfg.MaxAttempts
		}
		if cfg.LockoutMinutes <= 0 {
			cfg.LockoutMinutes = t.cfg.LockoutMinutes
		}
		if cfg.ResetAfterSuccess == nil {
			cfg.ResetAfterSuccess = t.cfg.ResetAfterSuccess
		}
	}

	now := time.Now().UTC()

	var state models.UserSecurityState
	err := t.db.WithContext(ctx).Where("email = ?", email).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 未知身份：记录事件但不计数、不锁定
		t.logAttempt(ctx, email, success, nil)
		return &AttemptResult{
			Success:           success,
			Locked:            false,
			RemainingAttempts: cfg.MaxAttempts,
			Message:           attemptMessage(success, cfg.MaxAttempts),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户安全状态失败: %w", err)
	}

	// 锁定中：不消耗尝试次数，直接拒绝
	if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
		expiry := *state.LockedUntil
		t.logAttempt(ctx, email, success, map[string]interface{}{"locked": true})
		return &AttemptResult{
			Success:           false,
			Locked:            true,
			RemainingAttempts: 0,
			LockoutExpiry:     &expiry,
			Message:           fmt.Sprintf("账户已锁定，%s 后可重试", expiry.Format(time.RFC3339)),
		}, nil
	}

	// 锁定已过期：回到 OPEN 状态并清零计数
	if state.LockedUntil != nil && !now.Before(*state.LockedUntil) {
		if err := t.db.WithContext(ctx).Model(&models.UserSecurityState{}).
			Where("email = ?", email).
			Updates(map[string]interface{}{"failed_login_attempts": 0, "locked_until": nil}).Error; err != nil {
			return nil, fmt.Errorf("重置锁定状态失败: %w", err)
		}
		state.FailedLoginAttempts = 0
		state.LockedUntil = nil
	}

	if success {
		if *cfg.ResetAfterSuccess {
			if err := t.db.WithContext(ctx).Model(&models.UserSecurityState{}).
				Where("email = ?", email).
				Updates(map[string]interface{}{"failed_login_attempts": 0, "locked_until": nil}).Error; err != nil {
				return nil, fmt.Errorf("清零失败计数失败: %w", err)
			}
			state.FailedLoginAttempts = 0
		}
		t.logAttempt(ctx, email, true, nil)
		remaining := cfg.MaxAttempts - state.FailedLoginAttempts
		if remaining < 0 {
			remaining = 0
		}
		return &AttemptResult{
			Success:           true,
			RemainingAttempts: remaining,
			Message:           "登录成功",
		}, nil
	}

	// 失败：计数自增必须在存储层原子完成，并发失败尝试不能漏计
	if err := t.db.WithContext(ctx).Model(&models.UserSecurityState{}).
		Where("email = ?", email).
		UpdateColumn("failed_login_attempts", gorm.Expr("failed_login_attempts + 1")).Error; err != nil {
		return nil, fmt.Errorf("失败计数自增失败: %w", err)
	}

	// 重新读取计数再判断是否达到锁定阈值
	if err := t.db.WithContext(ctx).Where("email = ?", email).First(&state).Error; err != nil {
		return nil, fmt.Errorf("读取失败计数失败: %w", err)
	}

	t.logAttempt(ctx, email, false, map[string]interface{}{"failed_attempts": state.FailedLoginAttempts})

	if state.FailedLoginAttempts >= cfg.MaxAttempts {
		expiry := now.Add(time.Duration(cfg.LockoutMinutes) * time.Minute)
		if err := t.db.WithContext(ctx).Model(&models.UserSecurityState{}).
			Where("email = ?", email).
			Update("locked_until", expiry).Error; err != nil {
			return nil, fmt.Errorf("写入锁定时间失败: %w", err)
		}

		metrics.LoginLockoutsTotal.Inc()
		t.events.LogAccountLocked(ctx, email, map[string]interface{}{
			"failed_attempts": state.FailedLoginAttempts,
			"locked_until":    expiry.Format(time.RFC3339),
		})
		t.logger.Warn("账户触发锁定",
			zap.String("email", email),
			zap.Int("failed_attempts", state.FailedLoginAttempts),
			zap.Time("locked_until", expiry),
		)

		return &AttemptResult{
			Success:           false,
			Locked:            true,
			RemainingAttempts: 0,
			LockoutExpiry:     &expiry,
			Message:           fmt.Sprintf("失败次数过多，账户锁定至 %s", expiry.Format(time.RFC3339)),
		}, nil
	}

	remaining := cfg.MaxAttempts - state.FailedLoginAttempts
	return &AttemptResult{
		Success:           false,
		RemainingAttempts: remaining,
		Message:           fmt.Sprintf("用户名或密码错误，还可尝试 %d 次", remaining),
	}, nil
}

// UnlockAccount 管理员手动解锁：无条件清零计数并解除锁定
func (t *LoginAttemptTracker) UnlockAccount(ctx context.Context, email string) error {
	result := t.db.WithContext(ctx).Model(&models.UserSecurityState{}).
		Where("email = ?", email).
		Updates(map[string]interface{}{"failed_login_attempts": 0, "locked_until": nil})
	if result.Error != nil {
		return fmt.Errorf("解锁账户失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("账户不存在: %s", email)
	}

	t.events.LogEvent(ctx, EventInput{EventType: EventAccountUnlocked, Email: email})
	return nil
}

// AccountStatus 账户锁定状态快照
type AccountStatus struct {
	Email             string     `json:"email"`
	FailedAttempts    int        `json:"failedAttempts"`
	Locked            bool       `json:"locked"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
	RemainingAttempts int        `json:"remainingAttempts"`
}

// GetAccountStatus 查询账户当前锁定状态。未知邮箱视为 OPEN 满额。
func (t *LoginAttemptTracker) GetAccountStatus(ctx context.Context, email string) (*AccountStatus, error) {
	var state models.UserSecurityState
	err := t.db.WithContext(ctx).Where("email = ?", email).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &AccountStatus{Email: email, RemainingAttempts: t.cfg.MaxAttempts}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询账户状态失败: %w", err)
	}

	now := time.Now().UTC()
	locked := state.LockedUntil != nil && now.Before(*state.LockedUntil)
	remaining := t.cfg.MaxAttempts - state.FailedLoginAttempts
	if remaining < 0 || locked {
		remaining = 0
	}

	status := &AccountStatus{
		Email:             email,
		FailedAttempts:    state.FailedLoginAttempts,
		Locked:            locked,
		RemainingAttempts: remaining,
	}
	if locked {
		status.LockedUntil = state.LockedUntil
	}
	return status, nil
}

// logAttempt 每次尝试（无论成败）都写安全事件
func (t *LoginAttemptTracker) logAttempt(ctx context.Context, email string, success bool, metadata map[string]interface{}) {
	if success {
		t.events.LogEvent(ctx, EventInput{EventType: EventLoginSuccess, Email: email, Metadata: metadata})
		return
	}
	t.events.LogEvent(ctx, EventInput{EventType: EventLoginFailure, Email: email, Metadata: metadata})
}

func attemptMessage(success bool, remaining int) string {
	if success {
		return "登录成功"
	}
	return fmt.Sprintf("用户名或密码错误，还可尝试 %d 次", remaining)
}
