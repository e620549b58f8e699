package security

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/models"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// MFA 业务前置条件错误。调用方按业务结果分支处理，不视为系统异常。
var (
	ErrMFANotSetup       = errors.New("MFA_NOT_SETUP")
	ErrMFANotEnabled     = errors.New("MFA_NOT_ENABLED")
	ErrMFAAlreadyEnabled = errors.New("MFA_ALREADY_ENABLED")
	ErrInvalidCode       = errors.New("INVALID_CODE")
)

// backupCodeAlphabet 备用码字符集，排除易混淆字符 0/O/1/I
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// MFASetupResult setupMFA 的返回值。备用码明文仅在此处出现一次，
// 落库只保存哈希，之后无法再次展示。
type MFASetupResult struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioningUri"`
	BackupCodes     []string `json:"backupCodes"`
}

// MFAEngine 多因素认证引擎：密钥生成、动态口令校验、备用码管理。
//
// 动态口令为标准 TOTP（30 秒周期、6 位、允许 ±1 个时间步的时钟漂移）。
type MFAEngine struct {
	db     *gorm.DB
	logger *zap.Logger
	events *EventLogger
	cfg    config.MFAConfig
}

// NewMFAEngine 创建 MFA 引擎
func NewMFAEngine(db *gorm.DB, logger *zap.Logger, events *EventLogger, cfg config.MFAConfig) *MFAEngine {
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	if cfg.BackupCodeLength <= 0 {
		cfg.BackupCodeLength = 8
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "WordWise"
	}
	return &MFAEngine{db: db, logger: logger, events: events, cfg: cfg}
}

// SetupMFA 生成密钥与备用码，两阶段激活：密钥落库但 mfa_enabled 保持 false，
// 首次动态口令校验通过后才真正启用。
func (e *MFAEngine) SetupMFA(ctx context.Context, userID, email string) (*MFASetupResult, error) {
	state, err := e.loadOrCreateState(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	if state.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: email,
		SecretSize:  20, // 160 bit，Base32 编码后 32 字符
	})
	if err != nil {
		return nil, fmt.Errorf("生成 MFA 密钥失败: %w", err)
	}

	codes, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserSecurityState{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{"mfa_secret": key.Secret(), "mfa_enabled": false}).Error; err != nil {
			return err
		}
		return e.replaceBackupCodes(tx, userID, codes)
	})
	if err != nil {
		return nil, fmt.Errorf("保存 MFA 配置失败: %w", err)
	}

	return &MFASetupResult{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
	}, nil
}

// VerifyAndActivateMFA 校验首个动态口令并激活 MFA
func (e *MFAEngine) VerifyAndActivateMFA(ctx context.Context, userID, email, code string) error {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return err
	}
	if state.MFASecret == "" {
		return ErrMFANotSetup
	}
	if state.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}

	if !e.validateTOTP(code, state.MFASecret) {
		e.events.LogEvent(ctx, EventInput{EventType: EventMFAFailure, UserID: userID, Email: email,
			Metadata: map[string]interface{}{"phase": "activation"}})
		return ErrInvalidCode
	}

	if err := e.db.WithContext(ctx).Model(&models.UserSecurityState{}).
		Where("user_id = ?", userID).
		Update("mfa_enabled", true).Error; err != nil {
		return fmt.Errorf("激活 MFA 失败: %w", err)
	}

	e.events.LogEvent(ctx, EventInput{EventType: EventMFAEnabled, UserID: userID, Email: email})
	return nil
}

// VerifyMFACode 登录时的动态口令校验
func (e *MFAEngine) VerifyMFACode(ctx context.Context, userID, email, code string) error {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return err
	}
	if !state.MFAEnabled || state.MFASecret == "" {
		return ErrMFANotEnabled
	}

	if !e.validateTOTP(code, state.MFASecret) {
		e.events.LogEvent(ctx, EventInput{EventType: EventMFAFailure, UserID: userID, Email: email})
		return ErrInvalidCode
	}

	e.events.LogEvent(ctx, EventInput{EventType: EventMFASuccess, UserID: userID, Email: email})
	return nil
}

// VerifyBackupCode 校验并消费一个备用码。
//
// 备用码一次性有效：命中后通过条件更新（used = false 时才置位）完成原子认领，
// 并发请求最多只有一个能认领成功。
func (e *MFAEngine) VerifyBackupCode(ctx context.Context, userID, email, code string) error {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return err
	}
	if !state.MFAEnabled {
		return ErrMFANotEnabled
	}

	var candidates []models.MFABackupCode
	if err := e.db.WithContext(ctx).
		Where("user_id = ? AND used = ?", userID, false).
		Find(&candidates).Error; err != nil {
		return fmt.Errorf("查询备用码失败: %w", err)
	}

	for _, candidate := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(candidate.CodeHash), []byte(code)) != nil {
			continue
		}

		// 原子认领：条件更新失败说明并发请求已消费该码
		now := time.Now().UTC()
		claim := e.db.WithContext(ctx).Model(&models.MFABackupCode{}).
			Where("id = ? AND used = ?", candidate.ID, false).
			Updates(map[string]interface{}{"used": true, "used_at": now})
		if claim.Error != nil {
			return fmt.Errorf("备用码认领失败: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			break // 已被消费，按无效处理
		}

		e.events.LogEvent(ctx, EventInput{EventType: EventMFABackupUsed, UserID: userID, Email: email})
		return nil
	}

	e.events.LogEvent(ctx, EventInput{EventType: EventMFAFailure, UserID: userID, Email: email,
		Metadata: map[string]interface{}{"method": "backup_code"}})
	return ErrInvalidCode
}

// DisableMFA 关闭 MFA：清除密钥并删除全部备用码，避免残留的备用码继续可用
func (e *MFAEngine) DisableMFA(ctx context.Context, userID, email string) error {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserSecurityState{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{"mfa_enabled": false, "mfa_secret": ""}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.MFABackupCode{}).Error
	})
	if err != nil {
		return fmt.Errorf("关闭 MFA 失败: %w", err)
	}

	e.events.LogEvent(ctx, EventInput{EventType: EventMFADisabled, UserID: userID, Email: email})
	return nil
}

// RegenerateBackupCodes 作废旧备用码并签发一组新码
func (e *MFAEngine) RegenerateBackupCodes(ctx context.Context, userID, email string) ([]string, error) {
	state, err := e.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !state.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	codes, err := e.generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.replaceBackupCodes(tx, userID, codes)
	})
	if err != nil {
		return nil, fmt.Errorf("重新生成备用码失败: %w", err)
	}

	e.events.LogEvent(ctx, EventInput{EventType: EventMFABackupRegenerated, UserID: userID, Email: email})
	return codes, nil
}

// IsMFAEnabled 查询 MFA 是否已启用
func (e *MFAEngine) IsMFAEnabled(ctx context.Context, userID string) (bool, error) {
	state, err := e.loadState(ctx, userID)
	if errors.Is(err, ErrMFANotSetup) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state.MFAEnabled, nil
}

// validateTOTP 按 30 秒周期、6 位、±1 步容差校验动态口令
func (e *MFAEngine) validateTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		e.logger.Debug("动态口令校验异常", zap.Error(err))
		return false
	}
	return ok
}

// generateBackupCodes 生成一组备用码明文
func (e *MFAEngine) generateBackupCodes() ([]string, error) {
	codes := make([]string, 0, e.cfg.BackupCodeCount)
	for i := 0; i < e.cfg.BackupCodeCount; i++ {
		code, err := randomCode(e.cfg.BackupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("生成备用码失败: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// replaceBackupCodes 删除旧码并写入新码哈希
func (e *MFAEngine) replaceBackupCodes(tx *gorm.DB, userID string, codes []string) error {
	if err := tx.Where("user_id = ?", userID).Delete(&models.MFABackupCode{}).Error; err != nil {
		return err
	}
	for _, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		record := models.MFABackupCode{
			UserID:    userID,
			CodeHash:  string(hash),
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
	}
	return nil
}

// loadState 读取用户安全状态，不存在时返回 ErrMFANotSetup
func (e *MFAEngine) loadState(ctx context.Context, userID string) (*models.UserSecurityState, error) {
	var state models.UserSecurityState
	err := e.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMFANotSetup
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户安全状态失败: %w", err)
	}
	return &state, nil
}

// loadOrCreateState 读取用户安全状态，不存在时创建空记录
func (e *MFAEngine) loadOrCreateState(ctx context.Context, userID, email string) (*models.UserSecurityState, error) {
	var state models.UserSecurityState
	err := e.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = models.UserSecurityState{UserID: userID, Email: email}
		if err := e.db.WithContext(ctx).Create(&state).Error; err != nil {
			return nil, fmt.Errorf("创建用户安全状态失败: %w", err)
		}
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户安全状态失败: %w", err)
	}
	return &state, nil
}

// randomCode 从无歧义字符集生成定长随机码
func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
	}
	return string(out), nil
}
