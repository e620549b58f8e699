package security_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend/internal/config"
	"backend/internal/security"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

func newMFAEngine(t *testing.T) (*security.MFAEngine, context.Context) {
	t.Helper()
	db := setupTestDB(t)
	events := newTestEventLogger(t, db)
	engine := security.NewMFAEngine(db, zap.NewNop(), events, config.MFAConfig{
		Issuer:           "WordWise",
		BackupCodeCount:  10,
		BackupCodeLength: 8,
	})
	return engine, context.Background()
}

func setupAndActivate(t *testing.T, engine *security.MFAEngine, ctx context.Context, userID, email string) *security.MFASetupResult {
	t.Helper()
	result, err := engine.SetupMFA(ctx, userID, email)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	code, err := totp.GenerateCode(result.Secret, time.Now().UTC())
	if err != nil {
		t.Fatalf("generate code failed: %v", err)
	}
	if err := engine.VerifyAndActivateMFA(ctx, userID, email, code); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	return result
}

func TestSetupMFA_TwoPhaseActivation(t *testing.T) {
	engine, ctx := newMFAEngine(t)

	result, err := engine.SetupMFA(ctx, "u1", "alice@example.com")
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if len(result.Secret) != 32 {
		t.Fatalf("expected 32-char base32 secret, got %d chars", len(result.Secret))
	}
	if len(result.BackupCodes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(result.BackupCodes))
	}
	for _, code := range result.BackupCodes {
		if len(code) != 8 {
			t.Fatalf("expected 8-char backup code, got %q", code)
		}
	}

	// 设置后尚未激活
	enabled, err := engine.IsMFAEnabled(ctx, "u1")
	if err != nil {
		t.Fatalf("IsMFAEnabled failed: %v", err)
	}
	if enabled {
		t.Fatal("MFA must stay disabled until first code verification")
	}

	// 错误口令不能激活
	if err := engine.VerifyAndActivateMFA(ctx, "u1", "alice@example.com", "000000"); !errors.Is(err, security.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	code, err := totp.GenerateCode(result.Secret, time.Now().UTC())
	if err != nil {
		t.Fatalf("generate code failed: %v", err)
	}
	if err := engine.VerifyAndActivateMFA(ctx, "u1", "alice@example.com", code); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	enabled, err = engine.IsMFAEnabled(ctx, "u1")
	if err != nil {
		t.Fatalf("IsMFAEnabled failed: %v", err)
	}
	if !enabled {
		t.Fatal("MFA should be enabled after activation")
	}

	// 已启用后不允许重复初始化
	if _, err := engine.SetupMFA(ctx, "u1", "alice@example.com"); !errors.Is(err, security.ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}
}

func TestVerifyMFACode(t *testing.T) {
	engine, ctx := newMFAEngine(t)
	result := setupAndActivate(t, engine, ctx, "u1", "alice@example.com")

	code, err := totp.GenerateCode(result.Secret, time.Now().UTC())
	if err != nil {
		t.Fatalf("generate code failed: %v", err)
	}
	if err := engine.VerifyMFACode(ctx, "u1", "alice@example.com", code); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if err := engine.VerifyMFACode(ctx, "u1", "alice@example.com", "123456"); !errors.Is(err, security.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if err := engine.VerifyMFACode(ctx, "unknown", "x@example.com", code); !errors.Is(err, security.ErrMFANotSetup) {
		t.Fatalf("expected ErrMFANotSetup, got %v", err)
	}
}

func TestVerifyBackupCode_SingleUse(t *testing.T) {
	engine, ctx := newMFAEngine(t)
	result := setupAndActivate(t, engine, ctx, "u1", "alice@example.com")

	code := result.BackupCodes[0]
	if err := engine.VerifyBackupCode(ctx, "u1", "alice@example.com", code); err != nil {
		t.Fatalf("first use failed: %v", err)
	}

	// 同一备用码第二次使用必须失败
	if err := engine.VerifyBackupCode(ctx, "u1", "alice@example.com", code); !errors.Is(err, security.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode on reuse, got %v", err)
	}

	// 其余备用码不受影响
	if err := engine.VerifyBackupCode(ctx, "u1", "alice@example.com", result.BackupCodes[1]); err != nil {
		t.Fatalf("second code failed: %v", err)
	}
}

func TestRegenerateBackupCodes_InvalidatesOld(t *testing.T) {
	engine, ctx := newMFAEngine(t)
	result := setupAndActivate(t, engine, ctx, "u1", "alice@example.com")

	newCodes, err := engine.RegenerateBackupCodes(ctx, "u1", "alice@example.com")
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if len(newCodes) != 10 {
		t.Fatalf("expected 10 new codes, got %d", len(newCodes))
	}

	if err := engine.VerifyBackupCode(ctx, "u1", "alice@example.com", result.BackupCodes[0]); !errors.Is(err, security.ErrInvalidCode) {
		t.Fatalf("old code must be invalid, got %v", err)
	}
	if err := engine.VerifyBackupCode(ctx, "u1", "alice@example.com", newCodes[0]); err != nil {
		t.Fatalf("new code failed: %v", err)
	}
}

func TestDisableMFA(t *testing.T) {
	engine, ctx := newMFAEngine(t)
	result := setupAndActivate(t, engine, ctx, "u1", "alice@example.com")

	if err := engine.DisableMFA(ctx, "u1", "alice@example.com"); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	enabled, err := engine.IsMFAEnabled(ctx, "u1")
	if err != nil {
		t.Fatalf("IsMFAEnabled failed: %v", err)
	}
	if enabled {
		t.Fatal("MFA should be disabled")
	}

	// 关闭后备用码全部失效
	if err := engine.VerifyBackupCode(ctx, "u1", "alice@example.com", result.BackupCodes[2]); !errors.Is(err, security.ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}
}
