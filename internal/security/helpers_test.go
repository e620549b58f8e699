package security_test

import (
	"fmt"
	"testing"
	"time"

	"backend/internal/models"
	"backend/internal/security"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:security_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(models.AllSecurityModels()...); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

func newTestEventLogger(t *testing.T, db *gorm.DB) *security.EventLogger {
	t.Helper()
	return security.NewEventLogger(db, zap.NewNop(), nil)
}

func seedUserState(t *testing.T, db *gorm.DB, userID, email string) {
	t.Helper()
	state := models.UserSecurityState{UserID: userID, Email: email}
	if err := db.Create(&state).Error; err != nil {
		t.Fatalf("seed user state failed: %v", err)
	}
}
