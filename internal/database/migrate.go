package database

import (
	"context"
	"time"

	"github.com/sandeepkv93/authkit/internal/domain"
	"github.com/sandeepkv93/authkit/internal/observability"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	start := time.Now()
	err := db.AutoMigrate(
		&domain.User{},
		&domain.AuthToken{},
		&domain.TwoFactorConfirmation{},
		&domain.Session{},
		&domain.OAuthAccount{},
	)
	if err != nil {
		observability.RecordDatabaseStartupEvent(context.Background(), "migrate", "error")
		return err
	}
	observability.RecordDatabaseStartupEvent(context.Background(), "migrate", "success")
	observability.RecordDatabaseStartupDuration(context.Background(), "migrate", time.Since(start))
	return nil
}
