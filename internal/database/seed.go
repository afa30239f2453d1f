package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/authkit/internal/domain"
	"github.com/sandeepkv93/authkit/internal/observability"

	"gorm.io/gorm"
)

// SeedReport records what the startup seed actually changed so operators
// can tell a fresh bootstrap apart from a no-op restart.
type SeedReport struct {
	PromotedAdmins int  `json:"promoted_admins"`
	VerifiedEmails int  `json:"verified_emails"`
	Noop           bool `json:"noop"`
}

func Seed(db *gorm.DB, bootstrapAdminEmail string) error {
	_, err := SeedSync(db, bootstrapAdminEmail)
	return err
}

// SeedSync promotes the bootstrap admin account if it exists. The account
// is also marked verified so the operator is never locked out of a fresh
// deployment by the verification gate.
func SeedSync(db *gorm.DB, bootstrapAdminEmail string) (*SeedReport, error) {
	start := time.Now()
	defer func() {
		observability.RecordDatabaseStartupDuration(context.Background(), "seed", time.Since(start))
	}()

	report := &SeedReport{}

	email := strings.TrimSpace(strings.ToLower(bootstrapAdminEmail))
	if email == "" {
		report.Noop = true
		observability.RecordDatabaseStartupEvent(context.Background(), "seed", "success")
		return report, nil
	}

	var u domain.User
	if err := db.Where("email = ?", email).First(&u).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			report.Noop = true
			observability.RecordDatabaseStartupEvent(context.Background(), "seed", "success")
			return report, nil
		}
		observability.RecordDatabaseStartupEvent(context.Background(), "seed", "error")
		return nil, err
	}

	updates := map[string]any{}
	if u.Role != domain.RoleAdmin {
		updates["role"] = domain.RoleAdmin
		report.PromotedAdmins++
	}
	if u.EmailVerifiedAt == nil {
		now := time.Now().UTC()
		updates["email_verified_at"] = &now
		report.VerifiedEmails++
	}
	if len(updates) > 0 {
		if err := db.Model(&u).Updates(updates).Error; err != nil {
			observability.RecordDatabaseStartupEvent(context.Background(), "seed", "error")
			return nil, fmt.Errorf("promote bootstrap admin: %w", err)
		}
	}

	report.Noop = report.PromotedAdmins == 0 && report.VerifiedEmails == 0
	observability.RecordDatabaseStartupEvent(context.Background(), "seed", "success")
	return report, nil
}

// VerifyLocalEmail marks an account's email as verified without a token.
// Used by the seed CLI for local development against real mailless setups.
func VerifyLocalEmail(db *gorm.DB, email string) error {
	normalized := strings.TrimSpace(strings.ToLower(email))
	if normalized == "" {
		return fmt.Errorf("email is required")
	}
	now := time.Now().UTC()
	tx := db.Model(&domain.User{}).Where("email = ?", normalized).
		Update("email_verified_at", &now)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
