package domain

import "time"

type OAuthAccount struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	Provider       string    `gorm:"size:32;not null;uniqueIndex:idx_oauth_provider_user,priority:1" json:"provider"`
	ProviderUserID string    `gorm:"size:255;not null;uniqueIndex:idx_oauth_provider_user,priority:2" json:"provider_user_id"`
	EmailVerified  bool      `gorm:"not null;default:false" json:"email_verified"`
	CreatedAt      time.Time `json:"created_at"`
}
