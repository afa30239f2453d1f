package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Email            string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Username         *string    `gorm:"uniqueIndex;size:64" json:"username,omitempty"`
	Name             string     `gorm:"size:255" json:"name"`
	PasswordHash     string     `gorm:"size:1024" json:"-"`
	EmailVerifiedAt  *time.Time `json:"email_verified_at,omitempty"`
	TwoFactorEnabled bool       `gorm:"not null;default:false" json:"two_factor_enabled"`
	TwoFactorSecret  string     `gorm:"size:64" json:"-"`
	Role             Role       `gorm:"size:32;not null;default:user" json:"role"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EmailVerified reports whether the account's email address has been
// confirmed, either via a verification token or an OAuth link.
func (u *User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}
