package domain

import "time"

// TwoFactorConfirmation is a one-shot marker proving the second factor was
// checked during the current login attempt. It is consumed (deleted) exactly
// once when the session is established; at most one exists per user.
type TwoFactorConfirmation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
