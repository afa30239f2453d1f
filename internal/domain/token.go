package domain

import "time"

// TokenKind tags the three single-use token flavors that share one ledger.
type TokenKind string

const (
	TokenKindEmailVerify    TokenKind = "email_verify"
	TokenKindPasswordReset  TokenKind = "password_reset"
	TokenKindTwoFactorEmail TokenKind = "two_factor_email"
)

// AuthToken is a single-use, time-bound token. The composite unique index on
// (kind, subject_key) enforces at most one live token per kind and subject;
// issuing a replacement deletes the predecessor first. Only the digest of the
// token value is persisted; the plaintext exists solely on the struct handed
// back at issue time, for delivery to the user.
type AuthToken struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Kind       TokenKind `gorm:"size:32;not null;uniqueIndex:idx_auth_tokens_kind_subject,priority:1;index:idx_auth_tokens_kind_value,priority:1" json:"kind"`
	SubjectKey string    `gorm:"size:255;not null;uniqueIndex:idx_auth_tokens_kind_subject,priority:2" json:"subject_key"`
	ValueHash  string    `gorm:"size:64;not null;index:idx_auth_tokens_kind_value,priority:2" json:"-"`
	Value      string    `gorm:"-" json:"-"`
	ExpiresAt  time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *AuthToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
