package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type VerificationNotification struct {
	UserID          uint
	Email           string
	Token           string
	ExpiresAt       time.Time
	VerificationURL string
}

type EmailVerificationNotifier interface {
	SendEmailVerification(ctx context.Context, notification VerificationNotification) error
}

type PasswordResetNotification struct {
	UserID    uint
	Email     string
	Token     string
	ExpiresAt time.Time
	ResetURL  string
}

type PasswordResetNotifier interface {
	SendPasswordReset(ctx context.Context, notification PasswordResetNotification) error
}

type TwoFactorCodeNotification struct {
	UserID    uint
	Email     string
	Code      string
	ExpiresAt time.Time
}

type TwoFactorCodeNotifier interface {
	SendTwoFactorCode(ctx context.Context, notification TwoFactorCodeNotification) error
}

// DevNotifier logs outbound tokens instead of sending mail. It keeps local
// environments working without an SMTP dependency.
type DevNotifier struct {
	logger *slog.Logger
}

func NewDevNotifier(logger *slog.Logger) *DevNotifier {
	return &DevNotifier{logger: logger}
}

func (n *DevNotifier) SendEmailVerification(ctx context.Context, notification VerificationNotification) error {
	link := notification.VerificationURL
	if strings.TrimSpace(link) == "" {
		link = fmt.Sprintf("token=%s", notification.Token)
	}
	n.logger.InfoContext(ctx, "email verification token issued",
		"user_id", notification.UserID,
		"email", notification.Email,
		"expires_at", notification.ExpiresAt,
		"verification", link,
	)
	return nil
}

func (n *DevNotifier) SendPasswordReset(ctx context.Context, notification PasswordResetNotification) error {
	link := notification.ResetURL
	if strings.TrimSpace(link) == "" {
		link = fmt.Sprintf("token=%s", notification.Token)
	}
	n.logger.InfoContext(ctx, "password reset token issued",
		"user_id", notification.UserID,
		"email", notification.Email,
		"expires_at", notification.ExpiresAt,
		"reset", link,
	)
	return nil
}

func (n *DevNotifier) SendTwoFactorCode(ctx context.Context, notification TwoFactorCodeNotification) error {
	n.logger.InfoContext(ctx, "two factor code issued",
		"user_id", notification.UserID,
		"email", notification.Email,
		"expires_at", notification.ExpiresAt,
		"code", notification.Code,
	)
	return nil
}
