package service

import (
	"context"

	"github.com/sandeepkv93/authkit/internal/domain"
	"github.com/sandeepkv93/authkit/internal/repository"
)

type AuthServiceInterface interface {
	GoogleLoginURL(state string) string
	LoginWithGoogleCode(ctx context.Context, code, ua, ip string) (*SessionGrant, error)
	Register(ctx context.Context, email, username, name, password, ua, ip string) (*AuthOutcome, error)
	Authenticate(ctx context.Context, identifier, password, code, ua, ip string) (*AuthOutcome, error)
	ResendVerification(ctx context.Context, email string) error
	ConfirmVerification(ctx context.Context, tokenValue string) error
	RequestPasswordReset(ctx context.Context, email, ip string) error
	ResetPassword(ctx context.Context, tokenValue, newPassword string) error
	ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error
	Refresh(ctx context.Context, refreshToken, ua, ip string) (*SessionGrant, error)
	Logout(userID uint) error
	ParseUserID(subject string) (uint, error)
}

type UserServiceInterface interface {
	GetByID(id uint) (*domain.User, error)
	ListPaged(req repository.PageRequest) (*repository.PageResult[domain.User], error)
}
