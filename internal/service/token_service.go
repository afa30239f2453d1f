package service

import (
	"fmt"
	"time"

	"github.com/sandeepkv93/authkit/internal/domain"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/security"
)

// TokenService mints the session token triple: access JWT, refresh JWT
// backed by a hashed session row, and a CSRF token for the double-submit
// cookie check.
type TokenService struct {
	jwtMgr      *security.JWTManager
	sessionRepo repository.SessionRepository
	pepper      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewTokenService(jwtMgr *security.JWTManager, sessionRepo repository.SessionRepository, pepper string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{jwtMgr: jwtMgr, sessionRepo: sessionRepo, pepper: pepper, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (s *TokenService) Issue(user *domain.User, ua, ip string) (access string, refresh string, csrf string, err error) {
	access, err = s.jwtMgr.SignAccessToken(user.ID, string(user.Role), s.accessTTL)
	if err != nil {
		return "", "", "", err
	}
	refresh, err = s.jwtMgr.SignRefreshToken(user.ID, s.refreshTTL)
	if err != nil {
		return "", "", "", err
	}
	hash := security.HashRefreshToken(refresh, s.pepper)
	if err := s.sessionRepo.Create(&domain.Session{UserID: user.ID, RefreshTokenHash: hash, UserAgent: ua, IP: ip, ExpiresAt: time.Now().Add(s.refreshTTL)}); err != nil {
		return "", "", "", err
	}
	csrf, err = security.NewCSRFToken()
	if err != nil {
		return "", "", "", err
	}
	return access, refresh, csrf, nil
}

// Rotate revokes the presented refresh token and issues a fresh triple. The
// user is re-read through userFetcher so the new access claims carry the
// current role, not the one from login time.
func (s *TokenService) Rotate(refreshToken string, userFetcher func(id uint) (*domain.User, error), ua, ip string) (access string, newRefresh string, csrf string, userID uint, err error) {
	claims, err := s.jwtMgr.ParseRefreshToken(refreshToken)
	if err != nil {
		return "", "", "", 0, err
	}
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	session, err := s.sessionRepo.FindValidByHash(hash)
	if err != nil {
		return "", "", "", 0, err
	}
	if err := s.sessionRepo.RevokeByHash(hash); err != nil {
		return "", "", "", 0, err
	}
	userID, err = security.SubjectUserID(claims)
	if err != nil {
		return "", "", "", 0, err
	}
	if session.UserID != userID {
		return "", "", "", 0, fmt.Errorf("session mismatch")
	}
	user, err := userFetcher(userID)
	if err != nil {
		return "", "", "", 0, err
	}
	access, newRefresh, csrf, err = s.Issue(user, ua, ip)
	if err != nil {
		return "", "", "", 0, err
	}
	return access, newRefresh, csrf, userID, nil
}

func (s *TokenService) RevokeAll(userID uint) error {
	return s.sessionRepo.RevokeByUserID(userID)
}
