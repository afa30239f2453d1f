package service

import (
	"context"
	"net/http"
	"time"

	"github.com/sandeepkv93/authkit/internal/domain"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/security"
	"github.com/sandeepkv93/authkit/internal/twofactor"
)

// AuthMethod names how an identity was proven before a session grant.
type AuthMethod string

const (
	MethodCredentials AuthMethod = "credentials"
	MethodOAuth       AuthMethod = "oauth"
)

// SessionGrant is the issued session token triple.
type SessionGrant struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
	CSRFToken    string
	ExpiresAt    time.Time
}

// SessionView is the per-device session listing surfaced to users.
type SessionView struct {
	ID        uint       `json:"id"`
	UserAgent string     `json:"user_agent"`
	IP        string     `json:"ip"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	IsCurrent bool       `json:"is_current"`
}

// SessionService decides whether a verified identity may receive a session,
// then delegates minting to the TokenService.
type SessionService struct {
	tokenSvc    *TokenService
	sessionRepo repository.SessionRepository
	twoFactor   *twofactor.Engine
	pepper      string
	accessTTL   time.Duration
}

func NewSessionService(tokenSvc *TokenService, sessionRepo repository.SessionRepository, twoFactor *twofactor.Engine, pepper string, accessTTL time.Duration) *SessionService {
	return &SessionService{
		tokenSvc:    tokenSvc,
		sessionRepo: sessionRepo,
		twoFactor:   twoFactor,
		pepper:      pepper,
		accessTTL:   accessTTL,
	}
}

// Establish admits or refuses a session for an already-authenticated user.
// OAuth identities pass unconditionally since account linking verifies the
// email. Credentials identities must have a verified email, and accounts
// with the second factor enabled must hold a confirmation marker, which is
// consumed as part of the grant so it cannot admit a second session.
func (s *SessionService) Establish(ctx context.Context, user *domain.User, method AuthMethod, ua, ip string) (*SessionGrant, error) {
	if method == MethodCredentials {
		if !user.EmailVerified() {
			return nil, ErrEmailNotVerified
		}
		if user.TwoFactorEnabled {
			consumed, err := s.twoFactor.ConsumeConfirmation(ctx, user.ID)
			if err != nil {
				return nil, err
			}
			if !consumed {
				return nil, ErrUnauthorized
			}
		}
	}
	access, refresh, csrf, err := s.tokenSvc.Issue(user, ua, ip)
	if err != nil {
		return nil, err
	}
	return &SessionGrant{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		CSRFToken:    csrf,
		ExpiresAt:    time.Now().Add(s.accessTTL),
	}, nil
}

func (s *SessionService) ListSessions(userID uint, currentID uint) ([]SessionView, error) {
	sessions, err := s.sessionRepo.ListByUserID(userID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, SessionView{
			ID:        sess.ID,
			UserAgent: sess.UserAgent,
			IP:        sess.IP,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
			RevokedAt: sess.RevokedAt,
			IsCurrent: sess.ID == currentID,
		})
	}
	return views, nil
}

// ResolveCurrentSessionID maps the caller's refresh cookie back to its
// session row so "this device" can be marked in listings.
func (s *SessionService) ResolveCurrentSessionID(r *http.Request, userID uint) (uint, error) {
	refresh := security.GetCookie(r, "refresh_token")
	if refresh == "" {
		return 0, repository.ErrSessionNotFound
	}
	hash := security.HashRefreshToken(refresh, s.pepper)
	session, err := s.sessionRepo.FindValidByHash(hash)
	if err != nil {
		return 0, err
	}
	if session.UserID != userID {
		return 0, repository.ErrSessionNotFound
	}
	return session.ID, nil
}

func (s *SessionService) RevokeSession(userID, sessionID uint) (string, error) {
	revoked, err := s.sessionRepo.RevokeByIDForUser(userID, sessionID)
	if err != nil {
		return "", err
	}
	if !revoked {
		return "already_revoked", nil
	}
	return "revoked", nil
}

func (s *SessionService) RevokeOtherSessions(userID, currentID uint) (int64, error) {
	return s.sessionRepo.RevokeOthersByUser(userID, currentID)
}
