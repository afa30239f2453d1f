package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sandeepkv93/authkit/internal/config"
	"github.com/sandeepkv93/authkit/internal/domain"
	"github.com/sandeepkv93/authkit/internal/ratelimit"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/security"
	"github.com/sandeepkv93/authkit/internal/token"
	"github.com/sandeepkv93/authkit/internal/twofactor"
)

// AuthStatus tells the caller how a successful authentication call ended.
// Not every success grants a session: an unverified account gets a fresh
// verification email, and a two-factor account gets a pending challenge.
type AuthStatus string

const (
	StatusSessionGranted        AuthStatus = "session_granted"
	StatusVerificationEmailSent AuthStatus = "verification_email_sent"
	StatusTwoFactorPending      AuthStatus = "two_factor_pending"
)

type AuthOutcome struct {
	Status AuthStatus
	Grant  *SessionGrant
	User   *domain.User
}

var (
	uppercaseRe = regexp.MustCompile(`[A-Z]`)
	lowercaseRe = regexp.MustCompile(`[a-z]`)
	digitRe     = regexp.MustCompile(`[0-9]`)
	specialRe   = regexp.MustCompile(`[^A-Za-z0-9]`)

	// No "@" so a username can never shadow someone's email in the combined
	// login lookup.
	usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)
)

type AuthService struct {
	cfg        *config.Config
	oauthSvc   *OAuthService
	sessionSvc *SessionService
	tokenSvc   *TokenService
	userRepo   repository.UserRepository
	ledger     *token.Ledger
	twoFactor  *twofactor.Engine
	limiter    ratelimit.Limiter
	guard      AuthAbuseGuard

	verificationNotifier  EmailVerificationNotifier
	passwordResetNotifier PasswordResetNotifier
	twoFactorNotifier     TwoFactorCodeNotifier
}

func NewAuthService(
	cfg *config.Config,
	oauthSvc *OAuthService,
	sessionSvc *SessionService,
	tokenSvc *TokenService,
	userRepo repository.UserRepository,
	ledger *token.Ledger,
	twoFactor *twofactor.Engine,
	limiter ratelimit.Limiter,
	guard AuthAbuseGuard,
	verificationNotifier EmailVerificationNotifier,
	passwordResetNotifier PasswordResetNotifier,
	twoFactorNotifier TwoFactorCodeNotifier,
) *AuthService {
	return &AuthService{
		cfg:                   cfg,
		oauthSvc:              oauthSvc,
		sessionSvc:            sessionSvc,
		tokenSvc:              tokenSvc,
		userRepo:              userRepo,
		ledger:                ledger,
		twoFactor:             twoFactor,
		limiter:               limiter,
		guard:                 guard,
		verificationNotifier:  verificationNotifier,
		passwordResetNotifier: passwordResetNotifier,
		twoFactorNotifier:     twoFactorNotifier,
	}
}

func (s *AuthService) GoogleLoginURL(state string) string {
	if !s.cfg.AuthGoogleEnabled {
		return ""
	}
	return s.oauthSvc.LoginURL(state)
}

func (s *AuthService) LoginWithGoogleCode(ctx context.Context, code, ua, ip string) (*SessionGrant, error) {
	if !s.cfg.AuthGoogleEnabled {
		return nil, ErrGoogleAuthDisabled
	}
	user, err := s.oauthSvc.HandleGoogleCallback(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.assignBootstrapAdminIfNeeded(user); err != nil {
		return nil, err
	}
	return s.sessionSvc.Establish(ctx, user, MethodOAuth, ua, ip)
}

func (s *AuthService) Register(ctx context.Context, email, username, name, password, ua, ip string) (*AuthOutcome, error) {
	if !s.cfg.AuthLocalEnabled {
		return nil, ErrLocalAuthDisabled
	}
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(strings.ToLower(username))
	name = strings.TrimSpace(name)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if username != "" && !usernameRe.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if err := s.throttle(ctx, "register:"+email, s.cfg.RegisterThrottle); err != nil {
		return nil, err
	}
	if _, err := s.userRepo.FindByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	if username != "" {
		if _, err := s.userRepo.FindByEmailOrUsername(username); err == nil {
			return nil, ErrUsernameTaken
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Email: email, Name: name, PasswordHash: hash, Role: domain.RoleUser}
	if username != "" {
		user.Username = &username
	}
	if !s.cfg.AuthLocalRequireEmailVerification {
		now := time.Now().UTC()
		user.EmailVerifiedAt = &now
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	if err := s.assignBootstrapAdminIfNeeded(user); err != nil {
		return nil, err
	}

	if !user.EmailVerified() {
		if err := s.issueVerificationEmail(ctx, user); err != nil {
			return nil, err
		}
		return &AuthOutcome{Status: StatusVerificationEmailSent, User: user}, nil
	}

	grant, err := s.sessionSvc.Establish(ctx, user, MethodCredentials, ua, ip)
	if err != nil {
		return nil, err
	}
	return &AuthOutcome{Status: StatusSessionGranted, Grant: grant, User: user}, nil
}

// Authenticate runs the credentials flow. The identifier may be an email or
// a username; a wrong identifier and a wrong password are indistinguishable
// to the caller. The optional code settles a pending two-factor challenge,
// either a TOTP code or the emailed one-time code.
func (s *AuthService) Authenticate(ctx context.Context, identifier, password, code, ua, ip string) (*AuthOutcome, error) {
	if !s.cfg.AuthLocalEnabled {
		return nil, ErrLocalAuthDisabled
	}
	identifier = strings.TrimSpace(strings.ToLower(identifier))

	cooldown, err := s.guard.Check(ctx, AuthAbuseScopeLogin, identifier, ip)
	if err != nil {
		return nil, err
	}
	if cooldown > 0 {
		return nil, throttled(cooldown)
	}

	user, err := s.userRepo.FindByEmailOrUsername(identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_, _ = s.guard.RegisterFailure(ctx, AuthAbuseScopeLogin, identifier, ip)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		// OAuth-only account; a password can never match.
		_, _ = s.guard.RegisterFailure(ctx, AuthAbuseScopeLogin, identifier, ip)
		return nil, ErrInvalidCredentials
	}
	ok, err := security.VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		_, _ = s.guard.RegisterFailure(ctx, AuthAbuseScopeLogin, identifier, ip)
		return nil, ErrInvalidCredentials
	}
	_ = s.guard.Reset(ctx, AuthAbuseScopeLogin, identifier, ip)

	if !user.EmailVerified() {
		// Throttle keys use the canonical email even when the login came in
		// by username.
		if err := s.throttle(ctx, "resend:"+user.Email, s.cfg.LoginResendThrottle); err != nil {
			return nil, err
		}
		if err := s.issueVerificationEmail(ctx, user); err != nil {
			return nil, err
		}
		return &AuthOutcome{Status: StatusVerificationEmailSent, User: user}, nil
	}

	if user.TwoFactorEnabled {
		if strings.TrimSpace(code) == "" {
			if err := s.throttle(ctx, "2fa:"+user.Email, s.cfg.TwoFactorThrottle); err != nil {
				return nil, err
			}
			if err := s.issueTwoFactorCode(ctx, user); err != nil {
				return nil, err
			}
			return &AuthOutcome{Status: StatusTwoFactorPending, User: user}, nil
		}
		if err := s.settleTwoFactorChallenge(ctx, user, code); err != nil {
			return nil, err
		}
	}

	grant, err := s.sessionSvc.Establish(ctx, user, MethodCredentials, ua, ip)
	if err != nil {
		return nil, err
	}
	return &AuthOutcome{Status: StatusSessionGranted, Grant: grant, User: user}, nil
}

// settleTwoFactorChallenge accepts a TOTP code from the enrolled app, or
// failing that the emailed one-time code, and leaves a confirmation marker
// for the session grant to consume.
func (s *AuthService) settleTwoFactorChallenge(ctx context.Context, user *domain.User, code string) error {
	err := s.twoFactor.VerifyCode(ctx, user.ID, code)
	if err != nil && !errors.Is(err, twofactor.ErrInvalidTwoFactorCode) && !errors.Is(err, twofactor.ErrTwoFactorNotSetUp) {
		return err
	}
	if err != nil {
		if _, consumeErr := s.ledger.Consume(ctx, domain.TokenKindTwoFactorEmail, strings.TrimSpace(code)); consumeErr != nil {
			if errors.Is(consumeErr, token.ErrTokenNotFound) || errors.Is(consumeErr, token.ErrTokenExpired) {
				return twofactor.ErrInvalidTwoFactorCode
			}
			return consumeErr
		}
	}
	return s.twoFactor.MarkConfirmed(ctx, user.ID)
}

func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	if !s.cfg.AuthLocalEnabled {
		return ErrLocalAuthDisabled
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := s.throttle(ctx, "resend-verify:"+email, s.cfg.ResendVerifyThrottle); err != nil {
		return err
	}

	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Same response whether or not the account exists.
			return nil
		}
		return err
	}
	if user.EmailVerified() {
		return nil
	}
	return s.issueVerificationEmail(ctx, user)
}

func (s *AuthService) ConfirmVerification(ctx context.Context, tokenValue string) error {
	if !s.cfg.AuthLocalEnabled {
		return ErrLocalAuthDisabled
	}
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		return ErrInvalidVerifyToken
	}
	record, err := s.ledger.Consume(ctx, domain.TokenKindEmailVerify, tokenValue)
	if err != nil {
		if errors.Is(err, token.ErrTokenNotFound) || errors.Is(err, token.ErrTokenExpired) {
			return ErrInvalidVerifyToken
		}
		return err
	}
	user, err := s.userRepo.FindByEmail(record.SubjectKey)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	user.EmailVerifiedAt = &now
	return s.userRepo.Update(user)
}

func (s *AuthService) RequestPasswordReset(ctx context.Context, email, ip string) error {
	if !s.cfg.AuthLocalEnabled {
		return ErrLocalAuthDisabled
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}
	cooldown, err := s.guard.Check(ctx, AuthAbuseScopeForgot, email, ip)
	if err != nil {
		return err
	}
	if cooldown > 0 {
		return throttled(cooldown)
	}
	if err := s.throttle(ctx, "reset:"+email, s.cfg.PasswordResetThrottle); err != nil {
		return err
	}
	// Every request counts against the backoff, before the account lookup,
	// so the cooldown is identical whether or not the address exists.
	if _, err := s.guard.RegisterFailure(ctx, AuthAbuseScopeForgot, email, ip); err != nil {
		return err
	}

	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.PasswordHash == "" {
		// OAuth-only accounts have no password to reset.
		return nil
	}

	issued, err := s.ledger.Issue(ctx, domain.TokenKindPasswordReset, user.Email, s.cfg.AuthPasswordResetTokenTTL)
	if err != nil {
		return err
	}
	notification := PasswordResetNotification{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     issued.Value,
		ExpiresAt: issued.ExpiresAt,
		ResetURL:  s.frontendLink("/auth/new-password", issued.Value),
	}
	if err := s.passwordResetNotifier.SendPasswordReset(ctx, notification); err != nil {
		slog.ErrorContext(ctx, "password reset delivery failed", "user_id", user.ID, "error", err.Error())
		return ErrDeliveryFailed
	}
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, tokenValue, newPassword string) error {
	if !s.cfg.AuthLocalEnabled {
		return ErrLocalAuthDisabled
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		return ErrInvalidVerifyToken
	}
	record, err := s.ledger.Consume(ctx, domain.TokenKindPasswordReset, tokenValue)
	if err != nil {
		if errors.Is(err, token.ErrTokenNotFound) || errors.Is(err, token.ErrTokenExpired) {
			return ErrInvalidVerifyToken
		}
		return err
	}
	user, err := s.userRepo.FindByEmail(record.SubjectKey)
	if err != nil {
		return err
	}
	newHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = newHash
	if err := s.userRepo.Update(user); err != nil {
		return err
	}
	return s.tokenSvc.RevokeAll(user.ID)
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	if !s.cfg.AuthLocalEnabled {
		return ErrLocalAuthDisabled
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	ok, err := security.VerifyPassword(user.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if currentPassword == newPassword {
		return fmt.Errorf("new password must differ from current password")
	}
	newHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = newHash
	if err := s.userRepo.Update(user); err != nil {
		return err
	}
	return s.tokenSvc.RevokeAll(userID)
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken, ua, ip string) (*SessionGrant, error) {
	access, newRefresh, csrf, uid, err := s.tokenSvc.Rotate(refreshToken, func(id uint) (*domain.User, error) {
		return s.userRepo.FindByID(id)
	}, ua, ip)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByID(uid)
	if err != nil {
		return nil, err
	}
	return &SessionGrant{
		User:         user,
		AccessToken:  access,
		RefreshToken: newRefresh,
		CSRFToken:    csrf,
		ExpiresAt:    time.Now().Add(s.cfg.JWTAccessTTL),
	}, nil
}

func (s *AuthService) Logout(userID uint) error {
	return s.tokenSvc.RevokeAll(userID)
}

func (s *AuthService) ParseUserID(subject string) (uint, error) {
	id, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user subject")
	}
	return uint(id), nil
}

func (s *AuthService) issueVerificationEmail(ctx context.Context, user *domain.User) error {
	issued, err := s.ledger.Issue(ctx, domain.TokenKindEmailVerify, user.Email, s.cfg.AuthEmailVerifyTokenTTL)
	if err != nil {
		return err
	}
	notification := VerificationNotification{
		UserID:          user.ID,
		Email:           user.Email,
		Token:           issued.Value,
		ExpiresAt:       issued.ExpiresAt,
		VerificationURL: s.frontendLink("/auth/new-verification", issued.Value),
	}
	if err := s.verificationNotifier.SendEmailVerification(ctx, notification); err != nil {
		slog.ErrorContext(ctx, "verification email delivery failed", "user_id", user.ID, "error", err.Error())
		return ErrDeliveryFailed
	}
	return nil
}

func (s *AuthService) issueTwoFactorCode(ctx context.Context, user *domain.User) error {
	issued, err := s.ledger.Issue(ctx, domain.TokenKindTwoFactorEmail, user.Email, s.cfg.AuthTwoFactorCodeTTL)
	if err != nil {
		return err
	}
	notification := TwoFactorCodeNotification{
		UserID:    user.ID,
		Email:     user.Email,
		Code:      issued.Value,
		ExpiresAt: issued.ExpiresAt,
	}
	if err := s.twoFactorNotifier.SendTwoFactorCode(ctx, notification); err != nil {
		slog.ErrorContext(ctx, "two factor code delivery failed", "user_id", user.ID, "error", err.Error())
		return ErrDeliveryFailed
	}
	return nil
}

func (s *AuthService) throttle(ctx context.Context, key string, rule config.Throttle) error {
	decision, err := s.limiter.Consume(ctx, key, rule.Max, rule.Window)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return throttled(decision.RetryAfter)
	}
	return nil
}

func (s *AuthService) frontendLink(path, tokenValue string) string {
	base := strings.TrimSpace(s.cfg.FrontendBaseURL)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("token", tokenValue)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *AuthService) assignBootstrapAdminIfNeeded(user *domain.User) error {
	target := strings.TrimSpace(strings.ToLower(s.cfg.BootstrapAdminEmail))
	if target == "" || strings.ToLower(user.Email) != target {
		return nil
	}
	if user.Role == domain.RoleAdmin {
		return nil
	}
	user.Role = domain.RoleAdmin
	return s.userRepo.Update(user)
}

func throttled(retryAfter time.Duration) error {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return fmt.Errorf("%w: retry after %s", ErrThrottleExceeded, retryAfter.Round(time.Second))
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 || !uppercaseRe.MatchString(password) ||
		!lowercaseRe.MatchString(password) || !digitRe.MatchString(password) || !specialRe.MatchString(password) {
		return ErrWeakPassword
	}
	return nil
}
