package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/authkit/internal/config"
	"github.com/sandeepkv93/authkit/internal/domain"
	"github.com/sandeepkv93/authkit/internal/ratelimit"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/security"
	"github.com/sandeepkv93/authkit/internal/token"
	"github.com/sandeepkv93/authkit/internal/twofactor"
)

const testPassword = "Sup3r$ecurePass!"

type recordingNotifier struct {
	verifications []VerificationNotification
	resets        []PasswordResetNotification
	codes         []TwoFactorCodeNotification
	fail          bool
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, v VerificationNotification) error {
	if n.fail {
		return errors.New("smtp unavailable")
	}
	n.verifications = append(n.verifications, v)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, r PasswordResetNotification) error {
	if n.fail {
		return errors.New("smtp unavailable")
	}
	n.resets = append(n.resets, r)
	return nil
}

func (n *recordingNotifier) SendTwoFactorCode(_ context.Context, c TwoFactorCodeNotification) error {
	if n.fail {
		return errors.New("smtp unavailable")
	}
	n.codes = append(n.codes, c)
	return nil
}

type authFixture struct {
	svc        *AuthService
	sessionSvc *SessionService
	users      repository.UserRepository
	ledger     *token.Ledger
	engine     *twofactor.Engine
	notifier   *recordingNotifier
	cfg        *config.Config
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	return newAuthFixtureWithGuard(t, NewNoopAuthAbuseGuard())
}

func newAuthFixtureWithGuard(t *testing.T, guard AuthAbuseGuard) *authFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.AuthToken{}, &domain.TwoFactorConfirmation{}, &domain.Session{}, &domain.OAuthAccount{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		AuthLocalEnabled:                  true,
		AuthLocalRequireEmailVerification: true,
		JWTAccessTTL:                      15 * time.Minute,
		JWTRefreshTTL:                     168 * time.Hour,
		AuthEmailVerifyTokenTTL:           time.Hour,
		AuthPasswordResetTokenTTL:         time.Hour,
		AuthTwoFactorCodeTTL:              10 * time.Minute,
		RegisterThrottle:                  config.Throttle{Max: 3, Window: 10 * time.Minute},
		ResendVerifyThrottle:              config.Throttle{Max: 5, Window: 10 * time.Minute},
		LoginResendThrottle:               config.Throttle{Max: 3, Window: 10 * time.Minute},
		TwoFactorThrottle:                 config.Throttle{Max: 5, Window: 15 * time.Minute},
		PasswordResetThrottle:             config.Throttle{Max: 3, Window: 15 * time.Minute},
		TOTPIssuer:                        "AuthKit",
		FrontendBaseURL:                   "http://localhost:3000",
	}

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	confirmations := repository.NewTwoFactorConfirmationRepository(db)
	ledger := token.NewLedger(repository.NewAuthTokenRepository(db))
	engine := twofactor.NewEngine(users, confirmations, cfg.TOTPIssuer, 1)
	jwtMgr := security.NewJWTManager("authkit", "authkit-api", "access-secret-0123456789abcdef", "refresh-secret-0123456789abcdef")
	tokenSvc := NewTokenService(jwtMgr, sessions, "test-pepper", cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	sessionSvc := NewSessionService(tokenSvc, sessions, engine, "test-pepper", cfg.JWTAccessTTL)
	notifier := &recordingNotifier{}

	svc := NewAuthService(
		cfg, nil, sessionSvc, tokenSvc, users, ledger, engine,
		ratelimit.NewLocalFixedWindowLimiter(), guard,
		notifier, notifier, notifier,
	)
	return &authFixture{
		svc:        svc,
		sessionSvc: sessionSvc,
		users:      users,
		ledger:     ledger,
		engine:     engine,
		notifier:   notifier,
		cfg:        cfg,
	}
}

func (f *authFixture) registerVerifiedUser(t *testing.T, email string) *domain.User {
	t.Helper()
	ctx := context.Background()
	outcome, err := f.svc.Register(ctx, email, "", "Test User", testPassword, "ua", "1.2.3.4")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if outcome.Status != StatusVerificationEmailSent {
		t.Fatalf("register status = %s, want %s", outcome.Status, StatusVerificationEmailSent)
	}
	last := f.notifier.verifications[len(f.notifier.verifications)-1]
	if err := f.svc.ConfirmVerification(ctx, last.Token); err != nil {
		t.Fatalf("confirm verification: %v", err)
	}
	u, err := f.users.FindByEmail(email)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return u
}

func TestRegisterSendsVerificationEmail(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	outcome, err := f.svc.Register(ctx, "alice@example.com", "", "Alice", testPassword, "ua", "1.2.3.4")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if outcome.Status != StatusVerificationEmailSent {
		t.Fatalf("status = %s, want %s", outcome.Status, StatusVerificationEmailSent)
	}
	if len(f.notifier.verifications) != 1 {
		t.Fatalf("verifications sent = %d, want 1", len(f.notifier.verifications))
	}
	u, err := f.users.FindByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u.EmailVerified() {
		t.Fatal("user should not be verified before confirming")
	}

	if _, err := f.svc.Register(ctx, "alice@example.com", "", "Alice", testPassword, "ua", "1.2.3.4"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	f := newAuthFixture(t)

	for _, pw := range []string{"short", "alllowercase123!", "ALLUPPERCASE123!", "NoDigitsHere!!!", "NoSpecials12345"} {
		if _, err := f.svc.Register(context.Background(), "weak@example.com", "", "W", pw, "ua", "ip"); !errors.Is(err, ErrWeakPassword) {
			t.Errorf("password %q: expected ErrWeakPassword, got %v", pw, err)
		}
	}
}

func TestRegisterThrottledPerEmail(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	// First registration wins the email; repeats still consume the window.
	if _, err := f.svc.Register(ctx, "bob@example.com", "", "Bob", testPassword, "ua", "ip"); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Register(ctx, "bob@example.com", "", "Bob", testPassword, "ua", "ip"); !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	}
	if _, err := f.svc.Register(ctx, "bob@example.com", "", "Bob", testPassword, "ua", "ip"); !errors.Is(err, ErrThrottleExceeded) {
		t.Fatalf("expected ErrThrottleExceeded on fourth attempt, got %v", err)
	}
	// Other subjects are unaffected.
	if _, err := f.svc.Register(ctx, "carol@example.com", "", "Carol", testPassword, "ua", "ip"); err != nil {
		t.Fatalf("independent email blocked: %v", err)
	}
}

func TestAuthenticateCollapsesUnknownUserAndWrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.registerVerifiedUser(t, "dave@example.com")

	_, errUnknown := f.svc.Authenticate(ctx, "ghost@example.com", testPassword, "", "ua", "ip")
	_, errWrongPw := f.svc.Authenticate(ctx, "dave@example.com", "Wr0ng-Password!", "", "ua", "ip")

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", errUnknown)
	}
	if !errors.Is(errWrongPw, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", errWrongPw)
	}
	if errUnknown.Error() != errWrongPw.Error() {
		t.Fatal("unknown-user and wrong-password errors must be indistinguishable")
	}
}

func TestAuthenticateUnverifiedSendsFreshVerification(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "eve@example.com", "", "Eve", testPassword, "ua", "ip"); err != nil {
		t.Fatalf("register: %v", err)
	}
	firstToken := f.notifier.verifications[0].Token

	outcome, err := f.svc.Authenticate(ctx, "eve@example.com", testPassword, "", "ua", "ip")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if outcome.Status != StatusVerificationEmailSent {
		t.Fatalf("status = %s, want %s", outcome.Status, StatusVerificationEmailSent)
	}
	if len(f.notifier.verifications) != 2 {
		t.Fatalf("verifications sent = %d, want 2", len(f.notifier.verifications))
	}

	// Reissue killed the first token.
	if err := f.svc.ConfirmVerification(ctx, firstToken); !errors.Is(err, ErrInvalidVerifyToken) {
		t.Fatalf("expected first token dead, got %v", err)
	}
	if err := f.svc.ConfirmVerification(ctx, f.notifier.verifications[1].Token); err != nil {
		t.Fatalf("confirm with fresh token: %v", err)
	}
}

func TestAuthenticateGrantsSessionForVerifiedUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.registerVerifiedUser(t, "frank@example.com")

	outcome, err := f.svc.Authenticate(ctx, "frank@example.com", testPassword, "", "ua", "1.2.3.4")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if outcome.Status != StatusSessionGranted {
		t.Fatalf("status = %s, want %s", outcome.Status, StatusSessionGranted)
	}
	g := outcome.Grant
	if g == nil || g.AccessToken == "" || g.RefreshToken == "" || g.CSRFToken == "" {
		t.Fatal("incomplete session grant")
	}

	// Refresh rotates: the old refresh token dies with the rotation.
	rotated, err := f.svc.Refresh(ctx, g.RefreshToken, "ua", "1.2.3.4")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == g.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := f.svc.Refresh(ctx, g.RefreshToken, "ua", "1.2.3.4"); err == nil {
		t.Fatal("expected rotated-out refresh token to be rejected")
	}
}

func TestAuthenticateEmailCodeChallenge(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.registerVerifiedUser(t, "grace@example.com")

	u.TwoFactorEnabled = true
	if err := f.users.Update(u); err != nil {
		t.Fatalf("enable two factor: %v", err)
	}

	outcome, err := f.svc.Authenticate(ctx, "grace@example.com", testPassword, "", "ua", "ip")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if outcome.Status != StatusTwoFactorPending {
		t.Fatalf("status = %s, want %s", outcome.Status, StatusTwoFactorPending)
	}
	if len(f.notifier.codes) != 1 {
		t.Fatalf("codes sent = %d, want 1", len(f.notifier.codes))
	}
	code := f.notifier.codes[0].Code

	if _, err := f.svc.Authenticate(ctx, "grace@example.com", testPassword, "000000", "ua", "ip"); !errors.Is(err, twofactor.ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode for bogus code, got %v", err)
	}

	granted, err := f.svc.Authenticate(ctx, "grace@example.com", testPassword, code, "ua", "ip")
	if err != nil {
		t.Fatalf("authenticate with code: %v", err)
	}
	if granted.Status != StatusSessionGranted {
		t.Fatalf("status = %s, want %s", granted.Status, StatusSessionGranted)
	}

	// The emailed code is single-use.
	if _, err := f.svc.Authenticate(ctx, "grace@example.com", testPassword, code, "ua", "ip"); !errors.Is(err, twofactor.ErrInvalidTwoFactorCode) {
		t.Fatalf("expected reused code to fail, got %v", err)
	}
}

func TestEstablishRefusesTwoFactorWithoutConfirmation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.registerVerifiedUser(t, "heidi@example.com")

	u.TwoFactorEnabled = true
	if err := f.users.Update(u); err != nil {
		t.Fatalf("enable two factor: %v", err)
	}

	if _, err := f.sessionSvc.Establish(ctx, u, MethodCredentials, "ua", "ip"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// A confirmation marker admits exactly one grant.
	if err := f.engine.MarkConfirmed(ctx, u.ID); err != nil {
		t.Fatalf("mark confirmed: %v", err)
	}
	if _, err := f.sessionSvc.Establish(ctx, u, MethodCredentials, "ua", "ip"); err != nil {
		t.Fatalf("establish with confirmation: %v", err)
	}
	if _, err := f.sessionSvc.Establish(ctx, u, MethodCredentials, "ua", "ip"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected second establish to be refused, got %v", err)
	}
}

func TestEstablishRefusesUnverifiedCredentials(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "ivan@example.com", "", "Ivan", testPassword, "ua", "ip"); err != nil {
		t.Fatalf("register: %v", err)
	}
	u, err := f.users.FindByEmail("ivan@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}

	if _, err := f.sessionSvc.Establish(ctx, u, MethodCredentials, "ua", "ip"); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	// The same unverified user arriving via OAuth linking is admitted.
	if _, err := f.sessionSvc.Establish(ctx, u, MethodOAuth, "ua", "ip"); err != nil {
		t.Fatalf("oauth establish: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.registerVerifiedUser(t, "judy@example.com")

	// Unknown emails get the same silence as known ones.
	if err := f.svc.RequestPasswordReset(ctx, "ghost@example.com", "ip"); err != nil {
		t.Fatalf("reset for unknown email: %v", err)
	}
	if len(f.notifier.resets) != 0 {
		t.Fatal("no reset mail should go to unknown addresses")
	}

	if err := f.svc.RequestPasswordReset(ctx, "judy@example.com", "ip"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(f.notifier.resets) != 1 {
		t.Fatalf("resets sent = %d, want 1", len(f.notifier.resets))
	}
	resetToken := f.notifier.resets[0].Token

	const newPassword = "N3w-Sup3r$ecret!"
	if err := f.svc.ResetPassword(ctx, resetToken, newPassword); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	if _, err := f.svc.Authenticate(ctx, "judy@example.com", testPassword, "", "ua", "ip"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	outcome, err := f.svc.Authenticate(ctx, "judy@example.com", newPassword, "", "ua", "ip")
	if err != nil || outcome.Status != StatusSessionGranted {
		t.Fatalf("new password rejected: %v", err)
	}

	if err := f.svc.ResetPassword(ctx, resetToken, newPassword); !errors.Is(err, ErrInvalidVerifyToken) {
		t.Fatalf("expected consumed reset token to fail, got %v", err)
	}
}

func TestRequestPasswordResetThrottled(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.registerVerifiedUser(t, "kate@example.com")

	for i := 0; i < 3; i++ {
		if err := f.svc.RequestPasswordReset(ctx, "kate@example.com", "ip"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := f.svc.RequestPasswordReset(ctx, "kate@example.com", "ip"); !errors.Is(err, ErrThrottleExceeded) {
		t.Fatalf("expected ErrThrottleExceeded, got %v", err)
	}
}

func TestResendVerificationIsNeutralAndThrottled(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := f.svc.ResendVerification(ctx, "nobody@example.com"); err != nil {
			t.Fatalf("resend %d: %v", i, err)
		}
	}
	if err := f.svc.ResendVerification(ctx, "nobody@example.com"); !errors.Is(err, ErrThrottleExceeded) {
		t.Fatalf("expected ErrThrottleExceeded, got %v", err)
	}
	if len(f.notifier.verifications) != 0 {
		t.Fatal("no mail should go to unknown addresses")
	}
}

func TestDeliveryFailureSurfacesButKeepsToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.notifier.fail = true
	if _, err := f.svc.Register(ctx, "mallory@example.com", "", "Mallory", testPassword, "ua", "ip"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	// The issued token survives the failed delivery.
	u, err := f.users.FindByEmail("mallory@example.com")
	if err != nil {
		t.Fatalf("user should exist: %v", err)
	}
	if _, err := f.ledger.Active(ctx, domain.TokenKindEmailVerify, u.Email); err != nil {
		t.Fatalf("expected live verification token, got %v", err)
	}
}

func TestRegisterValidatesUsername(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "oscar@example.com", "oscar", "Oscar", testPassword, "ua", "ip"); err != nil {
		t.Fatalf("register with username: %v", err)
	}
	u, err := f.users.FindByEmailOrUsername("oscar")
	if err != nil {
		t.Fatalf("find by username: %v", err)
	}
	if u.Username == nil || *u.Username != "oscar" {
		t.Fatalf("stored username = %v, want oscar", u.Username)
	}

	if _, err := f.svc.Register(ctx, "other@example.com", "oscar", "Other", testPassword, "ua", "ip"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	for _, bad := range []string{"ab", "has space", "has@at", "-leading", "way.too.long.username.that.exceeds.the.cap"} {
		if _, err := f.svc.Register(ctx, "fresh@example.com", bad, "Fresh", testPassword, "ua", "ip"); !errors.Is(err, ErrInvalidUsername) {
			t.Errorf("username %q: expected ErrInvalidUsername, got %v", bad, err)
		}
	}
}

func TestAuthenticateAcceptsUsername(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "peggy@example.com", "peggy_1", "Peggy", testPassword, "ua", "ip"); err != nil {
		t.Fatalf("register: %v", err)
	}
	last := f.notifier.verifications[len(f.notifier.verifications)-1]
	if err := f.svc.ConfirmVerification(ctx, last.Token); err != nil {
		t.Fatalf("confirm verification: %v", err)
	}

	outcome, err := f.svc.Authenticate(ctx, "peggy_1", testPassword, "", "ua", "ip")
	if err != nil {
		t.Fatalf("authenticate by username: %v", err)
	}
	if outcome.Status != StatusSessionGranted {
		t.Fatalf("status = %s, want %s", outcome.Status, StatusSessionGranted)
	}
	if outcome.User.Email != "peggy@example.com" {
		t.Fatalf("resolved user = %s, want peggy@example.com", outcome.User.Email)
	}

	if _, err := f.svc.Authenticate(ctx, "peggy_1", "Wr0ng-Password!", "", "ua", "ip"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password by username: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRequestPasswordResetBacksOffRepeatedRequests(t *testing.T) {
	guard := NewInMemoryAuthAbuseGuard(AuthAbusePolicy{
		FreeAttempts: 1,
		BaseDelay:    time.Minute,
		Multiplier:   2,
		MaxDelay:     time.Hour,
		ResetWindow:  time.Hour,
	})
	f := newAuthFixtureWithGuard(t, guard)
	ctx := context.Background()

	// The first request counts against the backoff even though the
	// address is unknown, so repeats cool down the same either way.
	if err := f.svc.RequestPasswordReset(ctx, "ghost@example.com", "9.9.9.9"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, "ghost@example.com", "9.9.9.9"); err != nil {
		t.Fatalf("second request inside free attempts: %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, "ghost@example.com", "9.9.9.9"); !errors.Is(err, ErrThrottleExceeded) {
		t.Fatalf("expected ErrThrottleExceeded under cooldown, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.registerVerifiedUser(t, "nina@example.com")

	outcome, err := f.svc.Authenticate(ctx, "nina@example.com", testPassword, "", "ua", "ip")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	const newPassword = "An0ther-$ecret9!"
	if err := f.svc.ChangePassword(ctx, u.ID, "Wr0ng-Password!", newPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, u.ID, testPassword, newPassword); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, outcome.Grant.RefreshToken, "ua", "ip"); err == nil {
		t.Fatal("expected pre-change session to be revoked")
	}
}
