package twofactor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/authkit/internal/repository"
)

var (
	ErrInvalidTwoFactorCode    = errors.New("invalid two factor code")
	ErrTwoFactorAlreadyEnabled = errors.New("two factor already enabled")
	ErrTwoFactorNotSetUp       = errors.New("two factor not set up")
)

// Setup holds everything the client needs to enroll an authenticator app.
type Setup struct {
	Secret       string
	ProvisionURI string
}

// Engine drives authenticator enrollment and code verification. A secret is
// generated once per user and survives repeated setup calls until the user
// either confirms it or abandons enrollment.
type Engine struct {
	users         repository.UserRepository
	confirmations repository.TwoFactorConfirmationRepository
	issuer        string
	skew          int
	now           func() time.Time
}

func NewEngine(users repository.UserRepository, confirmations repository.TwoFactorConfirmationRepository, issuer string, skew int) *Engine {
	if skew > 1 {
		slog.Warn("totp skew widened beyond one step, acceptable in tests only",
			"skew", skew,
		)
	}
	return &Engine{
		users:         users,
		confirmations: confirmations,
		issuer:        issuer,
		skew:          skew,
		now:           time.Now,
	}
}

// BeginSetup returns the user's pending secret, minting one only if none
// exists yet. Calling it twice hands back the same secret, so a user who
// scanned the QR code but never confirmed can resume enrollment.
func (e *Engine) BeginSetup(_ context.Context, userID uint) (*Setup, error) {
	user, err := e.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if user.TwoFactorSecret == "" {
		secret, err := NewTOTPSecret()
		if err != nil {
			return nil, err
		}
		user.TwoFactorSecret = secret
		if err := e.users.Update(user); err != nil {
			return nil, err
		}
	}
	return &Setup{
		Secret:       user.TwoFactorSecret,
		ProvisionURI: ProvisionURI(e.issuer, user.Email, user.TwoFactorSecret),
	}, nil
}

// CompleteSetup verifies the first code from the enrolled app and flips the
// account to two-factor required.
func (e *Engine) CompleteSetup(ctx context.Context, userID uint, code string) error {
	user, err := e.users.FindByID(userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}
	if user.TwoFactorSecret == "" {
		return ErrTwoFactorNotSetUp
	}
	ok, err := VerifyTOTP(user.TwoFactorSecret, code, e.now(), e.skew)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTwoFactorCode
	}
	user.TwoFactorEnabled = true
	return e.users.Update(user)
}

// Disable turns the second factor off and discards the secret along with any
// pending confirmation marker.
func (e *Engine) Disable(_ context.Context, userID uint) error {
	user, err := e.users.FindByID(userID)
	if err != nil {
		return err
	}
	user.TwoFactorEnabled = false
	user.TwoFactorSecret = ""
	if err := e.users.Update(user); err != nil {
		return err
	}
	_, err = e.confirmations.ConsumeByUserID(userID)
	return err
}

// VerifyCode checks a login-challenge TOTP code for an enabled account.
func (e *Engine) VerifyCode(_ context.Context, userID uint, code string) error {
	user, err := e.users.FindByID(userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == "" {
		return ErrTwoFactorNotSetUp
	}
	ok, err := VerifyTOTP(user.TwoFactorSecret, code, e.now(), e.skew)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTwoFactorCode
	}
	return nil
}

// MarkConfirmed records that the user passed a second-factor challenge.
// The next session grant consumes the marker.
func (e *Engine) MarkConfirmed(_ context.Context, userID uint) error {
	return e.confirmations.Upsert(userID)
}

// ConsumeConfirmation removes the marker, reporting whether one existed.
func (e *Engine) ConsumeConfirmation(_ context.Context, userID uint) (bool, error) {
	return e.confirmations.ConsumeByUserID(userID)
}
