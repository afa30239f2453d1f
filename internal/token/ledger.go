package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/authkit/internal/domain"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/security"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

const (
	emailCodeDigits  = 6
	opaqueValueBytes = 32
)

// Ledger manages single-use, time-bound tokens. Issuing a token replaces any
// live predecessor for the same (kind, subject) pair, and consuming one is
// atomic: under concurrent consume calls exactly one caller succeeds.
type Ledger struct {
	repo repository.AuthTokenRepository
	now  func() time.Time
}

func NewLedger(repo repository.AuthTokenRepository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Issue mints a fresh token for the subject. Email-code tokens carry a
// 6-digit numeric value; every other kind gets a 256-bit opaque value. Only
// the digest is persisted; the returned struct carries the plaintext for
// delivery and nothing else ever sees it again.
func (l *Ledger) Issue(_ context.Context, kind domain.TokenKind, subjectKey string, ttl time.Duration) (*domain.AuthToken, error) {
	value, err := newTokenValue(kind)
	if err != nil {
		return nil, err
	}
	if err := l.repo.DeleteBySubject(kind, subjectKey); err != nil {
		return nil, err
	}
	t := &domain.AuthToken{
		Kind:       kind,
		SubjectKey: subjectKey,
		ValueHash:  digest(value),
		ExpiresAt:  l.now().Add(ttl),
	}
	if err := l.repo.Create(t); err != nil {
		return nil, err
	}
	t.Value = value
	return t, nil
}

// Consume looks up the token by its digest and deletes it in the same step.
// Expired tokens are purged on sight and reported as ErrTokenExpired.
func (l *Ledger) Consume(_ context.Context, kind domain.TokenKind, value string) (*domain.AuthToken, error) {
	t, err := l.repo.FindByValueHash(kind, digest(strings.TrimSpace(value)))
	if err != nil {
		if errors.Is(err, repository.ErrAuthTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if t.Expired(l.now()) {
		_, _ = l.repo.DeleteByID(t.ID)
		return nil, ErrTokenExpired
	}
	won, err := l.repo.DeleteByID(t.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Another consumer took the row between the read and the delete.
		return nil, ErrTokenNotFound
	}
	return t, nil
}

// Active returns the live token for a subject, purging it if stale.
func (l *Ledger) Active(_ context.Context, kind domain.TokenKind, subjectKey string) (*domain.AuthToken, error) {
	t, err := l.repo.FindBySubject(kind, subjectKey)
	if err != nil {
		if errors.Is(err, repository.ErrAuthTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if t.Expired(l.now()) {
		_, _ = l.repo.DeleteByID(t.ID)
		return nil, ErrTokenExpired
	}
	return t, nil
}

// PurgeExpired sweeps every expired token regardless of kind.
func (l *Ledger) PurgeExpired(_ context.Context) (int64, error) {
	return l.repo.PurgeExpired(l.now())
}

func newTokenValue(kind domain.TokenKind) (string, error) {
	if kind == domain.TokenKindTwoFactorEmail {
		return security.NewNumericCode(emailCodeDigits)
	}
	return security.NewRandomString(opaqueValueBytes)
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
