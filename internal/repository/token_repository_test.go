package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/authkit/internal/domain"
)

func newTokenRepoForTest(t *testing.T) AuthTokenRepository {
	t.Helper()
	db := newRepositoryDBForTest(t)
	if err := db.AutoMigrate(&domain.AuthToken{}); err != nil {
		t.Fatalf("migrate auth tokens: %v", err)
	}
	return NewAuthTokenRepository(db)
}

func TestAuthTokenRepositoryCreateAndFind(t *testing.T) {
	repo := newTokenRepoForTest(t)

	token := &domain.AuthToken{
		Kind:       domain.TokenKindEmailVerify,
		SubjectKey: "alice@example.com",
		ValueHash:  "opaque-value",
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := repo.Create(token); err != nil {
		t.Fatalf("create: %v", err)
	}

	byValue, err := repo.FindByValueHash(domain.TokenKindEmailVerify, "opaque-value")
	if err != nil {
		t.Fatalf("find by value: %v", err)
	}
	if byValue.SubjectKey != "alice@example.com" {
		t.Errorf("subject = %q, want alice@example.com", byValue.SubjectKey)
	}

	bySubject, err := repo.FindBySubject(domain.TokenKindEmailVerify, "alice@example.com")
	if err != nil {
		t.Fatalf("find by subject: %v", err)
	}
	if bySubject.ID != token.ID {
		t.Errorf("id = %d, want %d", bySubject.ID, token.ID)
	}

	// A token of another kind with the same subject must not be visible.
	if _, err := repo.FindBySubject(domain.TokenKindPasswordReset, "alice@example.com"); !errors.Is(err, ErrAuthTokenNotFound) {
		t.Fatalf("expected ErrAuthTokenNotFound across kinds, got %v", err)
	}
}

func TestAuthTokenRepositoryDeleteBySubjectReplacesPredecessor(t *testing.T) {
	repo := newTokenRepoForTest(t)

	old := &domain.AuthToken{
		Kind:       domain.TokenKindPasswordReset,
		SubjectKey: "bob@example.com",
		ValueHash:  "old-value",
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := repo.Create(old); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.DeleteBySubject(domain.TokenKindPasswordReset, "bob@example.com"); err != nil {
		t.Fatalf("delete by subject: %v", err)
	}
	if _, err := repo.FindByValueHash(domain.TokenKindPasswordReset, "old-value"); !errors.Is(err, ErrAuthTokenNotFound) {
		t.Fatalf("expected predecessor gone, got %v", err)
	}

	replacement := &domain.AuthToken{
		Kind:       domain.TokenKindPasswordReset,
		SubjectKey: "bob@example.com",
		ValueHash:  "new-value",
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := repo.Create(replacement); err != nil {
		t.Fatalf("create replacement: %v", err)
	}
}

func TestAuthTokenRepositoryDeleteByIDIsSingleWinner(t *testing.T) {
	repo := newTokenRepoForTest(t)

	token := &domain.AuthToken{
		Kind:       domain.TokenKindTwoFactorEmail,
		SubjectKey: "carol@example.com",
		ValueHash:  "123456",
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}
	if err := repo.Create(token); err != nil {
		t.Fatalf("create: %v", err)
	}

	won, err := repo.DeleteByID(token.ID)
	if err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if !won {
		t.Fatal("first delete should win the row")
	}

	won, err = repo.DeleteByID(token.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if won {
		t.Fatal("second delete must not report a win")
	}
}

func TestAuthTokenRepositoryPurgeExpired(t *testing.T) {
	repo := newTokenRepoForTest(t)
	now := time.Now()

	expired := &domain.AuthToken{
		Kind:       domain.TokenKindEmailVerify,
		SubjectKey: "stale@example.com",
		ValueHash:  "stale",
		ExpiresAt:  now.Add(-time.Minute),
	}
	live := &domain.AuthToken{
		Kind:       domain.TokenKindEmailVerify,
		SubjectKey: "fresh@example.com",
		ValueHash:  "fresh",
		ExpiresAt:  now.Add(time.Hour),
	}
	if err := repo.Create(expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if err := repo.Create(live); err != nil {
		t.Fatalf("create live: %v", err)
	}

	purged, err := repo.PurgeExpired(now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := repo.FindByValueHash(domain.TokenKindEmailVerify, "fresh"); err != nil {
		t.Fatalf("live token should survive purge: %v", err)
	}
}
