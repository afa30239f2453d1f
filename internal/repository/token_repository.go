package repository

import (
	"errors"
	"time"

	"github.com/sandeepkv93/authkit/internal/domain"

	"gorm.io/gorm"
)

var ErrAuthTokenNotFound = errors.New("auth token not found")

// AuthTokenRepository backs the single-use token ledger. At most one live
// token exists per (kind, subject) pair; issuing a replacement deletes the
// predecessor first.
type AuthTokenRepository interface {
	Create(token *domain.AuthToken) error
	FindByValueHash(kind domain.TokenKind, valueHash string) (*domain.AuthToken, error)
	FindBySubject(kind domain.TokenKind, subjectKey string) (*domain.AuthToken, error)
	DeleteBySubject(kind domain.TokenKind, subjectKey string) error
	// DeleteByID removes the token and reports whether this caller won the
	// delete. Concurrent consumers race on the row; only one sees true.
	DeleteByID(id uint) (bool, error)
	PurgeExpired(now time.Time) (int64, error)
}

type GormAuthTokenRepository struct{ db *gorm.DB }

func NewAuthTokenRepository(db *gorm.DB) AuthTokenRepository {
	return &GormAuthTokenRepository{db: db}
}

func (r *GormAuthTokenRepository) Create(token *domain.AuthToken) error {
	return r.db.Create(token).Error
}

func (r *GormAuthTokenRepository) FindByValueHash(kind domain.TokenKind, valueHash string) (*domain.AuthToken, error) {
	var t domain.AuthToken
	err := r.db.Where("kind = ? AND value_hash = ?", kind, valueHash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuthTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *GormAuthTokenRepository) FindBySubject(kind domain.TokenKind, subjectKey string) (*domain.AuthToken, error) {
	var t domain.AuthToken
	err := r.db.Where("kind = ? AND subject_key = ?", kind, subjectKey).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuthTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *GormAuthTokenRepository) DeleteBySubject(kind domain.TokenKind, subjectKey string) error {
	return r.db.Where("kind = ? AND subject_key = ?", kind, subjectKey).
		Delete(&domain.AuthToken{}).Error
}

func (r *GormAuthTokenRepository) DeleteByID(id uint) (bool, error) {
	res := r.db.Delete(&domain.AuthToken{}, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormAuthTokenRepository) PurgeExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&domain.AuthToken{})
	return res.RowsAffected, res.Error
}
