package repository

import (
	"errors"

	"github.com/sandeepkv93/authkit/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TwoFactorConfirmationRepository stores the one-shot marker left behind by
// a successful second-factor check. Granting a session consumes it.
type TwoFactorConfirmationRepository interface {
	Upsert(userID uint) error
	Exists(userID uint) (bool, error)
	// ConsumeByUserID deletes the marker and reports whether one existed.
	ConsumeByUserID(userID uint) (bool, error)
}

type GormTwoFactorConfirmationRepository struct{ db *gorm.DB }

func NewTwoFactorConfirmationRepository(db *gorm.DB) TwoFactorConfirmationRepository {
	return &GormTwoFactorConfirmationRepository{db: db}
}

func (r *GormTwoFactorConfirmationRepository) Upsert(userID uint) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&domain.TwoFactorConfirmation{UserID: userID}).Error
}

func (r *GormTwoFactorConfirmationRepository) Exists(userID uint) (bool, error) {
	var c domain.TwoFactorConfirmation
	err := r.db.Where("user_id = ?", userID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *GormTwoFactorConfirmationRepository) ConsumeByUserID(userID uint) (bool, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&domain.TwoFactorConfirmation{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
