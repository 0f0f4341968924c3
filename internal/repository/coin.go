package repository

import (
	"context"
	"errors"
	"time"

	"storefront-checkout/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CoinRepository interface {
	// InsertEntry records entry unless the same (payment, direction, ref)
	// exists already. It reports whether a row was inserted.
	InsertEntry(ctx context.Context, tx *gorm.DB, entry *model.CoinEntry) (bool, error)
	AddBalance(ctx context.Context, tx *gorm.DB, userID string, coins int64) error
	DeductBalance(ctx context.Context, tx *gorm.DB, userID string, coins int64) (int64, error)
	SumEntries(ctx context.Context, tx *gorm.DB, paymentID uint, direction model.CoinDirection) (int64, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]*model.CoinEntry, error)
}

type coinRepoImpl struct {
	db *gorm.DB
}

func NewCoinRepository(db *gorm.DB) CoinRepository {
	return &coinRepoImpl{
		db: db,
	}
}

func (r *coinRepoImpl) InsertEntry(ctx context.Context, tx *gorm.DB, entry *model.CoinEntry) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

// AddBalance creates the user's balance row on first award.
func (r *coinRepoImpl) AddBalance(ctx context.Context, tx *gorm.DB, userID string, coins int64) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"coins":      gorm.Expr("users.coins + ?", coins),
			"updated_at": time.Now(),
		}),
	}).Create(&model.User{ID: userID, Coins: coins}).Error
}

// DeductBalance removes up to coins from the balance, never going below zero,
// and returns how many were actually removed.
func (r *coinRepoImpl) DeductBalance(ctx context.Context, tx *gorm.DB, userID string, coins int64) (int64, error) {
	var user model.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	deducted := min(user.Coins, coins)
	if deducted <= 0 {
		return 0, nil
	}

	result := tx.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND coins >= ?", userID, deducted).
		Updates(map[string]any{
			"coins":      gorm.Expr("coins - ?", deducted),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, nil
	}

	return deducted, nil
}

func (r *coinRepoImpl) SumEntries(ctx context.Context, tx *gorm.DB, paymentID uint, direction model.CoinDirection) (int64, error) {
	var sum int64
	err := tx.WithContext(ctx).Model(&model.CoinEntry{}).
		Where("payment_id = ? AND direction = ?", paymentID, direction).
		Select("COALESCE(SUM(coins), 0)").
		Scan(&sum).Error

	return sum, err
}

func (r *coinRepoImpl) GetBalance(ctx context.Context, userID string) (int64, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return user.Coins, nil
}

func (r *coinRepoImpl) ListEntries(ctx context.Context, userID string, limit int) ([]*model.CoinEntry, error) {
	var entries []*model.CoinEntry

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return entries, nil
}
