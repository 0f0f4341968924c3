package repository

import (
	"context"
	"time"

	"storefront-checkout/internal/model"

	"gorm.io/gorm"
)

type RefundRepository interface {
	Create(ctx context.Context, tx *gorm.DB, refund *model.Refund) error
	MarkProcessed(ctx context.Context, tx *gorm.DB, id uint, gatewayRefundID string) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, id uint, reason string) (bool, error)
	SumProcessed(ctx context.Context, tx *gorm.DB, paymentAttemptID uint) (int64, error)
}

type refundRepoImpl struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepoImpl{
		db: db,
	}
}

func (r *refundRepoImpl) Create(ctx context.Context, tx *gorm.DB, refund *model.Refund) error {
	return tx.WithContext(ctx).Create(refund).Error
}

func (r *refundRepoImpl) MarkProcessed(ctx context.Context, tx *gorm.DB, id uint, gatewayRefundID string) (bool, error) {
	now := time.Now()
	return r.finish(ctx, tx, id, map[string]any{
		"status":            model.RefundProcessed,
		"gateway_refund_id": gatewayRefundID,
		"processed_at":      now,
		"updated_at":        now,
	})
}

func (r *refundRepoImpl) MarkFailed(ctx context.Context, tx *gorm.DB, id uint, reason string) (bool, error) {
	return r.finish(ctx, tx, id, map[string]any{
		"status":         model.RefundFailed,
		"failure_reason": Truncate(reason, 512),
		"updated_at":     time.Now(),
	})
}

// finish moves a pending refund to its final status exactly once.
func (r *refundRepoImpl) finish(ctx context.Context, tx *gorm.DB, id uint, updates map[string]any) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Refund{}).
		Where("id = ? AND status = ?", id, model.RefundPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *refundRepoImpl) SumProcessed(ctx context.Context, tx *gorm.DB, paymentAttemptID uint) (int64, error) {
	var sum int64
	err := tx.WithContext(ctx).Model(&model.Refund{}).
		Where("payment_attempt_id = ? AND status = ?", paymentAttemptID, model.RefundProcessed).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error

	return sum, err
}

// Truncate cuts s to at most n runes so stored text stays valid UTF-8.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
