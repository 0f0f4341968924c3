package repository

import (
	"context"
	"time"

	"storefront-checkout/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt) error
	FindByGatewayOrderID(ctx context.Context, tx *gorm.DB, gatewayOrderID, userID string) (*model.PaymentAttempt, error)
	FindByOrderID(ctx context.Context, tx *gorm.DB, orderID uint) (*model.PaymentAttempt, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uint) (*model.PaymentAttempt, error)
	Transition(ctx context.Context, tx *gorm.DB, id uint, from []model.AttemptStatus, updates map[string]any) (bool, error)
	ReserveRefund(ctx context.Context, tx *gorm.DB, id uint, amount int64) (bool, error)
	ReleaseRefund(ctx context.Context, tx *gorm.DB, id uint, amount int64) error
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*model.PaymentAttempt, int64, error)
	FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error)
}

type paymentRepoImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepoImpl{
		db: db,
	}
}

func (r *paymentRepoImpl) Create(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt) error {
	return tx.WithContext(ctx).Create(attempt).Error
}

// FindByGatewayOrderID scopes the lookup to userID when it is not empty.
func (r *paymentRepoImpl) FindByGatewayOrderID(ctx context.Context, tx *gorm.DB, gatewayOrderID, userID string) (*model.PaymentAttempt, error) {
	if tx == nil {
		tx = r.db
	}

	q := tx.WithContext(ctx).
		Preload("Refunds", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("gateway_order_id = ?", gatewayOrderID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var attempt model.PaymentAttempt
	if err := q.First(&attempt).Error; err != nil {
		return nil, notFound(err, "payment %s not found", gatewayOrderID)
	}

	return &attempt, nil
}

func (r *paymentRepoImpl) FindByOrderID(ctx context.Context, tx *gorm.DB, orderID uint) (*model.PaymentAttempt, error) {
	if tx == nil {
		tx = r.db
	}

	var attempt model.PaymentAttempt
	err := tx.WithContext(ctx).
		Preload("Refunds").
		Where("order_id = ?", orderID).
		First(&attempt).Error
	if err != nil {
		return nil, notFound(err, "payment for order %d not found", orderID)
	}

	return &attempt, nil
}

// LockByID re-reads the attempt inside tx, taking a row lock where supported.
func (r *paymentRepoImpl) LockByID(ctx context.Context, tx *gorm.DB, id uint) (*model.PaymentAttempt, error) {
	var attempt model.PaymentAttempt
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&attempt, id).Error
	if err != nil {
		return nil, notFound(err, "payment %d not found", id)
	}

	return &attempt, nil
}

// Transition applies updates only while the attempt status is one of from.
// It reports whether the row was changed.
func (r *paymentRepoImpl) Transition(ctx context.Context, tx *gorm.DB, id uint, from []model.AttemptStatus, updates map[string]any) (bool, error) {
	updates["updated_at"] = time.Now()

	result := tx.WithContext(ctx).Model(&model.PaymentAttempt{}).
		Where(`
			id = ?
			AND status IN ?
		`,
			id,
			from,
		).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

// ReserveRefund adds amount to refunded_amount if the attempt is paid and the
// total stays within the original amount.
func (r *paymentRepoImpl) ReserveRefund(ctx context.Context, tx *gorm.DB, id uint, amount int64) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.PaymentAttempt{}).
		Where("id = ? AND status = ? AND refunded_amount + ? <= amount", id, model.AttemptPaid, amount).
		Updates(map[string]any{
			"refunded_amount": gorm.Expr("refunded_amount + ?", amount),
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *paymentRepoImpl) ReleaseRefund(ctx context.Context, tx *gorm.DB, id uint, amount int64) error {
	return tx.WithContext(ctx).Model(&model.PaymentAttempt{}).
		Where("id = ? AND refunded_amount >= ?", id, amount).
		Updates(map[string]any{
			"refunded_amount": gorm.Expr("refunded_amount - ?", amount),
			"updated_at":      time.Now(),
		}).Error
}

func (r *paymentRepoImpl) ListByUser(ctx context.Context, userID string, offset, limit int) ([]*model.PaymentAttempt, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.PaymentAttempt{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var attempts []*model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Preload("Refunds").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

// FindStale returns open attempts created before olderThan, oldest first.
func (r *paymentRepoImpl) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	var attempts []*model.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", model.OpenAttemptStatuses, olderThan).
		Order("created_at").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}

	return attempts, nil
}
