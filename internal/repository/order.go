package repository

import (
	"context"
	"errors"
	"time"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	FindByID(ctx context.Context, tx *gorm.DB, id uint) (*model.Order, error)
	FindByIDs(ctx context.Context, ids []uint) ([]*model.Order, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uint) (*model.Order, error)
	FindByOrderNumber(ctx context.Context, tx *gorm.DB, orderNumber, userID string) (*model.Order, error)
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, from model.OrderStatus, updates map[string]any) (bool, error)
	Update(ctx context.Context, tx *gorm.DB, id uint, updates map[string]any) error
	MarkCoinsAwarded(ctx context.Context, tx *gorm.DB, id uint, coins int64) (bool, error)
	FindPaidWithoutCoins(ctx context.Context, limit int) ([]*model.Order, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Create(order).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, id uint) (*model.Order, error) {
	if tx == nil {
		tx = r.db
	}

	var order model.Order
	if err := tx.WithContext(ctx).Preload("Items").First(&order, id).Error; err != nil {
		return nil, notFound(err, "order %d not found", id)
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByIDs(ctx context.Context, ids []uint) ([]*model.Order, error) {
	var orders []*model.Order
	if len(ids) == 0 {
		return orders, nil
	}

	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&orders).Error
	if err != nil {
		return nil, err
	}

	return orders, nil
}

// LockByID re-reads the order inside tx, taking a row lock where supported.
func (r *orderRepoImpl) LockByID(ctx context.Context, tx *gorm.DB, id uint) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, id).Error
	if err != nil {
		return nil, notFound(err, "order %d not found", id)
	}

	return &order, nil
}

// FindByOrderNumber scopes the lookup to userID when it is not empty.
func (r *orderRepoImpl) FindByOrderNumber(ctx context.Context, tx *gorm.DB, orderNumber, userID string) (*model.Order, error) {
	if tx == nil {
		tx = r.db
	}

	q := tx.WithContext(ctx).Preload("Items").Where("order_number = ?", orderNumber)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var order model.Order
	if err := q.First(&order).Error; err != nil {
		return nil, notFound(err, "order %s not found", orderNumber)
	}

	return &order, nil
}

func (r *orderRepoImpl) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_number = ?", orderNumber).
		Count(&count).Error

	return count > 0, err
}

// UpdateStatus applies updates only while the order is still in status from.
// It reports whether the row was changed.
func (r *orderRepoImpl) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, from model.OrderStatus, updates map[string]any) (bool, error) {
	updates["updated_at"] = time.Now()

	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) Update(ctx context.Context, tx *gorm.DB, id uint, updates map[string]any) error {
	updates["updated_at"] = time.Now()

	return tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkCoinsAwarded flips coins_awarded from false to true. Only the caller
// that flips it may award coins.
func (r *orderRepoImpl) MarkCoinsAwarded(ctx context.Context, tx *gorm.DB, id uint, coins int64) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where(`
			id = ?
			AND coins_awarded = ?
		`,
			id,
			false,
		).
		Updates(map[string]any{
			"coins_awarded": true,
			"coins_given":   coins,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) FindPaidWithoutCoins(ctx context.Context, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND coins_awarded = ?", model.PaymentPaid, false).
		Order("id").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	return orders, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.KindNotFound, format, args...)
	}
	return err
}
