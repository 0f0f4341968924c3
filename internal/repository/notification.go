package repository

import (
	"context"
	"time"

	"storefront-checkout/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NotificationRepository interface {
	Enqueue(ctx context.Context, tx *gorm.DB, n *model.Notification) (bool, error)
	FindPending(ctx context.Context, limit int) ([]*model.Notification, error)
	MarkSent(ctx context.Context, id uint) error
	MarkAttemptFailed(ctx context.Context, id uint, reason string, maxAttempts int) error
}

type notificationRepoImpl struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepoImpl{db: db}
}

// Enqueue inserts n once per (payment, kind); replays are ignored.
func (r *notificationRepoImpl) Enqueue(ctx context.Context, tx *gorm.DB, n *model.Notification) (bool, error) {
	n.Status = model.NotificationPending
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *notificationRepoImpl) FindPending(ctx context.Context, limit int) ([]*model.Notification, error) {
	var items []*model.Notification
	err := r.db.WithContext(ctx).
		Where("status = ?", model.NotificationPending).
		Order("id").
		Limit(limit).
		Find(&items).Error

	return items, err
}

func (r *notificationRepoImpl) MarkSent(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND status = ?", id, model.NotificationPending).
		Updates(map[string]any{
			"status":     model.NotificationSent,
			"attempts":   gorm.Expr("attempts + 1"),
			"sent_at":    now,
			"updated_at": now,
		}).Error
}

// MarkAttemptFailed counts a failed delivery and gives up after maxAttempts.
func (r *notificationRepoImpl) MarkAttemptFailed(ctx context.Context, id uint, reason string, maxAttempts int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Notification{}).
			Where("id = ? AND status = ?", id, model.NotificationPending).
			Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": Truncate(reason, 512),
				"updated_at": time.Now(),
			}).Error
		if err != nil {
			return err
		}

		return tx.Model(&model.Notification{}).
			Where("id = ? AND status = ? AND attempts >= ?", id, model.NotificationPending, maxAttempts).
			Update("status", model.NotificationFailed).Error
	})
}
