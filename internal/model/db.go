package model

import "time"

// Models returns every table owned by the checkout core, in migration order.
func Models() []any {
	return []any{
		&User{},
		&Order{},
		&OrderItem{},
		&PaymentAttempt{},
		&Refund{},
		&CoinEntry{},
		&Notification{},
	}
}

// User is owned by the account service; only the coin balance is written here.
type User struct {
	ID        string `gorm:"primaryKey;size:64;not null"`
	Coins     int64  `gorm:"not null;default:0;check:coins >= 0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CoinDirection string

const (
	CoinAward  CoinDirection = "award"
	CoinDeduct CoinDirection = "deduct"
)

// CoinEntry records one award or deduction; the unique index makes each
// (payment, direction, ref) apply at most once.
type CoinEntry struct {
	ID        uint          `gorm:"primaryKey"`
	UserID    string        `gorm:"size:64;index;not null"`
	PaymentID uint          `gorm:"uniqueIndex:idx_coin_entry_once;not null"`
	Direction CoinDirection `gorm:"size:16;uniqueIndex:idx_coin_entry_once;not null"`
	RefID     string        `gorm:"size:64;uniqueIndex:idx_coin_entry_once;not null"`
	Coins     int64         `gorm:"not null"`
	Reason    string        `gorm:"size:255"`
	CreatedAt time.Time
}

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

const NotificationOrderConfirmation = "order_confirmation"

// Notification is an outbox row written in the payment-success transaction.
type Notification struct {
	ID        uint               `gorm:"primaryKey"`
	PaymentID uint               `gorm:"uniqueIndex:idx_notification_once;not null"`
	Kind      string             `gorm:"size:32;uniqueIndex:idx_notification_once;not null"`
	OrderID   uint               `gorm:"index;not null"`
	Status    NotificationStatus `gorm:"size:16;index;not null"`
	Attempts  int                `gorm:"not null;default:0"`
	LastError string             `gorm:"size:512"`
	SentAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
