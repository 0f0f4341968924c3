package model

import "time"

type AttemptStatus string

const (
	AttemptCreated   AttemptStatus = "created"
	AttemptPending   AttemptStatus = "pending"
	AttemptPaid      AttemptStatus = "paid"
	AttemptFailed    AttemptStatus = "failed"
	AttemptCancelled AttemptStatus = "cancelled"
	AttemptRefunded  AttemptStatus = "refunded"
)

// OpenAttemptStatuses are the statuses a gateway outcome can still move.
var OpenAttemptStatuses = []AttemptStatus{AttemptCreated, AttemptPending}

func (s AttemptStatus) IsOpen() bool {
	return s == AttemptCreated || s == AttemptPending
}

// PaymentAttempt is keyed by GatewayOrderID, the merchant transaction id sent
// to the gateway. Amount is immutable after insert.
type PaymentAttempt struct {
	ID               uint          `gorm:"primaryKey"`
	GatewayOrderID   string        `gorm:"size:64;uniqueIndex;not null"`
	OrderID          uint          `gorm:"uniqueIndex;not null"`
	UserID           string        `gorm:"size:64;index;not null"`
	Amount           int64         `gorm:"not null"`
	Currency         string        `gorm:"size:8;not null"`
	Status           AttemptStatus `gorm:"size:16;index;not null"`
	GatewayState     string        `gorm:"size:32"`
	ResponseCode     string        `gorm:"size:64"`
	GatewayPaymentID string        `gorm:"size:64;index"`
	Email            string        `gorm:"size:128"`
	Contact          string        `gorm:"size:16"`
	RedirectURL      string        `gorm:"size:1024"`
	ExpiresAt        *time.Time
	PaidAt           *time.Time
	FailureReason    string `gorm:"size:512"`
	// RefundedAmount includes refunds still in flight at the gateway.
	RefundedAmount int64    `gorm:"not null;default:0"`
	Refunds        []Refund `gorm:"foreignKey:PaymentAttemptID"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p *PaymentAttempt) RemainingRefundable() int64 {
	return p.Amount - p.RefundedAmount
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

type Refund struct {
	ID               uint         `gorm:"primaryKey"`
	RefundID         string       `gorm:"size:64;uniqueIndex;not null"`
	PaymentAttemptID uint         `gorm:"index;not null"`
	Amount           int64        `gorm:"not null"`
	Currency         string       `gorm:"size:8;not null"`
	Status           RefundStatus `gorm:"size:16;not null"`
	Reason           string       `gorm:"size:255"`
	GatewayRefundID  string       `gorm:"size:64"`
	FailureReason    string       `gorm:"size:512"`
	ProcessedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
