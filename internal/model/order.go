package model

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
)

type ShippingAddress struct {
	FirstName string `gorm:"size:64"`
	LastName  string `gorm:"size:64"`
	Email     string `gorm:"size:128"`
	Phone     string `gorm:"size:16"`
	Street    string `gorm:"size:255"`
	City      string `gorm:"size:64"`
	State     string `gorm:"size:64"`
	ZipCode   string `gorm:"size:16"`
}

func (a ShippingAddress) FullName() string {
	return a.FirstName + " " + a.LastName
}

// Order amounts are in minor units.
type Order struct {
	ID                uint            `gorm:"primaryKey"`
	OrderNumber       string          `gorm:"size:64;uniqueIndex;not null"`
	UserID            string          `gorm:"size:64;index;not null"`
	Items             []OrderItem     `gorm:"foreignKey:OrderID"`
	ShippingAddress   ShippingAddress `gorm:"embedded;embeddedPrefix:ship_"`
	ShippingMethod    ShippingMethod  `gorm:"size:16;not null"`
	Subtotal          int64           `gorm:"not null"`
	ShippingCost      int64           `gorm:"not null"`
	Total             int64           `gorm:"not null"`
	Currency          string          `gorm:"size:8;not null"`
	Status            OrderStatus     `gorm:"size:16;index;not null"`
	PaymentStatus     PaymentStatus   `gorm:"size:16;index;not null"`
	GatewayOrderID    string          `gorm:"size:64;uniqueIndex;not null"`
	GatewayPaymentID  string          `gorm:"size:64"`
	PaidAt            *time.Time
	CoinsAwarded      bool   `gorm:"not null;default:false"`
	CoinsGiven        int64  `gorm:"not null;default:0"`
	Notes             string `gorm:"size:500"`
	EstimatedDelivery *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type OrderItem struct {
	ID        uint   `gorm:"primaryKey"`
	OrderID   uint   `gorm:"index;not null"`
	ProductID string `gorm:"size:64;index"`
	Name      string `gorm:"size:255;not null"`
	Image     string `gorm:"size:512"`
	UnitPrice int64  `gorm:"not null"`
	Quantity  int32  `gorm:"not null"`
	CreatedAt time.Time
}

func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}
