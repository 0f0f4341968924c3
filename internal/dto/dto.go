package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts in requests and responses are in major units (rupees).

type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int32           `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

type ShippingAddress struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Street    string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
}

type CreateOrderRequest struct {
	Items           []*Item         `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	ShippingMethod  string          `json:"shippingMethod"`
	Notes           string          `json:"notes"`
}

type CreateOrderResponse struct {
	OrderNumber    string          `json:"orderNumber"`
	GatewayOrderID string          `json:"merchantTransactionId"`
	RedirectURL    string          `json:"redirectUrl"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingCost   decimal.Decimal `json:"shippingCost"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"paymentStatus"`
}

type Refund struct {
	RefundID    string          `json:"refundId"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
}

type Payment struct {
	GatewayOrderID   string          `json:"merchantTransactionId"`
	OrderNumber      string          `json:"orderNumber,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	GatewayState     string          `json:"state,omitempty"`
	ResponseCode     string          `json:"responseCode,omitempty"`
	GatewayPaymentID string          `json:"transactionId,omitempty"`
	OrderStatus      string          `json:"orderStatus,omitempty"`
	PaymentStatus    string          `json:"paymentStatus,omitempty"`
	RedirectURL      string          `json:"redirectUrl,omitempty"`
	ExpiresAt        *time.Time      `json:"expiresAt,omitempty"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty"`
	RefundedAmount   decimal.Decimal `json:"refundedAmount"`
	Refunds          []Refund        `json:"refunds,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type Order struct {
	OrderNumber       string          `json:"orderNumber"`
	Items             []*Item         `json:"items"`
	ShippingAddress   ShippingAddress `json:"shippingAddress"`
	ShippingMethod    string          `json:"shippingMethod"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ShippingCost      decimal.Decimal `json:"shippingCost"`
	Total             decimal.Decimal `json:"total"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	PaymentStatus     string          `json:"paymentStatus"`
	CoinsGiven        int64           `json:"coinsGiven"`
	Notes             string          `json:"notes,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	PaidAt            *time.Time      `json:"paidAt,omitempty"`
	Payment           *Payment        `json:"payment,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

type RefundRequest struct {
	// Amount defaults to the full remaining amount when omitted.
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

type RefundResponse struct {
	RefundID      string          `json:"refundId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
	OrderStatus   string          `json:"orderStatus"`
	CoinsDeducted int64           `json:"coinsDeducted"`
}

type CallbackResponse struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	Replayed bool   `json:"replayed"`
}

type PaymentHistoryResponse struct {
	Payments []*Payment `json:"payments"`
	Page     int        `json:"page"`
	Limit    int        `json:"limit"`
	Total    int64      `json:"total"`
}

type CoinEntry struct {
	Direction string    `json:"direction"`
	Coins     int64     `json:"coins"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CoinsResponse struct {
	Balance int64       `json:"balance"`
	History []CoinEntry `json:"history"`
}

type PaymentConfigResponse struct {
	Gateway   string          `json:"gateway"`
	Mode      string          `json:"mode"`
	Currency  string          `json:"currency"`
	MinAmount decimal.Decimal `json:"minAmount"`
}

type ErrorResponse struct {
	Success   bool     `json:"success"`
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Errors    []string `json:"errors,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}
