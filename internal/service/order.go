package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"

	"gorm.io/gorm"
)

const maxOrderNumberAttempts = 5

var orderTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderPending:    {model.OrderConfirmed, model.OrderCancelled},
	model.OrderConfirmed:  {model.OrderProcessing, model.OrderCancelled},
	model.OrderProcessing: {model.OrderShipped, model.OrderCancelled},
	model.OrderShipped:    {model.OrderDelivered},
}

func CanTransition(from, to model.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

func IsKnownOrderStatus(s model.OrderStatus) bool {
	switch s {
	case model.OrderPending, model.OrderConfirmed, model.OrderProcessing,
		model.OrderShipped, model.OrderDelivered, model.OrderCancelled:
		return true
	}
	return false
}

// OrderLedger owns order status changes. Every write is conditional on the
// status the caller read, so a concurrent change surfaces as an error.
type OrderLedger interface {
	NewOrderNumber(ctx context.Context) (string, error)
	Transition(ctx context.Context, tx *gorm.DB, order *model.Order, to model.OrderStatus) error
	Cancel(ctx context.Context, tx *gorm.DB, order *model.Order, reason string) error
	MarkPaid(ctx context.Context, tx *gorm.DB, order *model.Order, gatewayPaymentID string, paidAt time.Time) error
	MarkPaymentFailed(ctx context.Context, tx *gorm.DB, order *model.Order, reason string) error
	MarkRefunded(ctx context.Context, tx *gorm.DB, order *model.Order) error
	MarkCoinsAwarded(ctx context.Context, tx *gorm.DB, order *model.Order, coins int64) (bool, error)
}

type orderLedgerImpl struct {
	orderRepo repository.OrderRepository
	prefix    string
	log       *slog.Logger
	now       func() time.Time
}

func NewOrderLedger(orderRepo repository.OrderRepository, prefix string, log *slog.Logger) OrderLedger {
	return &orderLedgerImpl{
		orderRepo: orderRepo,
		prefix:    prefix,
		log:       log,
		now:       time.Now,
	}
}

// NewOrderNumber returns "<prefix>-<last 8 digits of unix millis>-<4 random chars>".
func (l *orderLedgerImpl) NewOrderNumber(ctx context.Context) (string, error) {
	for range maxOrderNumberAttempts {
		ts := strconv.FormatInt(l.now().UnixMilli(), 10)
		number := fmt.Sprintf("%s-%s-%s", l.prefix, ts[max(0, len(ts)-8):], rand.Text()[:4])

		exists, err := l.orderRepo.OrderNumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("generate order number: %d collisions", maxOrderNumberAttempts)
}

func (l *orderLedgerImpl) Transition(ctx context.Context, tx *gorm.DB, order *model.Order, to model.OrderStatus) error {
	return l.transition(ctx, tx, order, to, map[string]any{})
}

func (l *orderLedgerImpl) transition(ctx context.Context, tx *gorm.DB, order *model.Order, to model.OrderStatus, updates map[string]any) error {
	if !CanTransition(order.Status, to) {
		return apperr.New(apperr.KindInvalidTransition, "order %s cannot move from %s to %s", order.OrderNumber, order.Status, to)
	}

	updates["status"] = to
	changed, err := l.orderRepo.UpdateStatus(ctx, tx, order.ID, order.Status, updates)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if !changed {
		return apperr.New(apperr.KindInvalidTransition, "order %s is no longer %s", order.OrderNumber, order.Status)
	}

	order.Status = to
	return nil
}

func (l *orderLedgerImpl) Cancel(ctx context.Context, tx *gorm.DB, order *model.Order, reason string) error {
	if order.PaymentStatus == model.PaymentPaid {
		return apperr.New(apperr.KindNotEligible, "order %s is paid, request a refund instead", order.OrderNumber)
	}
	if order.Status == model.OrderShipped || order.Status == model.OrderDelivered {
		return apperr.New(apperr.KindNotEligible, "order %s is already %s", order.OrderNumber, order.Status)
	}

	updates := map[string]any{}
	if reason != "" {
		updates["notes"] = appendNote(order.Notes, "Cancelled: "+reason)
	}
	return l.transition(ctx, tx, order, model.OrderCancelled, updates)
}

// MarkPaid records a confirmed payment. Payment fields are written even when
// the order status can no longer move to confirmed.
func (l *orderLedgerImpl) MarkPaid(ctx context.Context, tx *gorm.DB, order *model.Order, gatewayPaymentID string, paidAt time.Time) error {
	updates := map[string]any{
		"payment_status":     model.PaymentPaid,
		"gateway_payment_id": gatewayPaymentID,
		"paid_at":            paidAt,
	}

	if err := l.applyPaymentStatus(ctx, tx, order, model.OrderConfirmed, updates); err != nil {
		return err
	}

	order.PaymentStatus = model.PaymentPaid
	order.GatewayPaymentID = gatewayPaymentID
	order.PaidAt = &paidAt
	return nil
}

func (l *orderLedgerImpl) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, order *model.Order, reason string) error {
	updates := map[string]any{
		"payment_status": model.PaymentFailed,
	}
	if reason != "" {
		updates["notes"] = appendNote(order.Notes, "Payment failed: "+reason)
	}

	if err := l.applyPaymentStatus(ctx, tx, order, model.OrderCancelled, updates); err != nil {
		return err
	}

	order.PaymentStatus = model.PaymentFailed
	return nil
}

func (l *orderLedgerImpl) MarkRefunded(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	updates := map[string]any{
		"payment_status": model.PaymentRefunded,
	}

	if err := l.applyPaymentStatus(ctx, tx, order, model.OrderCancelled, updates); err != nil {
		return err
	}

	order.PaymentStatus = model.PaymentRefunded
	return nil
}

// MarkCoinsAwarded claims the order's one coin award. Only the caller that
// gets true may credit the coins. order is not modified, so a rolled back
// savepoint leaves it accurate.
func (l *orderLedgerImpl) MarkCoinsAwarded(ctx context.Context, tx *gorm.DB, order *model.Order, coins int64) (bool, error) {
	if order.PaymentStatus != model.PaymentPaid {
		return false, nil
	}
	return l.orderRepo.MarkCoinsAwarded(ctx, tx, order.ID, coins)
}

// applyPaymentStatus writes payment fields and, when the graph allows it, the
// matching order status in one statement.
func (l *orderLedgerImpl) applyPaymentStatus(ctx context.Context, tx *gorm.DB, order *model.Order, to model.OrderStatus, updates map[string]any) error {
	if CanTransition(order.Status, to) {
		return l.transition(ctx, tx, order, to, updates)
	}

	l.log.WarnContext(ctx, "order status left unchanged",
		"order_number", order.OrderNumber,
		"status", order.Status,
		"wanted", to,
		"payment_status", updates["payment_status"],
	)
	if err := l.orderRepo.Update(ctx, tx, order.ID, updates); err != nil {
		return fmt.Errorf("update order payment: %w", err)
	}
	return nil
}

func appendNote(notes, line string) string {
	if notes == "" {
		return repository.Truncate(line, 500)
	}
	return repository.Truncate(strings.TrimSpace(notes)+"\n"+line, 500)
}
