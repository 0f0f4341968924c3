package service

import (
	"context"
	"fmt"
	"log/slog"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"
)

// Notifier delivers order confirmations. Email delivery lives outside this
// service.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *model.Order) error
}

type logNotifierImpl struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) Notifier {
	return &logNotifierImpl{log: log}
}

func (n *logNotifierImpl) SendOrderConfirmation(ctx context.Context, order *model.Order) error {
	n.log.InfoContext(ctx, "order confirmation",
		"order_number", order.OrderNumber,
		"email", order.ShippingAddress.Email,
		"total", order.Total,
		"coins", order.CoinsGiven,
	)
	return nil
}

// Dispatcher drains the notification outbox.
type Dispatcher struct {
	notificationRepo repository.NotificationRepository
	orderRepo        repository.OrderRepository
	notifier         Notifier
	maxAttempts      int
	batchSize        int
	log              *slog.Logger
	kick             chan struct{}
}

func NewDispatcher(
	notificationRepo repository.NotificationRepository,
	orderRepo repository.OrderRepository,
	notifier Notifier,
	maxAttempts, batchSize int,
	log *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		notificationRepo: notificationRepo,
		orderRepo:        orderRepo,
		notifier:         notifier,
		maxAttempts:      maxAttempts,
		batchSize:        batchSize,
		log:              log,
		kick:             make(chan struct{}, 1),
	}
}

// Nudge asks the worker to dispatch soon. It never blocks.
func (d *Dispatcher) Nudge() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Kicks() <-chan struct{} {
	return d.kick
}

// DispatchPending sends up to one batch of pending notifications and returns
// how many were delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	pending, err := d.notificationRepo.FindPending(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find pending notifications: %w", err)
	}

	sent := 0
	for _, n := range pending {
		if err := d.deliver(ctx, n); err != nil {
			d.log.WarnContext(ctx, "notification delivery failed",
				"notification_id", n.ID,
				"order_id", n.OrderID,
				"attempt", n.Attempts+1,
				"error", err,
			)
			if err := d.notificationRepo.MarkAttemptFailed(ctx, n.ID, err.Error(), d.maxAttempts); err != nil {
				d.log.ErrorContext(ctx, "record notification failure", "notification_id", n.ID, "error", err)
			}
			continue
		}

		if err := d.notificationRepo.MarkSent(ctx, n.ID); err != nil {
			d.log.ErrorContext(ctx, "mark notification sent", "notification_id", n.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) error {
	order, err := d.orderRepo.FindByID(ctx, nil, n.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	switch n.Kind {
	case model.NotificationOrderConfirmation:
		return d.notifier.SendOrderConfirmation(ctx, order)
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
}
