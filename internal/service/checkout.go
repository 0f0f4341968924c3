package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/client"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/money"
	"storefront-checkout/internal/repository"

	"gorm.io/gorm"
)

const (
	maxHistoryLimit     = 50
	defaultHistoryLimit = 10
)

// Nudger is told when a confirmation notification was enqueued.
type Nudger interface {
	Nudge()
}

type CheckoutService interface {
	CreateOrder(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error)
	HandleCallback(ctx context.Context, rawBody []byte, signatureHeader string) (*dto.CallbackResponse, error)
	PollStatus(ctx context.Context, gatewayOrderID, userID string) (*dto.Payment, error)
	Refund(ctx context.Context, gatewayOrderID, userID string, req *dto.RefundRequest) (*dto.RefundResponse, error)
	CancelOrder(ctx context.Context, orderNumber, userID, reason string) (*dto.Order, error)
	UpdateOrderStatus(ctx context.Context, orderNumber string, status model.OrderStatus) (*dto.Order, error)
	GetOrder(ctx context.Context, orderNumber, userID string) (*dto.Order, error)
	PaymentHistory(ctx context.Context, userID string, page, limit int) (*dto.PaymentHistoryResponse, error)
	ReconcileStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
	AwardMissingCoins(ctx context.Context, limit int) (int, error)
	PaymentConfig() *dto.PaymentConfigResponse
}

type checkoutServiceImpl struct {
	db               *gorm.DB
	gateway          client.GatewayClient
	orders           OrderLedger
	payments         PaymentLedger
	coins            CoinLedger
	orderRepo        repository.OrderRepository
	paymentRepo      repository.PaymentRepository
	notificationRepo repository.NotificationRepository
	nudger           Nudger
	checkoutCfg      config.Checkout
	gatewayCfg       config.PhonePe
	log              *slog.Logger
	now              func() time.Time
}

func NewCheckoutService(
	db *gorm.DB,
	gateway client.GatewayClient,
	orders OrderLedger,
	payments PaymentLedger,
	coins CoinLedger,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	notificationRepo repository.NotificationRepository,
	nudger Nudger,
	checkoutCfg config.Checkout,
	gatewayCfg config.PhonePe,
	log *slog.Logger,
) CheckoutService {
	return &checkoutServiceImpl{
		db:               db,
		gateway:          gateway,
		orders:           orders,
		payments:         payments,
		coins:            coins,
		orderRepo:        orderRepo,
		paymentRepo:      paymentRepo,
		notificationRepo: notificationRepo,
		nudger:           nudger,
		checkoutCfg:      checkoutCfg,
		gatewayCfg:       gatewayCfg,
		log:              log,
		now:              time.Now,
	}
}

func (s *checkoutServiceImpl) CreateOrder(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
	if errs := validateOrderRequest(req); len(errs) > 0 {
		return nil, apperr.Validation(errs)
	}

	method := model.ShippingMethod(req.ShippingMethod)
	if method == "" {
		method = model.ShippingStandard
	}

	items := make([]model.OrderItem, len(req.Items))
	subtotal := int64(0)
	for i, item := range req.Items {
		items[i] = model.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			UnitPrice: money.ToMinor(item.Price),
			Quantity:  item.Quantity,
		}
		subtotal += items[i].LineTotal()
	}

	shipping := s.shippingCost(method)
	total := subtotal + shipping
	if total <= 0 {
		return nil, apperr.New(apperr.KindInvalidAmount, "order total must be greater than zero")
	}
	if total < s.gatewayCfg.MinAmount {
		return nil, apperr.New(apperr.KindInvalidAmount, "order total %s is below the minimum of %s",
			money.FromMinor(total), money.FromMinor(s.gatewayCfg.MinAmount))
	}

	address := normalizeAddress(req.ShippingAddress)
	contact := client.Contact{UserID: userID, Mobile: address.Phone, Email: address.Email}

	var (
		order   *model.Order
		attempt *model.PaymentAttempt
		err     error
	)
	for range maxOrderNumberAttempts {
		order, attempt, err = s.persistOrder(ctx, userID, items, address, method, subtotal, shipping, req.Notes, contact)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		s.log.WarnContext(ctx, "order identifier collision, retrying")
	}
	if err != nil {
		return nil, err
	}

	logger := s.log.With("order_number", order.OrderNumber, "gateway_order_id", order.GatewayOrderID)

	res, err := s.gateway.InitiatePayment(ctx, &client.InitiatePaymentRequest{
		GatewayOrderID: order.GatewayOrderID,
		Amount:         total,
		RedirectURL:    s.redirectURL(order.GatewayOrderID),
		Contact:        contact,
	})
	if err != nil {
		logger.ErrorContext(ctx, "initiate payment failed", "error", err)

		// the order row stays for audit
		reason := err.Error()
		markCtx := context.WithoutCancel(ctx)
		markErr := s.db.WithContext(markCtx).Transaction(func(tx *gorm.DB) error {
			if err := s.payments.MarkInitiationFailed(markCtx, tx, attempt, reason); err != nil {
				return err
			}
			return s.orders.MarkPaymentFailed(markCtx, tx, order, "payment initiation failed")
		})
		if markErr != nil {
			logger.ErrorContext(ctx, "mark order failed after initiation error", "error", markErr)
		}
		return nil, fmt.Errorf("initiate payment: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.payments.MarkInitiated(ctx, tx, attempt, res)
	})
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "order created", "total", total, "user_id", userID)

	return &dto.CreateOrderResponse{
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: order.GatewayOrderID,
		RedirectURL:    res.RedirectURL,
		ExpiresAt:      res.ExpiresAt,
		Subtotal:       money.FromMinor(order.Subtotal),
		ShippingCost:   money.FromMinor(order.ShippingCost),
		Total:          money.FromMinor(order.Total),
		Currency:       order.Currency,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
	}, nil
}

// persistOrder writes the order, its items and the payment attempt in one
// transaction.
func (s *checkoutServiceImpl) persistOrder(
	ctx context.Context,
	userID string,
	items []model.OrderItem,
	address model.ShippingAddress,
	method model.ShippingMethod,
	subtotal, shipping int64,
	notes string,
	contact client.Contact,
) (*model.Order, *model.PaymentAttempt, error) {
	number, err := s.orders.NewOrderNumber(ctx)
	if err != nil {
		return nil, nil, err
	}

	estimated := s.now().AddDate(0, 0, deliveryDays(method))
	order := &model.Order{
		OrderNumber:       number,
		UserID:            userID,
		Items:             append([]model.OrderItem(nil), items...),
		ShippingAddress:   address,
		ShippingMethod:    method,
		Subtotal:          subtotal,
		ShippingCost:      shipping,
		Total:             subtotal + shipping,
		Currency:          s.checkoutCfg.Currency,
		Status:            model.OrderPending,
		PaymentStatus:     model.PaymentPending,
		GatewayOrderID:    NewGatewayOrderID(),
		Notes:             notes,
		EstimatedDelivery: &estimated,
	}

	var attempt *model.PaymentAttempt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("store order in db: %w", err)
		}

		var err error
		attempt, err = s.payments.CreateAttempt(ctx, tx, order, contact)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return order, attempt, nil
}

func (s *checkoutServiceImpl) HandleCallback(ctx context.Context, rawBody []byte, signatureHeader string) (*dto.CallbackResponse, error) {
	outcome, err := s.gateway.DecodeCallback(rawBody, signatureHeader)
	if err != nil {
		s.log.WarnContext(ctx, "callback rejected", "error", err)
		return nil, err
	}

	attempt, err := s.paymentRepo.FindByGatewayOrderID(ctx, nil, outcome.GatewayOrderID, "")
	if err != nil {
		return nil, err
	}

	res, err := s.applyOutcome(ctx, attempt.ID, outcome)
	if err != nil {
		// the gateway retries on any non-2xx
		return nil, apperr.Wrap(apperr.KindInternal, err, "handle callback for %s", outcome.GatewayOrderID)
	}

	return &dto.CallbackResponse{
		Success:  true,
		Status:   string(res.Attempt.Status),
		Replayed: !res.Applied,
	}, nil
}

func (s *checkoutServiceImpl) PollStatus(ctx context.Context, gatewayOrderID, userID string) (*dto.Payment, error) {
	attempt, err := s.paymentRepo.FindByGatewayOrderID(ctx, nil, gatewayOrderID, userID)
	if err != nil {
		return nil, err
	}

	if attempt.Status.IsOpen() {
		outcome, err := s.gateway.CheckStatus(ctx, gatewayOrderID)
		switch {
		case err == nil:
			if _, err := s.applyOutcome(ctx, attempt.ID, outcome); err != nil {
				return nil, fmt.Errorf("poll status: %w", err)
			}
			attempt, err = s.paymentRepo.FindByGatewayOrderID(ctx, nil, gatewayOrderID, userID)
			if err != nil {
				return nil, err
			}
		case apperr.Retryable(err):
			s.log.WarnContext(ctx, "status check unavailable, returning known state",
				"gateway_order_id", gatewayOrderID, "error", err)
		default:
			return nil, fmt.Errorf("check payment status: %w", err)
		}
	}

	order, err := s.orderRepo.FindByID(ctx, nil, attempt.OrderID)
	if err != nil {
		return nil, err
	}
	return toPaymentDTO(attempt, order), nil
}

// applyOutcome is shared by the callback, polling and the background
// reconciler. The status flip, the order update and the side-effect guards
// commit together.
func (s *checkoutServiceImpl) applyOutcome(ctx context.Context, attemptID uint, outcome *client.Outcome) (*OutcomeResult, error) {
	var res *OutcomeResult
	enqueued := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.payments.ApplyGatewayOutcome(ctx, tx, attemptID, outcome)
		if err != nil {
			return fmt.Errorf("apply gateway outcome: %w", err)
		}
		if !res.Applied {
			return nil
		}

		order, err := s.orderRepo.LockByID(ctx, tx, res.Attempt.OrderID)
		if err != nil {
			return err
		}

		switch res.Verdict {
		case client.VerdictSuccess:
			if err := s.orders.MarkPaid(ctx, tx, order, res.Attempt.GatewayPaymentID, *res.Attempt.PaidAt); err != nil {
				return err
			}
			s.awardCoins(ctx, tx, order, res.Attempt.ID)
			enqueued = s.enqueueConfirmation(ctx, tx, order, res.Attempt.ID)
		case client.VerdictFailure:
			if err := s.orders.MarkPaymentFailed(ctx, tx, order, res.Attempt.FailureReason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if enqueued && s.nudger != nil {
		s.nudger.Nudge()
	}
	return res, nil
}

// awardCoins runs in a savepoint; a failure is logged and leaves the payment
// update intact. The coins_awarded flag is flipped in the same savepoint.
func (s *checkoutServiceImpl) awardCoins(ctx context.Context, tx *gorm.DB, order *model.Order, paymentID uint) {
	coins := CoinsFor(order.Total)

	err := tx.Transaction(func(tx *gorm.DB) error {
		flipped, err := s.orders.MarkCoinsAwarded(ctx, tx, order, coins)
		if err != nil {
			return fmt.Errorf("mark coins awarded: %w", err)
		}
		if !flipped {
			return nil
		}

		if _, err := s.coins.Award(ctx, tx, order.UserID, order.Total, paymentID); err != nil {
			return fmt.Errorf("award coins: %w", err)
		}
		order.CoinsAwarded = true
		order.CoinsGiven = coins
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "coin award failed", "order_number", order.OrderNumber, "error", err)
	}
}

func (s *checkoutServiceImpl) enqueueConfirmation(ctx context.Context, tx *gorm.DB, order *model.Order, paymentID uint) bool {
	var inserted bool
	err := tx.Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.notificationRepo.Enqueue(ctx, tx, &model.Notification{
			PaymentID: paymentID,
			OrderID:   order.ID,
			Kind:      model.NotificationOrderConfirmation,
		})
		return err
	})
	if err != nil {
		s.log.ErrorContext(ctx, "enqueue order confirmation failed", "order_number", order.OrderNumber, "error", err)
		return false
	}
	return inserted
}

func (s *checkoutServiceImpl) Refund(ctx context.Context, gatewayOrderID, userID string, req *dto.RefundRequest) (*dto.RefundResponse, error) {
	attempt, err := s.paymentRepo.FindByGatewayOrderID(ctx, nil, gatewayOrderID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptPaid {
		return nil, apperr.New(apperr.KindNotEligible, "payment %s is %s, only paid payments can be refunded", gatewayOrderID, attempt.Status)
	}

	amount := attempt.RemainingRefundable()
	if req.Amount != nil {
		amount = money.ToMinor(*req.Amount)
	}
	if amount <= 0 {
		return nil, apperr.New(apperr.KindInvalidAmount, "refund amount must be greater than zero")
	}

	logger := s.log.With("gateway_order_id", gatewayOrderID, "amount", amount)

	var refund *model.Refund
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = s.payments.Refund(ctx, tx, attempt, amount, req.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	res, err := s.gateway.InitiateRefund(ctx, &client.RefundRequest{
		GatewayOrderID:   attempt.GatewayOrderID,
		GatewayPaymentID: attempt.GatewayPaymentID,
		RefundRef:        refund.RefundID,
		Amount:           amount,
		UserID:           attempt.UserID,
	})
	if err == nil && !res.Accepted {
		err = fmt.Errorf("refund not accepted, gateway state %s", res.State)
	}
	if err != nil {
		logger.ErrorContext(ctx, "refund failed at gateway", "refund_id", refund.RefundID, "error", err)

		markCtx := context.WithoutCancel(ctx)
		failErr := s.db.WithContext(markCtx).Transaction(func(tx *gorm.DB) error {
			return s.payments.FailRefund(markCtx, tx, attempt, refund, err.Error())
		})
		if failErr != nil {
			logger.ErrorContext(ctx, "release refund reservation", "refund_id", refund.RefundID, "error", failErr)
		}
		return nil, apperr.Wrap(apperr.KindRefundFailed, err, "refund %s", refund.RefundID)
	}

	var order *model.Order
	var deducted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		processed, full, err := s.payments.CompleteRefund(ctx, tx, attempt, refund, res.RefundID)
		if err != nil {
			return err
		}

		order, err = s.orderRepo.LockByID(ctx, tx, attempt.OrderID)
		if err != nil {
			return err
		}
		if full {
			if err := s.orders.MarkRefunded(ctx, tx, order); err != nil {
				return err
			}
		}

		deducted = s.coins.Deduct(ctx, tx, attempt.UserID, attempt.ID, refund.RefundID, coinsReclaimed(order, attempt, processed))
		return nil
	})
	if err != nil {
		// the refund stays pending with its amount reserved
		logger.ErrorContext(ctx, "record accepted refund", "refund_id", refund.RefundID, "error", err)
		return nil, fmt.Errorf("record refund: %w", err)
	}

	logger.InfoContext(ctx, "refund processed", "refund_id", refund.RefundID, "payment_status", attempt.Status)

	return &dto.RefundResponse{
		RefundID:      refund.RefundID,
		Amount:        money.FromMinor(amount),
		Status:        string(refund.Status),
		PaymentStatus: string(attempt.Status),
		OrderStatus:   string(order.Status),
		CoinsDeducted: deducted,
	}, nil
}

// coinsReclaimed is the part of the order's awarded coins covered by processed
// refunds. A full refund reclaims all of them.
func coinsReclaimed(order *model.Order, attempt *model.PaymentAttempt, processed int64) int64 {
	if !order.CoinsAwarded || processed <= 0 {
		return 0
	}
	if processed >= attempt.Amount {
		return order.CoinsGiven
	}
	return min(CoinsFor(processed), order.CoinsGiven)
}

func (s *checkoutServiceImpl) CancelOrder(ctx context.Context, orderNumber, userID, reason string) (*dto.Order, error) {
	order, err := s.orderRepo.FindByOrderNumber(ctx, nil, orderNumber, userID)
	if err != nil {
		return nil, err
	}

	if err := s.cancel(ctx, order, reason); err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderNumber, userID)
}

// cancel closes the order and its open payment attempt together. The attempt
// row is locked before the order row, the same order applyOutcome uses.
func (s *checkoutServiceImpl) cancel(ctx context.Context, order *model.Order, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.paymentRepo.FindByOrderID(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		attempt, err := s.paymentRepo.LockByID(ctx, tx, found.ID)
		if err != nil {
			return err
		}

		locked, err := s.orderRepo.LockByID(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if err := s.orders.Cancel(ctx, tx, locked, reason); err != nil {
			return err
		}

		if _, err := s.payments.Cancel(ctx, tx, attempt.ID); err != nil {
			return err
		}

		s.log.InfoContext(ctx, "order cancelled", "order_number", order.OrderNumber, "reason", reason)
		return nil
	})
}

func (s *checkoutServiceImpl) UpdateOrderStatus(ctx context.Context, orderNumber string, status model.OrderStatus) (*dto.Order, error) {
	if !IsKnownOrderStatus(status) {
		return nil, apperr.Validation([]string{fmt.Sprintf("status %q is not a valid order status", status)})
	}

	order, err := s.orderRepo.FindByOrderNumber(ctx, nil, orderNumber, "")
	if err != nil {
		return nil, err
	}

	if status == model.OrderCancelled {
		err = s.cancel(ctx, order, "cancelled by admin")
	} else {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, err := s.orderRepo.LockByID(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			return s.orders.Transition(ctx, tx, locked, status)
		})
	}
	if err != nil {
		return nil, err
	}

	return s.GetOrder(ctx, orderNumber, "")
}

func (s *checkoutServiceImpl) GetOrder(ctx context.Context, orderNumber, userID string) (*dto.Order, error) {
	order, err := s.orderRepo.FindByOrderNumber(ctx, nil, orderNumber, userID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.paymentRepo.FindByOrderID(ctx, nil, order.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return toOrderDTO(order, attempt), nil
}

func (s *checkoutServiceImpl) PaymentHistory(ctx context.Context, userID string, page, limit int) (*dto.PaymentHistoryResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	attempts, total, err := s.paymentRepo.ListByUser(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	ids := make([]uint, len(attempts))
	for i, a := range attempts {
		ids[i] = a.OrderID
	}
	orders, err := s.orderRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	byID := make(map[uint]*model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}

	payments := make([]*dto.Payment, len(attempts))
	for i, a := range attempts {
		payments[i] = toPaymentDTO(a, byID[a.OrderID])
	}

	return &dto.PaymentHistoryResponse{
		Payments: payments,
		Page:     page,
		Limit:    limit,
		Total:    total,
	}, nil
}

// ReconcileStale polls the gateway for open attempts that never received a
// callback and applies whatever it reports.
func (s *checkoutServiceImpl) ReconcileStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	attempts, err := s.paymentRepo.FindStale(ctx, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("find stale payments: %w", err)
	}

	applied := 0
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}

		outcome, err := s.gateway.CheckStatus(ctx, attempt.GatewayOrderID)
		if err != nil {
			s.log.WarnContext(ctx, "reconcile status check failed", "gateway_order_id", attempt.GatewayOrderID, "error", err)
			continue
		}

		res, err := s.applyOutcome(ctx, attempt.ID, outcome)
		if err != nil {
			s.log.ErrorContext(ctx, "reconcile apply outcome failed", "gateway_order_id", attempt.GatewayOrderID, "error", err)
			continue
		}
		if res.Applied {
			applied++
		}
	}
	return applied, nil
}

// AwardMissingCoins retries coin awards whose savepoint failed during
// reconciliation.
func (s *checkoutServiceImpl) AwardMissingCoins(ctx context.Context, limit int) (int, error) {
	orders, err := s.orderRepo.FindPaidWithoutCoins(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("find paid orders without coins: %w", err)
	}

	awarded := 0
	for _, order := range orders {
		attempt, err := s.paymentRepo.FindByOrderID(ctx, nil, order.ID)
		if err != nil {
			s.log.ErrorContext(ctx, "load payment for coin award", "order_number", order.OrderNumber, "error", err)
			continue
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			s.awardCoins(ctx, tx, order, attempt.ID)
			return nil
		})
		if err == nil && order.CoinsAwarded {
			awarded++
		}
	}
	return awarded, nil
}

func (s *checkoutServiceImpl) PaymentConfig() *dto.PaymentConfigResponse {
	return &dto.PaymentConfigResponse{
		Gateway:   "phonepe",
		Mode:      s.gatewayCfg.Mode(),
		Currency:  s.checkoutCfg.Currency,
		MinAmount: money.FromMinor(s.gatewayCfg.MinAmount),
	}
}

func (s *checkoutServiceImpl) shippingCost(method model.ShippingMethod) int64 {
	if method == model.ShippingExpress {
		return s.checkoutCfg.ExpressShipping
	}
	return s.checkoutCfg.StandardShipping
}

func (s *checkoutServiceImpl) redirectURL(gatewayOrderID string) string {
	u, err := url.Parse(s.gatewayCfg.RedirectURL)
	if err != nil {
		return s.gatewayCfg.RedirectURL + "?merchantTransactionId=" + url.QueryEscape(gatewayOrderID)
	}
	q := u.Query()
	q.Set("merchantTransactionId", gatewayOrderID)
	u.RawQuery = q.Encode()
	return u.String()
}

func deliveryDays(method model.ShippingMethod) int {
	if method == model.ShippingExpress {
		return 2
	}
	return 5
}
