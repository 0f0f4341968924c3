package service

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/client"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCreateOrder_InitiatesPayment(t *testing.T) {
	f := newFixture(t)

	res := f.createOrder(t, "250.00")

	assert.True(t, strings.HasPrefix(res.OrderNumber, "ORD-"))
	assert.True(t, strings.HasPrefix(res.GatewayOrderID, "MT"))
	assert.Equal(t, "https://gateway.example/pay/"+res.GatewayOrderID, res.RedirectURL)
	assert.True(t, decimal.RequireFromString("250").Equal(res.Total))
	assert.Equal(t, string(model.OrderPending), res.Status)
	assert.Equal(t, string(model.PaymentPending), res.PaymentStatus)

	require.Len(t, f.gateway.initiated, 1)
	req := f.gateway.initiated[0]
	assert.Equal(t, int64(25000), req.Amount)
	assert.Equal(t, "9876543210", req.Contact.Mobile)
	assert.Contains(t, req.RedirectURL, "merchantTransactionId="+res.GatewayOrderID)

	attempt := f.attempt(t, res.GatewayOrderID)
	assert.Equal(t, model.AttemptPending, attempt.Status)
	assert.NotNil(t, attempt.ExpiresAt)

	order := f.order(t, res.OrderNumber)
	assert.Equal(t, "asha@example.com", order.ShippingAddress.Email)
	require.NotNil(t, order.EstimatedDelivery)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 5), *order.EstimatedDelivery, time.Minute)
}

func TestCreateOrder_ExpressShipping(t *testing.T) {
	f := newFixture(t)
	req := orderRequest("100.50", 2)
	req.ShippingMethod = "express"

	res, err := f.svc.CreateOrder(context.Background(), testUser, req)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("201").Equal(res.Subtotal))
	assert.True(t, decimal.RequireFromString("199").Equal(res.ShippingCost))
	assert.True(t, decimal.RequireFromString("400").Equal(res.Total))
	assert.Equal(t, int64(40000), f.gateway.initiated[0].Amount)
}

func TestCreateOrder_ValidationCollectsAllErrors(t *testing.T) {
	f := newFixture(t)
	req := &dto.CreateOrderRequest{
		Items: []*dto.Item{{Name: "", Price: decimal.NewFromInt(-1), Quantity: 0}},
		ShippingAddress: dto.ShippingAddress{
			Email:   "not-an-email",
			Phone:   "12345",
			ZipCode: "abc",
		},
		ShippingMethod: "drone",
	}

	_, err := f.svc.CreateOrder(context.Background(), testUser, req)

	require.ErrorIs(t, err, apperr.ErrValidation)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Fields, "items[0].name is required")
	assert.Contains(t, ae.Fields, "items[0].price must be >= 0")
	assert.Contains(t, ae.Fields, "items[0].quantity must be >= 1")
	assert.Contains(t, ae.Fields, "shippingAddress.email is invalid")
	assert.Contains(t, ae.Fields, "shippingAddress.zipCode must be 6 digits")
	assert.Contains(t, ae.Fields, "shippingMethod must be standard or express")
	assert.Empty(t, f.gateway.initiated)
}

func TestCreateOrder_ZeroTotalIsInvalidAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), testUser, orderRequest("0", 1))

	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
	assert.Empty(t, f.gateway.initiated)
}

func TestCreateOrder_GatewayFailureMarksOrderFailed(t *testing.T) {
	f := newFixture(t)
	f.gateway.initiateErr = apperr.New(apperr.KindGatewayUnreachable, "connection refused")

	_, err := f.svc.CreateOrder(context.Background(), testUser, orderRequest("250", 1))
	require.ErrorIs(t, err, apperr.ErrGatewayUnreachable)

	require.Len(t, f.gateway.initiated, 1)
	attempt := f.attempt(t, f.gateway.initiated[0].GatewayOrderID)
	assert.Equal(t, model.AttemptFailed, attempt.Status)

	order, err := f.orderRepo.FindByID(context.Background(), nil, attempt.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, order.PaymentStatus)
	assert.Equal(t, model.OrderCancelled, order.Status)
}

func TestHandleCallback_SuccessAwardsCoinsOnce(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")

	first := f.callback(t, successOutcome(created.GatewayOrderID))
	assert.Equal(t, string(model.AttemptPaid), first.Status)
	assert.False(t, first.Replayed)

	replay := f.callback(t, successOutcome(created.GatewayOrderID))
	assert.Equal(t, string(model.AttemptPaid), replay.Status)
	assert.True(t, replay.Replayed)

	order := f.order(t, created.OrderNumber)
	assert.Equal(t, model.OrderConfirmed, order.Status)
	assert.Equal(t, model.PaymentPaid, order.PaymentStatus)
	assert.True(t, order.CoinsAwarded)
	assert.Equal(t, int64(4), order.CoinsGiven)
	assert.Equal(t, "T"+created.GatewayOrderID, order.GatewayPaymentID)
	assert.Equal(t, int64(4), f.balance(t))

	pending, err := f.notificationRepo.FindPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestHandleCallback_SuccessIsSticky(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")

	f.callback(t, successOutcome(created.GatewayOrderID))
	late := f.callback(t, failureOutcome(created.GatewayOrderID))

	assert.Equal(t, string(model.AttemptPaid), late.Status)
	assert.True(t, late.Replayed)
	assert.Equal(t, model.PaymentPaid, f.order(t, created.OrderNumber).PaymentStatus)
}

func TestHandleCallback_FailureIsFinal(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")

	res := f.callback(t, failureOutcome(created.GatewayOrderID))
	assert.Equal(t, string(model.AttemptFailed), res.Status)

	res = f.callback(t, successOutcome(created.GatewayOrderID))
	assert.Equal(t, string(model.AttemptFailed), res.Status)

	order := f.order(t, created.OrderNumber)
	assert.Equal(t, model.PaymentFailed, order.PaymentStatus)
	assert.Equal(t, model.OrderCancelled, order.Status)
	assert.Contains(t, order.Notes, "declined by bank")
	assert.Zero(t, f.balance(t))
}

func TestHandleCallback_CompletedWithOtherCodeStaysPending(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")

	out := successOutcome(created.GatewayOrderID)
	out.ResponseCode = "PAYMENT_PENDING"
	res := f.callback(t, out)

	assert.Equal(t, string(model.AttemptPending), res.Status)
	assert.Equal(t, model.PaymentPending, f.order(t, created.OrderNumber).PaymentStatus)
}

func TestHandleCallback_Rejections(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")
	ctx := context.Background()

	_, err := f.svc.HandleCallback(ctx, callbackBody(t, successOutcome(created.GatewayOrderID)), "forged###1")
	assert.ErrorIs(t, err, apperr.ErrBadSignature)

	_, err = f.svc.HandleCallback(ctx, callbackBody(t, successOutcome("MT-unknown")), validSignature)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Equal(t, model.AttemptPending, f.attempt(t, created.GatewayOrderID).Status)
}

func TestPollStatus_AppliesGatewayOutcome(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")
	out := successOutcome(created.GatewayOrderID)
	f.gateway.setStatus(&out, nil)

	payment, err := f.svc.PollStatus(context.Background(), created.GatewayOrderID, testUser)
	require.NoError(t, err)

	assert.Equal(t, string(model.AttemptPaid), payment.Status)
	assert.Equal(t, string(model.OrderConfirmed), payment.OrderStatus)
	assert.Equal(t, int64(4), f.balance(t))
}

func TestPollStatus_UnreachableReturnsKnownState(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")
	f.gateway.setStatus(nil, apperr.New(apperr.KindGatewayUnreachable, "timeout"))

	payment, err := f.svc.PollStatus(context.Background(), created.GatewayOrderID, testUser)
	require.NoError(t, err)

	assert.Equal(t, string(model.AttemptPending), payment.Status)
	assert.Equal(t, created.OrderNumber, payment.OrderNumber)
}

func TestPollStatus_RejectedSurfaces(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")
	f.gateway.setStatus(nil, apperr.GatewayRejected(400, "BAD_REQUEST", "invalid transaction"))

	_, err := f.svc.PollStatus(context.Background(), created.GatewayOrderID, testUser)

	assert.ErrorIs(t, err, apperr.ErrGatewayRejected)
}

func TestPollStatus_ClosedAttemptSkipsGateway(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")
	f.callback(t, successOutcome(created.GatewayOrderID))

	payment, err := f.svc.PollStatus(context.Background(), created.GatewayOrderID, testUser)
	require.NoError(t, err)

	assert.Equal(t, string(model.AttemptPaid), payment.Status)
	assert.Zero(t, f.gateway.statusCalls)
}

func TestPollStatus_OtherUserNotFound(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")

	_, err := f.svc.PollStatus(context.Background(), created.GatewayOrderID, "someone-else")

	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCallbackAndPollRace_AwardsOnce(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")
	out := successOutcome(created.GatewayOrderID)
	f.gateway.setStatus(&out, nil)
	body := callbackBody(t, out)

	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			_, err := f.svc.HandleCallback(context.Background(), body, validSignature)
			return err
		})
		g.Go(func() error {
			_, err := f.svc.PollStatus(context.Background(), created.GatewayOrderID, testUser)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(4), f.balance(t))

	entries, err := f.coinRepo.ListEntries(context.Background(), testUser, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	pending, err := f.notificationRepo.FindPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRefund_FullRefundClampsCoins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createOrder(t, "250.00")
	f.callback(t, successOutcome(created.GatewayOrderID))

	// coins were spent elsewhere
	require.NoError(t, f.db.Model(&model.User{}).Where("id = ?", testUser).Update("coins", 1).Error)

	res, err := f.svc.Refund(ctx, created.GatewayOrderID, testUser, &dto.RefundRequest{Reason: "changed mind"})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("250").Equal(res.Amount))
	assert.Equal(t, string(model.RefundProcessed), res.Status)
	assert.Equal(t, string(model.AttemptRefunded), res.PaymentStatus)
	assert.Equal(t, string(model.OrderCancelled), res.OrderStatus)
	assert.Equal(t, int64(1), res.CoinsDeducted)
	assert.Zero(t, f.balance(t))

	require.Len(t, f.gateway.refunds, 1)
	assert.Equal(t, int64(25000), f.gateway.refunds[0].Amount)
	assert.Equal(t, res.RefundID, f.gateway.refunds[0].RefundRef)

	order := f.order(t, created.OrderNumber)
	assert.Equal(t, model.PaymentRefunded, order.PaymentStatus)

	_, err = f.svc.Refund(ctx, created.GatewayOrderID, testUser, &dto.RefundRequest{})
	assert.ErrorIs(t, err, apperr.ErrNotEligible)
}

func TestRefund_PartialRefundsRespectCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createOrder(t, "250.00")
	f.callback(t, successOutcome(created.GatewayOrderID))

	amount := decimal.RequireFromString("200")
	res, err := f.svc.Refund(ctx, created.GatewayOrderID, testUser, &dto.RefundRequest{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, string(model.AttemptPaid), res.PaymentStatus)
	assert.Equal(t, string(model.OrderConfirmed), res.OrderStatus)
	assert.Equal(t, int64(4), res.CoinsDeducted)

	_, err = f.svc.Refund(ctx, created.GatewayOrderID, testUser, &dto.RefundRequest{Amount: &amount})
	assert.ErrorIs(t, err, apperr.ErrInsufficientCapacity)

	zero := decimal.Zero
	_, err = f.svc.Refund(ctx, created.GatewayOrderID, testUser, &dto.RefundRequest{Amount: &zero})
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	rest := decimal.RequireFromString("50")
	res, err = f.svc.Refund(ctx, created.GatewayOrderID, testUser, &dto.RefundRequest{Amount: &rest})
	require.NoError(t, err)
	assert.Equal(t, string(model.AttemptRefunded), res.PaymentStatus)
	assert.Zero(t, res.CoinsDeducted)

	attempt := f.attempt(t, created.GatewayOrderID)
	assert.Equal(t, attempt.Amount, attempt.RefundedAmount)
	assert.Len(t, attempt.Refunds, 2)
}

func TestRefund_SmallPiecesReclaimAllCoins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createOrder(t, "250.00")
	f.callback(t, successOutcome(created.GatewayOrderID))
	require.Equal(t, int64(4), f.balance(t))

	tests := []struct {
		amount   string
		deducted int64
	}{
		{"99", 0},
		{"99", 2},
		{"52", 2},
	}
	for _, tt := range tests {
		amount := decimal.RequireFromString(tt.amount)
		res, err := f.svc.Refund(ctx, created.GatewayOrderID, testUser, &dto.RefundRequest{Amount: &amount})
		require.NoError(t, err)
		assert.Equal(t, tt.deducted, res.CoinsDeducted)
	}

	assert.Zero(t, f.balance(t))
	assert.Equal(t, model.AttemptRefunded, f.attempt(t, created.GatewayOrderID).Status)
	assert.Equal(t, model.PaymentRefunded, f.order(t, created.OrderNumber).PaymentStatus)
}

func TestRefund_GatewayFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")
	f.callback(t, successOutcome(created.GatewayOrderID))
	f.gateway.refundErr = apperr.GatewayRejected(400, "BAD_REQUEST", "refund window closed")

	_, err := f.svc.Refund(context.Background(), created.GatewayOrderID, testUser, &dto.RefundRequest{})
	require.ErrorIs(t, err, apperr.ErrRefundFailed)

	attempt := f.attempt(t, created.GatewayOrderID)
	assert.Equal(t, model.AttemptPaid, attempt.Status)
	assert.Zero(t, attempt.RefundedAmount)
	require.Len(t, attempt.Refunds, 1)
	assert.Equal(t, model.RefundFailed, attempt.Refunds[0].Status)
	assert.Equal(t, int64(4), f.balance(t))
}

func TestRefund_UnpaidNotEligible(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")

	_, err := f.svc.Refund(context.Background(), created.GatewayOrderID, testUser, &dto.RefundRequest{})

	assert.ErrorIs(t, err, apperr.ErrNotEligible)
	assert.Empty(t, f.gateway.refunds)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.createOrder(t, "250.00")
	order, err := f.svc.CancelOrder(ctx, pending.OrderNumber, testUser, "ordered twice")
	require.NoError(t, err)
	assert.Equal(t, string(model.OrderCancelled), order.Status)
	assert.Contains(t, order.Notes, "ordered twice")
	require.NotNil(t, order.Payment)
	assert.Equal(t, string(model.AttemptCancelled), order.Payment.Status)

	// a success arriving after cancellation is not applied
	res := f.callback(t, successOutcome(pending.GatewayOrderID))
	assert.Equal(t, string(model.AttemptCancelled), res.Status)
	assert.Zero(t, f.balance(t))

	paid := f.createOrder(t, "250.00")
	f.callback(t, successOutcome(paid.GatewayOrderID))
	_, err = f.svc.CancelOrder(ctx, paid.OrderNumber, testUser, "")
	assert.ErrorIs(t, err, apperr.ErrNotEligible)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createOrder(t, "250.00")
	f.callback(t, successOutcome(created.GatewayOrderID))

	order, err := f.svc.UpdateOrderStatus(ctx, created.OrderNumber, model.OrderProcessing)
	require.NoError(t, err)
	assert.Equal(t, string(model.OrderProcessing), order.Status)

	_, err = f.svc.UpdateOrderStatus(ctx, created.OrderNumber, model.OrderDelivered)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.UpdateOrderStatus(ctx, created.OrderNumber, "lost")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.UpdateOrderStatus(ctx, "ORD-missing", model.OrderShipped)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPaymentHistory_Paginates(t *testing.T) {
	f := newFixture(t)
	for range 3 {
		f.createOrder(t, "150.00")
	}

	res, err := f.svc.PaymentHistory(context.Background(), testUser, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	assert.Len(t, res.Payments, 2)
	assert.NotEmpty(t, res.Payments[0].OrderNumber)

	res, err = f.svc.PaymentHistory(context.Background(), testUser, 2, 500)
	require.NoError(t, err)
	assert.Equal(t, maxHistoryLimit, res.Limit)
	assert.Empty(t, res.Payments)
}

func TestReconcileStale_AppliesPolledOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid := f.createOrder(t, "250.00")
	stillPending := f.createOrder(t, "300.00")

	f.gateway.statusOutcome = nil
	n, err := f.svc.ReconcileStale(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	out := client.Outcome{State: client.StateCompleted, ResponseCode: testSuccessCode, GatewayPaymentID: "T1"}
	f.gateway.setStatus(&out, nil)
	n, err = f.svc.ReconcileStale(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, model.AttemptPaid, f.attempt(t, paid.GatewayOrderID).Status)
	assert.Equal(t, model.AttemptPaid, f.attempt(t, stillPending.GatewayOrderID).Status)
	assert.Equal(t, int64(4+6), f.balance(t))
}

func TestAwardMissingCoins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createOrder(t, "250.00")
	f.callback(t, successOutcome(created.GatewayOrderID))

	// simulate an award whose savepoint rolled back
	order := f.order(t, created.OrderNumber)
	require.NoError(t, f.db.Model(&model.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{"coins_awarded": false, "coins_given": 0}).Error)
	require.NoError(t, f.db.Where("user_id = ?", testUser).Delete(&model.CoinEntry{}).Error)
	require.NoError(t, f.db.Model(&model.User{}).Where("id = ?", testUser).Update("coins", 0).Error)

	n, err := f.svc.AwardMissingCoins(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(4), f.balance(t))

	n, err = f.svc.AwardMissingCoins(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleCallback_SideEffectFailuresKeepPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createOrder(t, "250.00")

	require.NoError(t, f.db.Migrator().DropTable(&model.CoinEntry{}, &model.Notification{}))

	res := f.callback(t, successOutcome(created.GatewayOrderID))
	assert.True(t, res.Success)
	assert.Equal(t, string(model.AttemptPaid), res.Status)

	assert.Equal(t, model.AttemptPaid, f.attempt(t, created.GatewayOrderID).Status)
	order := f.order(t, created.OrderNumber)
	assert.Equal(t, model.OrderConfirmed, order.Status)
	assert.Equal(t, model.PaymentPaid, order.PaymentStatus)
	assert.False(t, order.CoinsAwarded)
	assert.Zero(t, f.balance(t))

	// the reconciler picks the award up once the ledger is back
	require.NoError(t, f.db.AutoMigrate(&model.CoinEntry{}, &model.Notification{}))
	n, err := f.svc.AwardMissingCoins(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(4), f.balance(t))
	assert.True(t, f.order(t, created.OrderNumber).CoinsAwarded)
}

func TestHandleCallback_ProcessingFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")
	order := f.order(t, created.OrderNumber)
	require.NoError(t, f.db.Exec("DELETE FROM orders WHERE id = ?", order.ID).Error)

	_, err := f.svc.HandleCallback(context.Background(), callbackBody(t, successOutcome(created.GatewayOrderID)), validSignature)

	require.ErrorIs(t, err, apperr.ErrInternal)
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(err))
	// the whole transaction rolled back, so a retried callback can still apply
	assert.Equal(t, model.AttemptPending, f.attempt(t, created.GatewayOrderID).Status)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t, "250.00")

	order, err := f.svc.GetOrder(context.Background(), created.OrderNumber, testUser)
	require.NoError(t, err)
	assert.Equal(t, created.OrderNumber, order.OrderNumber)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Filter coffee", order.Items[0].Name)
	require.NotNil(t, order.Payment)
	assert.Equal(t, created.GatewayOrderID, order.Payment.GatewayOrderID)

	_, err = f.svc.GetOrder(context.Background(), created.OrderNumber, "someone-else")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPaymentConfig(t *testing.T) {
	f := newFixture(t)

	cfg := f.svc.PaymentConfig()

	assert.Equal(t, "phonepe", cfg.Gateway)
	assert.Equal(t, "UAT", cfg.Mode)
	assert.Equal(t, "INR", cfg.Currency)
	assert.True(t, decimal.NewFromInt(1).Equal(cfg.MinAmount))
}
