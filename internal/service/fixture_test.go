package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/client"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testUser        = "user-1"
	validSignature  = "valid###1"
	testSuccessCode = "PAYMENT_SUCCESS"
)

// fakeGateway decodes callbacks as plain JSON outcomes and accepts only
// validSignature.
type fakeGateway struct {
	mu sync.Mutex

	initiateErr   error
	statusOutcome *client.Outcome
	statusErr     error
	refundErr     error
	refundResult  *client.RefundResult

	initiated   []*client.InitiatePaymentRequest
	refunds     []*client.RefundRequest
	statusCalls int
}

func (g *fakeGateway) InitiatePayment(_ context.Context, req *client.InitiatePaymentRequest) (*client.InitiatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.initiated = append(g.initiated, req)
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &client.InitiatePaymentResult{
		GatewayOrderID: req.GatewayOrderID,
		RedirectURL:    "https://gateway.example/pay/" + req.GatewayOrderID,
		State:          client.StatePending,
		ExpiresAt:      time.Now().Add(20 * time.Minute),
	}, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, gatewayOrderID string) (*client.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.statusCalls++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	if g.statusOutcome == nil {
		return &client.Outcome{GatewayOrderID: gatewayOrderID, State: client.StatePending}, nil
	}
	out := *g.statusOutcome
	out.GatewayOrderID = gatewayOrderID
	return &out, nil
}

func (g *fakeGateway) InitiateRefund(_ context.Context, req *client.RefundRequest) (*client.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refunds = append(g.refunds, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	if g.refundResult != nil {
		return g.refundResult, nil
	}
	return &client.RefundResult{
		Accepted:     true,
		RefundID:     "PG-" + req.RefundRef,
		State:        client.StateCompleted,
		ResponseCode: "PAYMENT_SUCCESS",
	}, nil
}

func (g *fakeGateway) DecodeCallback(rawBody []byte, signatureHeader string) (*client.Outcome, error) {
	if signatureHeader != validSignature {
		return nil, apperr.New(apperr.KindBadSignature, "checksum mismatch")
	}
	var out client.Outcome
	if err := json.Unmarshal(rawBody, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedPayload, err, "decode callback")
	}
	return &out, nil
}

func (g *fakeGateway) setStatus(out *client.Outcome, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusOutcome = out
	g.statusErr = err
}

type fixture struct {
	db               *gorm.DB
	gateway          *fakeGateway
	svc              *checkoutServiceImpl
	orderRepo        repository.OrderRepository
	paymentRepo      repository.PaymentRepository
	refundRepo       repository.RefundRepository
	coinRepo         repository.CoinRepository
	notificationRepo repository.NotificationRepository
	coins            CoinLedger
	dispatcher       *Dispatcher
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := client.InitDBClient(config.Database{
		Driver: "sqlite",
		URL:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	log := logger.Discard()

	f := &fixture{
		db:               db,
		gateway:          &fakeGateway{},
		orderRepo:        repository.NewOrderRepository(db),
		paymentRepo:      repository.NewPaymentRepository(db),
		refundRepo:       repository.NewRefundRepository(db),
		coinRepo:         repository.NewCoinRepository(db),
		notificationRepo: repository.NewNotificationRepository(db),
	}
	f.coins = NewCoinLedger(f.coinRepo, log)
	f.dispatcher = NewDispatcher(f.notificationRepo, f.orderRepo, NewLogNotifier(log), 3, 20, log)

	f.svc = NewCheckoutService(
		db, f.gateway,
		NewOrderLedger(f.orderRepo, "ORD", log),
		NewPaymentLedger(f.paymentRepo, f.refundRepo, testSuccessCode, log),
		f.coins,
		f.orderRepo, f.paymentRepo, f.notificationRepo,
		f.dispatcher,
		config.Checkout{Currency: "INR", ExpressShipping: 19900, OrderNumberPrefix: "ORD"},
		config.PhonePe{
			SuccessCode: testSuccessCode,
			MinAmount:   100,
			RedirectURL: "https://shop.example/payment/status",
		},
		log,
	).(*checkoutServiceImpl)

	return f
}

func validAddress() dto.ShippingAddress {
	return dto.ShippingAddress{
		FirstName: "Asha",
		LastName:  "Rao",
		Email:     "Asha@Example.com",
		Phone:     "+91 98765 43210",
		Street:    "12 MG Road",
		City:      "Bengaluru",
		State:     "KA",
		ZipCode:   "560001",
	}
}

func orderRequest(price string, qty int32) *dto.CreateOrderRequest {
	return &dto.CreateOrderRequest{
		Items: []*dto.Item{{
			ProductID: "sku-1",
			Name:      "Filter coffee",
			Price:     decimal.RequireFromString(price),
			Quantity:  qty,
		}},
		ShippingAddress: validAddress(),
		ShippingMethod:  "standard",
	}
}

func (f *fixture) createOrder(t *testing.T, price string) *dto.CreateOrderResponse {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), testUser, orderRequest(price, 1))
	require.NoError(t, err)
	return res
}

func callbackBody(t *testing.T, out client.Outcome) []byte {
	t.Helper()
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	return raw
}

func successOutcome(gatewayOrderID string) client.Outcome {
	return client.Outcome{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: "T" + gatewayOrderID,
		State:            client.StateCompleted,
		ResponseCode:     testSuccessCode,
	}
}

func failureOutcome(gatewayOrderID string) client.Outcome {
	return client.Outcome{
		GatewayOrderID: gatewayOrderID,
		State:          client.StateFailed,
		ResponseCode:   "PAYMENT_DECLINED",
		Message:        "declined by bank",
	}
}

func (f *fixture) callback(t *testing.T, out client.Outcome) *dto.CallbackResponse {
	t.Helper()
	res, err := f.svc.HandleCallback(context.Background(), callbackBody(t, out), validSignature)
	require.NoError(t, err)
	return res
}

func (f *fixture) attempt(t *testing.T, gatewayOrderID string) *model.PaymentAttempt {
	t.Helper()
	a, err := f.paymentRepo.FindByGatewayOrderID(context.Background(), nil, gatewayOrderID, "")
	require.NoError(t, err)
	return a
}

func (f *fixture) order(t *testing.T, orderNumber string) *model.Order {
	t.Helper()
	o, err := f.orderRepo.FindByOrderNumber(context.Background(), nil, orderNumber, "")
	require.NoError(t, err)
	return o
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.coinRepo.GetBalance(context.Background(), testUser)
	require.NoError(t, err)
	return b
}
