package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-checkout/internal/config"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/logger"
	appmw "storefront-checkout/internal/middleware"
	"storefront-checkout/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCheckout struct {
	service.CheckoutService
}

func (stubCheckout) PaymentConfig() *dto.PaymentConfigResponse {
	return &dto.PaymentConfigResponse{Gateway: "phonepe", Mode: "UAT", Currency: "INR"}
}

func (stubCheckout) GetOrder(_ context.Context, orderNumber, userID string) (*dto.Order, error) {
	return &dto.Order{OrderNumber: orderNumber}, nil
}

func (stubCheckout) PollStatus(_ context.Context, gatewayOrderID, userID string) (*dto.Payment, error) {
	return &dto.Payment{GatewayOrderID: gatewayOrderID, OrderNumber: "caller:" + userID}, nil
}

func newTestServer(t *testing.T) (*Server, *appmw.Authenticator) {
	t.Helper()
	cfg := &config.Config{
		Auth:      config.Auth{JWTSecret: "secret", Issuer: "storefront"},
		RateLimit: config.RateLimit{Requests: 10, Window: time.Minute, ExpiresIn: time.Minute},
	}
	srv := NewServer(cfg, stubCheckout{}, nil, appmw.NewRateLimitStore(cfg.RateLimit), logger.Discard())
	return srv, appmw.NewAuthenticator(cfg.Auth)
}

func get(srv *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes_PublicAndProtected(t *testing.T) {
	srv, auth := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(srv, "/api/health", "").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/api/payments/config", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(srv, "/api/orders/ORD-1", "").Code)

	token, err := auth.GenerateToken("user-1", "")
	require.NoError(t, err)
	rec := get(srv, "/api/orders/ORD-1", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"orderNumber":"ORD-1"`)
}

func TestRoutes_AdminRequiresRole(t *testing.T) {
	srv, auth := newTestServer(t)
	token, err := auth.GenerateToken("user-1", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/api/admin/orders/ORD-1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoutes_StatusAuthIsOptional(t *testing.T) {
	srv, auth := newTestServer(t)

	rec := get(srv, "/api/payments/status/MT1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"orderNumber":"caller:"`)

	token, err := auth.GenerateToken("user-1", "")
	require.NoError(t, err)
	rec = get(srv, "/api/payments/status/MT1", token)
	assert.Contains(t, rec.Body.String(), `"orderNumber":"caller:user-1"`)
}
