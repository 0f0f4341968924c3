package handler

import (
	"io"
	"net/http"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/middleware"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/service"

	"github.com/labstack/echo/v4"
)

// SignatureHeader carries the gateway's callback checksum.
const SignatureHeader = "X-VERIFY"

const maxCallbackBody = 64 << 10

type CheckoutHandler struct {
	checkoutService service.CheckoutService
}

func NewCheckoutHandler(checkoutService service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
	}
}

func (h *CheckoutHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid request body")
	}

	res, err := h.checkoutService.CreateOrder(ctx, middleware.UserID(c), &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, res)
}

func (h *CheckoutHandler) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()

	order, err := h.checkoutService.GetOrder(ctx, c.Param("orderNumber"), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *CheckoutHandler) CancelOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CancelOrderRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid request body")
	}

	order, err := h.checkoutService.CancelOrder(ctx, c.Param("orderNumber"), middleware.UserID(c), req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

func (h *CheckoutHandler) UpdateOrderStatus(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.UpdateOrderStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid request body")
	}

	order, err := h.checkoutService.UpdateOrderStatus(ctx, c.Param("orderNumber"), model.OrderStatus(req.Status))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, order)
}

// PaymentCallback is called server-to-server by the gateway. The body must be
// read raw: the signature covers the exact bytes of the encoded payload.
func (h *CheckoutHandler) PaymentCallback(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return apperr.Wrap(apperr.KindMalformedPayload, err, "read callback body")
	}

	res, err := h.checkoutService.HandleCallback(ctx, body, c.Request().Header.Get(SignatureHeader))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, res)
}

func (h *CheckoutHandler) PaymentStatus(c echo.Context) error {
	ctx := c.Request().Context()

	payment, err := h.checkoutService.PollStatus(ctx, c.Param("gatewayOrderId"), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, payment)
}

func (h *CheckoutHandler) Refund(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.RefundRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid request body")
	}

	res, err := h.checkoutService.Refund(ctx, c.Param("gatewayOrderId"), middleware.UserID(c), &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, res)
}

func (h *CheckoutHandler) PaymentHistory(c echo.Context) error {
	ctx := c.Request().Context()

	page, limit := 1, 0
	err := echo.QueryParamsBinder(c).
		Int("page", &page).
		Int("limit", &limit).
		BindError()
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid pagination")
	}

	res, err := h.checkoutService.PaymentHistory(ctx, middleware.UserID(c), page, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, res)
}

func (h *CheckoutHandler) PaymentConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.checkoutService.PaymentConfig())
}
