package handler

import (
	"net/http"

	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/middleware"
	"storefront-checkout/internal/service"

	"github.com/labstack/echo/v4"
)

type CoinsHandler struct {
	coinLedger service.CoinLedger
}

func NewCoinsHandler(coinLedger service.CoinLedger) *CoinsHandler {
	return &CoinsHandler{
		coinLedger: coinLedger,
	}
}

func (h *CoinsHandler) GetCoins(c echo.Context) error {
	ctx := c.Request().Context()

	summary, err := h.coinLedger.Summary(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}

	res := dto.CoinsResponse{
		Balance: summary.Balance,
		History: make([]dto.CoinEntry, 0, len(summary.Entries)),
	}
	for _, e := range summary.Entries {
		res.History = append(res.History, dto.CoinEntry{
			Direction: string(e.Direction),
			Coins:     e.Coins,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, res)
}
