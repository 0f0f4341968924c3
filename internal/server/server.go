package server

import (
	"context"
	"log/slog"
	"net/http"

	"storefront-checkout/internal/config"
	"storefront-checkout/internal/handler"
	appmw "storefront-checkout/internal/middleware"
	"storefront-checkout/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo            *echo.Echo
	auth            *appmw.Authenticator
	rateLimitStore  middleware.RateLimiterStore
	checkoutHandler *handler.CheckoutHandler
	coinsHandler    *handler.CoinsHandler
}

func NewServer(
	cfg *config.Config,
	checkoutService service.CheckoutService,
	coinLedger service.CoinLedger,
	rateLimitStore middleware.RateLimiterStore,
	log *slog.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.HTTP.ReadTimeout
	e.Server.WriteTimeout = cfg.HTTP.WriteTimeout
	e.HTTPErrorHandler = handler.NewErrorHandler(log, cfg.Environment.IsDevelopment())

	e.Use(middleware.RequestID())
	e.Use(requestLogger(log))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:            e,
		auth:            appmw.NewAuthenticator(cfg.Auth),
		rateLimitStore:  rateLimitStore,
		checkoutHandler: handler.NewCheckoutHandler(checkoutService),
		coinsHandler:    handler.NewCoinsHandler(coinLedger),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	authed := api.Group("", s.auth.RequireAuth())

	// -------- orders --------
	orders := authed.Group("/orders")
	orders.POST("", s.checkoutHandler.CreateOrder, appmw.RateLimit(s.rateLimitStore))
	orders.GET("/:orderNumber", s.checkoutHandler.GetOrder)
	orders.POST("/:orderNumber/cancel", s.checkoutHandler.CancelOrder)

	admin := authed.Group("/admin", appmw.RequireAdmin())
	admin.PATCH("/orders/:orderNumber/status", s.checkoutHandler.UpdateOrderStatus)

	// -------- gateway callback, authenticated by signature --------
	api.POST("/payments/callback", s.checkoutHandler.PaymentCallback)
	api.GET("/payments/config", s.checkoutHandler.PaymentConfig)
	api.GET("/payments/status/:gatewayOrderId", s.checkoutHandler.PaymentStatus, s.auth.OptionalAuth())

	// -------- payments --------
	payments := authed.Group("/payments")
	payments.POST("/refund/:gatewayOrderId", s.checkoutHandler.Refund, appmw.RateLimit(s.rateLimitStore))
	payments.GET("/history", s.checkoutHandler.PaymentHistory)

	authed.GET("/coins", s.coinsHandler.GetCoins)
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.LogAttrs(c.Request().Context(), slog.LevelInfo, "request",
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
				slog.String("remote_ip", v.RemoteIP),
			)
			return nil
		},
	})
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
