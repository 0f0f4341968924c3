package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-checkout/internal/client"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/logger"
	appmw "storefront-checkout/internal/middleware"
	"storefront-checkout/internal/repository"
	"storefront-checkout/internal/server"
	"storefront-checkout/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("storefront-checkout", cfg.Environment, cfg.Log)

	db, err := client.InitDBClient(cfg.Database)
	if err != nil {
		log.Error("init database", "error", err)
		os.Exit(1)
	}
	gateway := client.NewPhonePeClient(&cfg.PhonePe)

	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	coinRepo := repository.NewCoinRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	orderLedger := service.NewOrderLedger(orderRepo, cfg.Checkout.OrderNumberPrefix, log)
	paymentLedger := service.NewPaymentLedger(paymentRepo, refundRepo, cfg.PhonePe.SuccessCode, log)
	coinLedger := service.NewCoinLedger(coinRepo, log)
	dispatcher := service.NewDispatcher(
		notificationRepo, orderRepo,
		service.NewLogNotifier(log),
		cfg.Worker.NotificationRetries, cfg.Worker.BatchSize,
		log,
	)

	checkoutService := service.NewCheckoutService(
		db, gateway,
		orderLedger, paymentLedger, coinLedger,
		orderRepo, paymentRepo, notificationRepo,
		dispatcher,
		cfg.Checkout, cfg.PhonePe,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reconciler := service.NewReconciler(checkoutService, dispatcher, cfg.Worker, log)
	if cfg.Worker.Enabled {
		reconciler.Start(ctx)
	}

	srv := server.NewServer(cfg, checkoutService, coinLedger, appmw.NewRateLimitStore(cfg.RateLimit), log)

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	log.Info("starting HTTP server", "addr", serverAddr, "gateway_mode", cfg.PhonePe.Mode())
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	reconciler.Stop()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("shutdown complete")
}
