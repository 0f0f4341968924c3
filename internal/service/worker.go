package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront-checkout/internal/config"
)

// OutboxDispatcher is the part of Dispatcher the worker drives.
type OutboxDispatcher interface {
	DispatchPending(ctx context.Context) (int, error)
	Kicks() <-chan struct{}
}

// Reconciler runs in the background: it polls the gateway for payments that
// never got a callback, retries missed coin awards and drains the
// notification outbox.
type Reconciler struct {
	checkout   CheckoutService
	dispatcher OutboxDispatcher
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	log        *slog.Logger
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReconciler(checkout CheckoutService, dispatcher OutboxDispatcher, cfg config.Worker, log *slog.Logger) *Reconciler {
	return &Reconciler{
		checkout:   checkout,
		dispatcher: dispatcher,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		log:        log,
		now:        time.Now,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx)
	}()
}

// Stop cancels the loop and waits for the current pass to finish.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.dispatcher.Kicks():
			if _, err := r.dispatcher.DispatchPending(ctx); err != nil {
				r.log.ErrorContext(ctx, "dispatch notifications", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one full pass. Each step logs its own failure so the
// others still run.
func (r *Reconciler) RunOnce(ctx context.Context) {
	reconciled, err := r.checkout.ReconcileStale(ctx, r.now().Add(-r.staleAfter), r.batchSize)
	if err != nil {
		r.log.ErrorContext(ctx, "reconcile stale payments", "error", err)
	}

	awarded, err := r.checkout.AwardMissingCoins(ctx, r.batchSize)
	if err != nil {
		r.log.ErrorContext(ctx, "award missing coins", "error", err)
	}

	sent, err := r.dispatcher.DispatchPending(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "dispatch notifications", "error", err)
	}

	if reconciled+awarded+sent > 0 {
		r.log.InfoContext(ctx, "reconciler pass",
			"reconciled", reconciled,
			"coins_awarded", awarded,
			"notifications_sent", sent,
		)
	}
}
