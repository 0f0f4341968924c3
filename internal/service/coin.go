package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"

	"gorm.io/gorm"
)

const coinHistoryLimit = 50

var errCoinsAlreadyApplied = errors.New("coins already applied")

// CoinsFor returns floor(total in rupees / 100) * 2 for a total in paise.
func CoinsFor(totalMinor int64) int64 {
	if totalMinor <= 0 {
		return 0
	}
	return totalMinor / 10000 * 2
}

type CoinSummary struct {
	Balance int64
	Entries []*model.CoinEntry
}

type CoinLedger interface {
	Award(ctx context.Context, tx *gorm.DB, userID string, orderTotal int64, paymentID uint) (int64, error)
	Deduct(ctx context.Context, tx *gorm.DB, userID string, paymentID uint, refundRef string, owed int64) int64
	Summary(ctx context.Context, userID string) (*CoinSummary, error)
}

type coinLedgerImpl struct {
	coinRepo repository.CoinRepository
	log      *slog.Logger
}

func NewCoinLedger(coinRepo repository.CoinRepository, log *slog.Logger) CoinLedger {
	return &coinLedgerImpl{
		coinRepo: coinRepo,
		log:      log,
	}
}

// Award credits coins for a paid order once per payment. A replay returns 0.
func (l *coinLedgerImpl) Award(ctx context.Context, tx *gorm.DB, userID string, orderTotal int64, paymentID uint) (int64, error) {
	coins := CoinsFor(orderTotal)
	if coins == 0 {
		return 0, nil
	}

	err := tx.Transaction(func(tx *gorm.DB) error {
		inserted, err := l.coinRepo.InsertEntry(ctx, tx, &model.CoinEntry{
			UserID:    userID,
			PaymentID: paymentID,
			Direction: model.CoinAward,
			Coins:     coins,
			Reason:    "order payment",
		})
		if err != nil {
			return fmt.Errorf("insert coin entry: %w", err)
		}
		if !inserted {
			return errCoinsAlreadyApplied
		}

		if err := l.coinRepo.AddBalance(ctx, tx, userID, coins); err != nil {
			return fmt.Errorf("add coin balance: %w", err)
		}
		return nil
	})
	if errors.Is(err, errCoinsAlreadyApplied) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	l.log.InfoContext(ctx, "coins awarded", "user_id", userID, "payment_id", paymentID, "coins", coins)
	return coins, nil
}

// Deduct takes coins back until the deductions recorded for paymentID reach
// owed, the total the payment's processed refunds account for. The deduction
// is clamped at the current balance and recorded once per refundRef.
// It never fails; errors are logged and 0 is returned.
func (l *coinLedgerImpl) Deduct(ctx context.Context, tx *gorm.DB, userID string, paymentID uint, refundRef string, owed int64) int64 {
	if owed <= 0 {
		return 0
	}

	var wanted int64
	var deducted int64
	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := l.coinRepo.SumEntries(ctx, tx, paymentID, model.CoinDeduct)
		if err != nil {
			return fmt.Errorf("sum coin deductions: %w", err)
		}
		wanted = owed - taken
		if wanted <= 0 {
			return nil
		}

		deducted, err = l.coinRepo.DeductBalance(ctx, tx, userID, wanted)
		if err != nil {
			return fmt.Errorf("deduct coin balance: %w", err)
		}
		if deducted == 0 {
			return nil
		}

		inserted, err := l.coinRepo.InsertEntry(ctx, tx, &model.CoinEntry{
			UserID:    userID,
			PaymentID: paymentID,
			Direction: model.CoinDeduct,
			RefID:     refundRef,
			Coins:     deducted,
			Reason:    "refund",
		})
		if err != nil {
			return fmt.Errorf("insert coin entry: %w", err)
		}
		if !inserted {
			return errCoinsAlreadyApplied
		}
		return nil
	})
	if errors.Is(err, errCoinsAlreadyApplied) {
		return 0
	}
	if err != nil {
		l.log.ErrorContext(ctx, "coin deduction failed", "user_id", userID, "payment_id", paymentID, "error", err)
		return 0
	}

	if deducted < wanted {
		l.log.WarnContext(ctx, "coin deduction clamped", "user_id", userID, "wanted", wanted, "deducted", deducted)
	}
	return deducted
}

func (l *coinLedgerImpl) Summary(ctx context.Context, userID string) (*CoinSummary, error) {
	balance, err := l.coinRepo.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get coin balance: %w", err)
	}

	entries, err := l.coinRepo.ListEntries(ctx, userID, coinHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list coin entries: %w", err)
	}

	return &CoinSummary{Balance: balance, Entries: entries}, nil
}
