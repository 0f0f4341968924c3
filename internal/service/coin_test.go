package service

import (
	"context"
	"testing"

	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinsFor(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		want  int64
	}{
		{"zero", 0, 0},
		{"below one hundred rupees", 9999, 0},
		{"exactly one hundred", 10000, 2},
		{"two fifty", 25000, 4},
		{"fractional", 29999, 4},
		{"negative", -10000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoinsFor(tt.total))
		})
	}
}

func TestCoinLedger_AwardAndDeduct(t *testing.T) {
	db := newTestDB(t)
	ledger := NewCoinLedger(repository.NewCoinRepository(db), logger.Discard())
	ctx := context.Background()

	awarded, err := ledger.Award(ctx, db, testUser, 25000, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), awarded)

	awarded, err = ledger.Award(ctx, db, testUser, 25000, 7)
	require.NoError(t, err)
	assert.Zero(t, awarded)

	assert.Equal(t, int64(2), ledger.Deduct(ctx, db, testUser, 7, "RF1", 2))
	assert.Zero(t, ledger.Deduct(ctx, db, testUser, 7, "RF1", 2), "same refund must not deduct twice")
	assert.Zero(t, ledger.Deduct(ctx, db, testUser, 7, "RF2", 2), "already reclaimed for the payment")
	assert.Equal(t, int64(2), ledger.Deduct(ctx, db, testUser, 7, "RF2", 4), "only the remainder is taken")
	assert.Zero(t, ledger.Deduct(ctx, db, "nobody", 8, "RF3", 4))

	summary, err := ledger.Summary(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, summary.Balance)
	require.Len(t, summary.Entries, 3)
	assert.Equal(t, model.CoinDeduct, summary.Entries[0].Direction)
	assert.Equal(t, model.CoinAward, summary.Entries[2].Direction)
}

func TestCoinLedger_DeductCatchesUpAfterClamp(t *testing.T) {
	db := newTestDB(t)
	ledger := NewCoinLedger(repository.NewCoinRepository(db), logger.Discard())
	ctx := context.Background()

	_, err := ledger.Award(ctx, db, testUser, 20000, 9)
	require.NoError(t, err)
	_, err = ledger.Award(ctx, db, testUser, 10000, 10)
	require.NoError(t, err)

	// spend most of the balance so the first reclaim is clamped
	require.NoError(t, db.Model(&model.User{}).Where("id = ?", testUser).Update("coins", 1).Error)
	assert.Equal(t, int64(1), ledger.Deduct(ctx, db, testUser, 9, "RF1", 4))

	require.NoError(t, db.Model(&model.User{}).Where("id = ?", testUser).Update("coins", 10).Error)
	assert.Equal(t, int64(3), ledger.Deduct(ctx, db, testUser, 9, "RF2", 4))

	summary, err := ledger.Summary(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(7), summary.Balance)
}
