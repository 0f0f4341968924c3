package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"250", 25000},
		{"199", 19900},
		{"0.5", 50},
		{"10.005", 1001},
		{"0", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToMinor(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestFromMinor(t *testing.T) {
	assert.Equal(t, "250", FromMinor(25000).String())
	assert.Equal(t, "1.99", FromMinor(199).String())
	assert.True(t, FromMinor(25000).Equal(decimal.NewFromInt(250)))
}
