package pricing

import (
	"testing"

	"shop-assistant/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fee = decimal.RequireFromString("0.50")

func product(price string) *models.Product {
	return &models.Product{
		ID:        "42",
		Title:     "Umbrella",
		UnitPrice: decimal.RequireFromString(price),
		Currency:  "EUR",
	}
}

func TestBreakdown(t *testing.T) {
	b, err := Breakdown(product("9.99"), 3, fee)
	require.NoError(t, err)

	assert.Equal(t, "29.97", b.Subtotal.StringFixed(2))
	assert.Equal(t, "0.50", b.ServiceFee.StringFixed(2))
	assert.Equal(t, "30.47", b.Total.StringFixed(2))
	assert.Equal(t, "EUR", b.Currency)
}

func TestBreakdownExactSum(t *testing.T) {
	cases := []struct {
		price string
		qty   int
	}{
		{"0.00", 1},
		{"0.01", 1},
		{"9.99", 3},
		{"19.90", 7},
		{"1234.56", 99},
		{"0.10", 10},
	}

	for _, tc := range cases {
		b, err := Breakdown(product(tc.price), tc.qty, fee)
		require.NoError(t, err)

		unit := decimal.RequireFromString(tc.price)
		assert.True(t, b.Subtotal.Equal(unit.Mul(decimal.NewFromInt(int64(tc.qty)))),
			"subtotal mismatch for %s x %d", tc.price, tc.qty)
		assert.True(t, b.Total.Equal(b.Subtotal.Add(b.ServiceFee)),
			"total mismatch for %s x %d", tc.price, tc.qty)
	}
}

func TestBreakdownInvalidQuantity(t *testing.T) {
	for _, qty := range []int{0, -1, -100} {
		_, err := Breakdown(product("9.99"), qty, fee)
		assert.ErrorIs(t, err, models.ErrInvalidQuantity)
	}
}

func TestBreakdownDeterministic(t *testing.T) {
	p := product("7.25")

	first, err := Breakdown(p, 4, fee)
	require.NoError(t, err)
	second, err := Breakdown(p, 4, fee)
	require.NoError(t, err)

	assert.Equal(t, first.Total.String(), second.Total.String())
	assert.Equal(t, first.Subtotal.String(), second.Subtotal.String())
}
