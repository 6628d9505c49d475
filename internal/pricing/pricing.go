// Package pricing computes order totals. Pure functions only: no I/O, no
// clock, no state, so quotes can be computed speculatively without
// committing anything.
package pricing

import (
	"fmt"

	"shop-assistant/internal/models"

	"github.com/shopspring/decimal"
)

// Breakdown computes subtotal, service fee and total for quantity units of
// product. The fee is the process-wide constant from config, passed in
// explicitly. All arithmetic is exact decimal; total == subtotal + fee at
// the currency's minor-unit precision, with no rounding step in between.
func Breakdown(product *models.Product, quantity int, fee decimal.Decimal) (models.PriceBreakdown, error) {
	if quantity < 1 {
		return models.PriceBreakdown{}, fmt.Errorf("%w: %d", models.ErrInvalidQuantity, quantity)
	}

	subtotal := product.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))

	return models.PriceBreakdown{
		Subtotal:   subtotal,
		ServiceFee: fee,
		Total:      subtotal.Add(fee),
		Currency:   product.Currency,
	}, nil
}
