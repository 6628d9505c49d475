// Package payment abstracts interchangeable payment processors behind one
// create/confirm/capture contract. Each backend encodes amounts its own way
// (decimal-string breakdowns for redirect providers, minor-unit integers for
// intent providers); the contract is that the provider-reported total always
// equals the order's PriceBreakdown.Total and the service fee stays visible
// as its own component.
package payment

import (
	"context"
	"fmt"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/util"

	"github.com/shopspring/decimal"
)

// Request describes the payment to create for one order
type Request struct {
	ReferenceID string // order reference for the provider's books
	Description string
	Breakdown   models.PriceBreakdown
	ReturnURL   string // redirect-style providers only
	CancelURL   string
}

// Gateway is the polymorphic payment processor contract. Capture on an
// intent the provider reports as not yet approved fails with
// ErrPaymentNotApproved; transport failures on any call surface as
// ErrPaymentUnavailable.
type Gateway interface {
	Provider() string
	Create(ctx context.Context, req Request) (*models.PaymentIntent, error)
	Capture(ctx context.Context, intentID string) (*models.CaptureResult, error)
	Confirm(ctx context.Context, intentID, clientSecret string) (*models.PaymentIntent, error)
}

// validate rejects breakdowns before any provider call: non-positive totals,
// legs that do not sum to the total, and sub-cent legs. Both wire formats
// carry exactly two decimal places, so a sub-cent leg cannot round-trip
// without the provider-reported total diverging from the breakdown.
func validate(req Request) error {
	if !req.Breakdown.Total.IsPositive() {
		return fmt.Errorf("%w: %s", models.ErrInvalidAmount, req.Breakdown.Total)
	}
	if !req.Breakdown.Total.Equal(req.Breakdown.Subtotal.Add(req.Breakdown.ServiceFee)) {
		return fmt.Errorf("%w: breakdown does not sum to total", models.ErrInvalidAmount)
	}
	for _, leg := range []decimal.Decimal{req.Breakdown.Subtotal, req.Breakdown.ServiceFee, req.Breakdown.Total} {
		if _, err := minorUnits(leg); err != nil {
			return err
		}
	}
	return nil
}

// minorUnits converts a decimal amount to the currency's minor-unit integer
// representation, refusing amounts with sub-cent precision.
func minorUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s has sub-cent precision", models.ErrInvalidAmount, amount)
	}
	return shifted.IntPart(), nil
}

// parseMoney parses a provider decimal-string amount
func parseMoney(value string) (decimal.Decimal, error) {
	return decimal.NewFromString(value)
}

// observePayment times one provider call for the latency histogram
func observePayment(provider, operation string) func() {
	start := time.Now()
	return func() {
		util.PaymentRequestLatency.WithLabelValues(provider, operation).
			Observe(time.Since(start).Seconds())
	}
}
