package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/util"

	"go.uber.org/zap"
)

const captureResultTTL = 24 * time.Hour

// CapturePayment captures an approved payment intent. Calling it again for
// an already captured intent returns the recorded result without touching
// the provider.
func (o *Orchestrator) CapturePayment(ctx context.Context, intentID string) (*models.CaptureResult, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.CapturePayment")
	defer span.End()

	if cached := o.cachedCapture(ctx, intentID); cached != nil {
		return cached, nil
	}

	intent, err := o.store.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("payment intent %s not found: %w", intentID, err)
	}

	if intent.Status == models.PaymentStatusCaptured {
		util.CaptureShortCircuitTotal.Inc()
		o.logger.Info("Capture short-circuited, intent already captured",
			zap.String("intent_id", intentID))
		return recordedResult(intent), nil
	}

	// a capture-denied webhook may have failed the order already; the
	// provider must not be asked to move money for it
	order, err := o.store.GetOrderByID(ctx, intent.OrderID)
	if err != nil {
		return nil, fmt.Errorf("order %d not found: %w", intent.OrderID, err)
	}
	if order.Status == models.OrderStatusFailed {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrOrderNotPayable, order.ID, order.Status)
	}

	payCtx, cancel := context.WithTimeout(ctx, o.business.PaymentTimeout)
	result, err := o.gateway.Capture(payCtx, intentID)
	cancel()
	if err != nil {
		util.PaymentsFailedTotal.WithLabelValues(o.gateway.Provider(), "capture").Inc()
		// not-approved is retryable after the buyer finishes approval;
		// only hard failures get a terminal event
		if !errors.Is(err, models.ErrPaymentNotApproved) {
			o.publishPaymentFailed(ctx, intent.OrderID, intentID, err.Error())
		}
		return nil, err
	}

	if result.Status != models.PaymentStatusCaptured {
		// provider accepted the call but the money has not moved yet
		if uerr := o.store.UpdatePaymentIntentStatus(ctx, intentID, result.Status, result.CaptureID); uerr != nil {
			o.logger.Error("Failed to record capture status", zap.Error(uerr))
		}
		return result, nil
	}

	o.finalizeCapture(ctx, intent, result.CaptureID, result.Amount.StringFixed(2))

	if err := o.cache.CacheCaptureResult(ctx, intentID, result, captureResultTTL); err != nil {
		o.logger.Warn("Failed to cache capture result", zap.Error(err))
	}

	return result, nil
}

// ConfirmPayment refreshes the intent state from the provider. Stripe needs
// an explicit confirm step; for PayPal this is a status poll after redirect.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, intentID, clientSecret string) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.ConfirmPayment")
	defer span.End()

	payCtx, cancel := context.WithTimeout(ctx, o.business.PaymentTimeout)
	intent, err := o.gateway.Confirm(payCtx, intentID, clientSecret)
	cancel()
	if err != nil {
		return nil, err
	}

	if err := o.store.UpdatePaymentIntentStatus(ctx, intentID, intent.Status, intent.CaptureID); err != nil {
		o.logger.Error("Failed to record confirmed status", zap.Error(err))
	}
	return intent, nil
}

// finalizeCapture flips intent and order state exactly once and publishes
// the captured event only when this caller won the transition.
func (o *Orchestrator) finalizeCapture(ctx context.Context, intent *models.PaymentIntent, captureID, amount string) {
	first, err := o.store.MarkPaymentIntentCaptured(ctx, intent.ID, captureID)
	if err != nil {
		o.logger.Error("Failed to mark intent captured",
			zap.String("intent_id", intent.ID), zap.Error(err))
		return
	}
	if !first {
		util.CaptureShortCircuitTotal.Inc()
		return
	}

	util.PaymentsCapturedTotal.WithLabelValues(intent.Provider).Inc()

	flipped, err := o.store.MarkOrderPaid(ctx, intent.OrderID)
	if err != nil {
		o.logger.Error("Failed to mark order paid",
			zap.Int64("order_id", intent.OrderID), zap.Error(err))
	} else if flipped {
		util.OrdersPaidTotal.Inc()
	} else {
		o.logger.Warn("Captured payment for an order that already left PENDING",
			zap.Int64("order_id", intent.OrderID),
			zap.String("intent_id", intent.ID))
	}

	o.logger.Info("Payment captured",
		zap.String("intent_id", intent.ID),
		zap.String("capture_id", captureID),
		zap.Int64("order_id", intent.OrderID))

	event := &models.PaymentCapturedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCaptured),
		OrderID:   intent.OrderID,
		IntentID:  intent.ID,
		CaptureID: captureID,
		Provider:  intent.Provider,
		Amount:    amount,
		Currency:  intent.Currency,
	}
	if err := o.publisher.PublishPaymentCaptured(ctx, event); err != nil {
		o.logger.Error("Failed to publish PaymentCaptured event", zap.Error(err))
	}
}

func (o *Orchestrator) cachedCapture(ctx context.Context, intentID string) *models.CaptureResult {
	var result models.CaptureResult
	hit, err := o.cache.GetCaptureResult(ctx, intentID, &result)
	if err != nil {
		o.logger.Warn("Capture cache lookup failed", zap.Error(err))
		return nil
	}
	if !hit {
		return nil
	}
	util.CaptureShortCircuitTotal.Inc()
	return &result
}

func recordedResult(intent *models.PaymentIntent) *models.CaptureResult {
	return &models.CaptureResult{
		IntentID:  intent.ID,
		CaptureID: intent.CaptureID,
		Status:    intent.Status,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
	}
}
