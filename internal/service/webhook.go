package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const eventSeenTTL = 24 * time.Hour

// ApplyProviderEvent applies a normalized provider webhook event to local
// state. Duplicate deliveries are detected by event id and dropped; the
// Redis check is the fast path and the processed_events table the durable
// backstop.
func (o *Orchestrator) ApplyProviderEvent(ctx context.Context, event *models.ProviderEvent) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.ApplyProviderEvent")
	defer span.End()

	first, err := o.cache.MarkEventSeen(ctx, event.EventID, eventSeenTTL)
	if err != nil {
		o.logger.Warn("Redis dedup check failed, falling back to database",
			zap.Error(err))
	} else if !first {
		util.WebhookDuplicatesTotal.Inc()
		return nil
	}

	processed, err := o.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check processed events: %w", err)
	}
	if processed {
		util.WebhookDuplicatesTotal.Inc()
		return nil
	}

	util.WebhookEventsTotal.WithLabelValues(event.Provider, event.Kind).Inc()

	switch event.Kind {
	case models.ProviderEventCaptureCompleted:
		if err := o.applyCaptureCompleted(ctx, event); err != nil {
			return err
		}
	case models.ProviderEventCaptureDenied:
		if err := o.applyCaptureDenied(ctx, event); err != nil {
			return err
		}
	default:
		o.logger.Info("Ignoring unhandled provider event",
			zap.String("provider", event.Provider),
			zap.String("kind", event.Kind))
	}

	if err := o.store.MarkEventProcessed(ctx, event.EventID, models.EventTypeProviderWebhook); err != nil {
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	return nil
}

// applyCaptureCompleted records a capture the provider already performed.
// The money has moved; this path never calls the gateway.
func (o *Orchestrator) applyCaptureCompleted(ctx context.Context, event *models.ProviderEvent) error {
	intent, err := o.store.GetPaymentIntent(ctx, event.IntentID)
	if err != nil {
		// webhook for an intent we never recorded; ack and move on
		o.logger.Warn("Webhook references unknown payment intent",
			zap.String("intent_id", event.IntentID),
			zap.String("event_id", event.EventID))
		return nil
	}

	if intent.Status == models.PaymentStatusCaptured {
		return nil
	}

	o.finalizeCapture(ctx, intent, event.ResourceID, intent.Amount.StringFixed(2))
	return nil
}

func (o *Orchestrator) applyCaptureDenied(ctx context.Context, event *models.ProviderEvent) error {
	intent, err := o.store.GetPaymentIntent(ctx, event.IntentID)
	if err != nil {
		o.logger.Warn("Webhook references unknown payment intent",
			zap.String("intent_id", event.IntentID),
			zap.String("event_id", event.EventID))
		return nil
	}

	if intent.Status == models.PaymentStatusCaptured {
		// a completed capture outranks a late denial
		return nil
	}

	if err := o.store.UpdatePaymentIntentStatus(ctx, intent.ID, models.PaymentStatusFailed, ""); err != nil {
		return fmt.Errorf("failed to fail payment intent: %w", err)
	}
	if err := o.store.UpdateOrderStatus(ctx, intent.OrderID, models.OrderStatusFailed); err != nil {
		return fmt.Errorf("failed to fail order: %w", err)
	}

	util.PaymentsFailedTotal.WithLabelValues(intent.Provider, "capture_denied").Inc()
	util.OrdersFailedTotal.WithLabelValues("capture_denied").Inc()

	o.publishPaymentFailed(ctx, intent.OrderID, intent.ID, "capture denied by provider")
	return nil
}

type paypalWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// NormalizePayPalEvent maps a raw PayPal webhook body to a ProviderEvent
func NormalizePayPalEvent(body []byte) (*models.ProviderEvent, error) {
	var hook paypalWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("malformed paypal webhook: %w", err)
	}

	var kind string
	switch hook.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		kind = models.ProviderEventCaptureCompleted
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		kind = models.ProviderEventCaptureDenied
	default:
		kind = models.ProviderEventUnknown
	}

	// capture events carry the checkout order id in supplementary data;
	// order-level events carry it as the resource id
	intentID := hook.Resource.SupplementaryData.RelatedIDs.OrderID
	if intentID == "" {
		intentID = hook.Resource.ID
	}

	return &models.ProviderEvent{
		BaseEvent:  providerBaseEvent(hook.ID),
		Provider:   models.ProviderPayPal,
		Kind:       kind,
		IntentID:   intentID,
		ResourceID: hook.Resource.ID,
	}, nil
}

type stripeWebhook struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID           string `json:"id"`
			LatestCharge string `json:"latest_charge"`
		} `json:"object"`
	} `json:"data"`
}

// NormalizeStripeEvent maps a raw Stripe webhook body to a ProviderEvent
func NormalizeStripeEvent(body []byte) (*models.ProviderEvent, error) {
	var hook stripeWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("malformed stripe webhook: %w", err)
	}

	var kind string
	switch hook.Type {
	case "payment_intent.succeeded":
		kind = models.ProviderEventCaptureCompleted
	case "payment_intent.payment_failed", "payment_intent.canceled":
		kind = models.ProviderEventCaptureDenied
	default:
		kind = models.ProviderEventUnknown
	}

	resourceID := hook.Data.Object.LatestCharge
	if resourceID == "" {
		resourceID = hook.Data.Object.ID
	}

	return &models.ProviderEvent{
		BaseEvent:  providerBaseEvent(hook.ID),
		Provider:   models.ProviderStripe,
		Kind:       kind,
		IntentID:   hook.Data.Object.ID,
		ResourceID: resourceID,
	}, nil
}

func providerBaseEvent(eventID string) models.BaseEvent {
	if eventID == "" {
		// a provider event without an id cannot be deduplicated; give it
		// one so downstream bookkeeping still works
		eventID = uuid.New().String()
	}
	return models.BaseEvent{
		EventID:   eventID,
		EventType: models.EventTypeProviderWebhook,
		Timestamp: time.Now(),
	}
}
