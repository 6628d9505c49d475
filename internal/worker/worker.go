package worker

import (
	"context"

	"shop-assistant/internal/broker"
	"shop-assistant/internal/models"
	"shop-assistant/internal/service"
	"shop-assistant/internal/util"

	"go.uber.org/zap"
)

// WebhookWorker drains queued provider webhook events and applies them to
// local payment state. Webhook HTTP handlers only normalize and enqueue;
// this worker is the single place provider events mutate anything.
type WebhookWorker struct {
	consumer     *broker.Consumer
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

// NewWebhookWorker creates a new webhook worker
func NewWebhookWorker(consumer *broker.Consumer, orchestrator *service.Orchestrator) *WebhookWorker {
	return &WebhookWorker{
		consumer:     consumer,
		orchestrator: orchestrator,
		logger:       util.GetLogger(),
	}
}

// Start consumes events until the context is cancelled
func (w *WebhookWorker) Start(ctx context.Context) error {
	handler := broker.NewEventHandler()
	handler.OnProviderEvent(w.handleProviderEvent)

	w.logger.Info("Webhook worker starting")
	return w.consumer.StartConsuming(ctx, handler.HandleMessage)
}

func (w *WebhookWorker) handleProviderEvent(ctx context.Context, event *models.ProviderEvent) error {
	w.logger.Info("Applying provider event",
		zap.String("event_id", event.EventID),
		zap.String("provider", event.Provider),
		zap.String("kind", event.Kind),
		zap.String("intent_id", event.IntentID))

	if err := w.orchestrator.ApplyProviderEvent(ctx, event); err != nil {
		w.logger.Error("Failed to apply provider event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return err
	}
	return nil
}
