package models

import "time"

// Event types
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderPaid       = "ORDER_PAID"
	EventTypeOrderFailed     = "ORDER_FAILED"
	EventTypePaymentCreated  = "PAYMENT_CREATED"
	EventTypePaymentCaptured = "PAYMENT_CAPTURED"
	EventTypePaymentFailed   = "PAYMENT_FAILED"
	EventTypeProviderWebhook = "PROVIDER_WEBHOOK"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a backend order has been created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	ExternalID string `json:"external_id"`
	UserID     string `json:"user_id"`
	Total      string `json:"total"`
	Currency   string `json:"currency"`
}

// PaymentCreatedEvent published when a payment intent has been created
type PaymentCreatedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	IntentID string `json:"payment_intent_id"`
	Provider string `json:"provider"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// PaymentCapturedEvent published when a capture has settled
type PaymentCapturedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	IntentID  string `json:"payment_intent_id"`
	CaptureID string `json:"capture_id"`
	Provider  string `json:"provider"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// PaymentFailedEvent published when payment creation or capture failed
type PaymentFailedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	IntentID string `json:"payment_intent_id,omitempty"`
	Reason   string `json:"reason"`
}

// ProviderEvent is a normalized provider webhook payload queued for the
// webhook worker. EventID is the provider's delivery id and is the
// idempotency key for application.
type ProviderEvent struct {
	BaseEvent
	Provider   string `json:"provider"`
	Kind       string `json:"kind"`
	IntentID   string `json:"payment_intent_id"`
	ResourceID string `json:"resource_id,omitempty"`
}

// Normalized provider event kinds
const (
	ProviderEventCaptureCompleted = "CAPTURE_COMPLETED"
	ProviderEventCaptureDenied    = "CAPTURE_DENIED"
	ProviderEventUnknown          = "UNKNOWN"
)
