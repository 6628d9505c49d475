package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentKind classifies what the user is asking for
type IntentKind string

const (
	IntentSearchProduct  IntentKind = "SEARCH_PRODUCT"
	IntentCreateOrder    IntentKind = "CREATE_ORDER"
	IntentCheckInventory IntentKind = "CHECK_INVENTORY"
	IntentOther          IntentKind = "OTHER"
)

// Intent is the structured classification of a chat message.
// Built once per inbound message and never mutated afterwards.
type Intent struct {
	Kind         IntentKind `json:"kind"`
	ProductQuery string     `json:"product_query,omitempty"`
	ProductID    string     `json:"product_id,omitempty"`
	Quantity     int        `json:"quantity,omitempty"`
}

// Product is the catalog-adapter-normalized view of a backend product
type Product struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Currency          string          `json:"currency"`
	AvailableQuantity int             `json:"available_quantity"`
}

// PriceBreakdown is the computed price for one order.
// Total is always Subtotal + ServiceFee at minor-unit precision.
type PriceBreakdown struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	ServiceFee decimal.Decimal `json:"service_fee"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
}

// Customer carries best-effort buyer info for the commerce backend
type Customer struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// LineItem is a product snapshot at order time
type LineItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderRequest is what the catalog adapter needs to create a backend order
type OrderRequest struct {
	Items    []LineItem     `json:"items"`
	Customer Customer       `json:"customer"`
	Price    PriceBreakdown `json:"price"`
}

// ExternalOrder is the handle returned by the commerce backend
type ExternalOrder struct {
	ID     string `json:"id"`
	Number string `json:"number,omitempty"`
}

// Order statuses
const (
	OrderStatusPending = "PENDING"
	OrderStatusPaid    = "PAID"
	OrderStatusFailed  = "FAILED"
)

// Order is the locally recorded saga state for one purchase.
// The external commerce backend stays authoritative; this row exists so a
// reconciliation pass can find orders stuck in PENDING.
type Order struct {
	ID             int64           `db:"id" json:"id"`
	ExternalID     string          `db:"external_id" json:"external_id"`
	UserID         string          `db:"user_id" json:"user_id"`
	ProductID      string          `db:"product_id" json:"product_id"`
	ProductTitle   string          `db:"product_title" json:"product_title"`
	Quantity       int             `db:"quantity" json:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	ServiceFee     decimal.Decimal `db:"service_fee" json:"service_fee"`
	Total          decimal.Decimal `db:"total" json:"total"`
	Currency       string          `db:"currency" json:"currency"`
	CustomerName   string          `db:"customer_name" json:"customer_name,omitempty"`
	CustomerEmail  string          `db:"customer_email" json:"customer_email,omitempty"`
	Status         string          `db:"status" json:"status"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Breakdown rebuilds the price breakdown stored on the order
func (o *Order) Breakdown() PriceBreakdown {
	return PriceBreakdown{
		Subtotal:   o.Subtotal,
		ServiceFee: o.ServiceFee,
		Total:      o.Total,
		Currency:   o.Currency,
	}
}

// PaymentIntent statuses
const (
	PaymentStatusCreated  = "CREATED"
	PaymentStatusApproved = "APPROVED"
	PaymentStatusCaptured = "CAPTURED"
	PaymentStatusFailed   = "FAILED"
)

// Payment providers
const (
	ProviderPayPal = "paypal"
	ProviderStripe = "stripe"
)

// PaymentIntent is the provider-side payment handle bound 1:1 to an order
type PaymentIntent struct {
	ID           string          `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	Provider     string          `db:"provider" json:"provider"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Currency     string          `db:"currency" json:"currency"`
	Status       string          `db:"status" json:"status"`
	ApprovalURL  string          `db:"approval_url" json:"approval_url,omitempty"`
	ClientSecret string          `db:"client_secret" json:"client_secret,omitempty"`
	CaptureID    string          `db:"capture_id" json:"capture_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// CaptureResult is the outcome of a (possibly short-circuited) capture
type CaptureResult struct {
	IntentID  string          `json:"payment_intent_id"`
	CaptureID string          `json:"capture_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// ProcessedEvent records an applied provider event for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
