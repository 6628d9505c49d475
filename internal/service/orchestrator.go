package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-assistant/config"
	"shop-assistant/internal/catalog"
	"shop-assistant/internal/models"
	"shop-assistant/internal/payment"
	"shop-assistant/internal/pricing"
	"shop-assistant/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Classifier turns free text into intents and freeform replies
type Classifier interface {
	Classify(ctx context.Context, message string) (models.Intent, error)
	Reply(ctx context.Context, message string) (string, error)
}

// Store is the saga-state persistence the orchestrator needs
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	MarkOrderPaid(ctx context.Context, orderID int64) (bool, error)
	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	GetPaymentIntentByOrderID(ctx context.Context, orderID int64) (*models.PaymentIntent, error)
	UpdatePaymentIntentStatus(ctx context.Context, id, status, captureID string) error
	MarkPaymentIntentCaptured(ctx context.Context, id, captureID string) (bool, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// EventPublisher publishes lifecycle events to the broker
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishPaymentCreated(ctx context.Context, event *models.PaymentCreatedEvent) error
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishProviderEvent(ctx context.Context, event *models.ProviderEvent) error
}

// Cache is the Redis fast path for dedup, idempotency keys and recorded
// capture results
type Cache interface {
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	CacheCaptureResult(ctx context.Context, intentID string, result interface{}, ttl time.Duration) error
	GetCaptureResult(ctx context.Context, intentID string, out interface{}) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// Orchestrator drives a chat message from classified intent through catalog
// resolution, pricing, order creation and payment initiation, and finalizes
// payments on later capture or webhook calls.
type Orchestrator struct {
	classifier Classifier
	catalog    catalog.Catalog
	gateway    payment.Gateway
	store      Store
	cache      Cache
	publisher  EventPublisher
	business   config.BusinessConfig
	appURL     string
	logger     *zap.Logger
}

// NewOrchestrator creates a new order orchestrator
func NewOrchestrator(
	classifier Classifier,
	cat catalog.Catalog,
	gateway payment.Gateway,
	store Store,
	cache Cache,
	publisher EventPublisher,
	business config.BusinessConfig,
	appURL string,
) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		catalog:    cat,
		gateway:    gateway,
		store:      store,
		cache:      cache,
		publisher:  publisher,
		business:   business,
		appURL:     appURL,
		logger:     util.GetLogger(),
	}
}

const idempotencyKeyTTL = 24 * time.Hour

// ChatRequest is one inbound assistant message
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	UserID         string `json:"user_id" binding:"required"`
	StoreContext   string `json:"store_context,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Email          string `json:"email,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PaymentHandle is the payment reference handed back to the caller
type PaymentHandle struct {
	Provider     string `json:"provider"`
	IntentID     string `json:"payment_intent_id"`
	Status       string `json:"status"`
	Amount       string `json:"amount"`
	ServiceFee   string `json:"service_fee"`
	Currency     string `json:"currency"`
	ApprovalURL  string `json:"approval_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// ChatResponse describes what the assistant did with the message
type ChatResponse struct {
	Message  string            `json:"message"`
	Intent   models.IntentKind `json:"intent"`
	Products []models.Product  `json:"products,omitempty"`
	Order    *models.Order     `json:"order,omitempty"`
	Payment  *PaymentHandle    `json:"payment,omitempty"`
}

// HandleChat classifies the message and runs the matching pipeline
func (o *Orchestrator) HandleChat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.HandleChat")
	defer span.End()

	if req.Message == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: message and user_id are required", models.ErrValidation)
	}

	classifyCtx, cancel := context.WithTimeout(ctx, o.business.ClassifyTimeout)
	intent, err := o.classifier.Classify(classifyCtx, req.Message)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("intent classification failed: %w", err)
	}

	o.logger.Info("Intent classified",
		zap.String("kind", string(intent.Kind)),
		zap.String("user_id", req.UserID))

	switch intent.Kind {
	case models.IntentSearchProduct:
		return o.handleSearch(ctx, &intent)
	case models.IntentCheckInventory:
		return o.handleInventory(ctx, &intent)
	case models.IntentCreateOrder:
		return o.handleCreateOrder(ctx, req, &intent)
	default:
		return o.handleOther(ctx, req, &intent)
	}
}

// handleSearch is a read path; it never enters the order state machine
func (o *Orchestrator) handleSearch(ctx context.Context, intent *models.Intent) (*ChatResponse, error) {
	if intent.ProductQuery == "" {
		return &ChatResponse{
			Message: "What product should I look for?",
			Intent:  intent.Kind,
		}, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, o.business.CatalogTimeout)
	defer cancel()

	products, err := o.catalog.SearchByTitle(searchCtx, intent.ProductQuery)
	if err != nil {
		return nil, fmt.Errorf("product search failed: %w", err)
	}

	if len(products) == 0 {
		return &ChatResponse{
			Message: fmt.Sprintf("I found no products for %q.", intent.ProductQuery),
			Intent:  intent.Kind,
		}, nil
	}

	return &ChatResponse{
		Message:  fmt.Sprintf("I found %d products for %q:", len(products), intent.ProductQuery),
		Intent:   intent.Kind,
		Products: products,
	}, nil
}

func (o *Orchestrator) handleInventory(ctx context.Context, intent *models.Intent) (*ChatResponse, error) {
	catalogCtx, cancel := context.WithTimeout(ctx, o.business.CatalogTimeout)
	defer cancel()

	var product *models.Product
	switch {
	case intent.ProductID != "":
		p, err := o.catalog.GetByID(catalogCtx, intent.ProductID)
		if err != nil {
			if errors.Is(err, models.ErrProductNotFound) {
				return &ChatResponse{
					Message: fmt.Sprintf("I could not find product %s.", intent.ProductID),
					Intent:  intent.Kind,
				}, nil
			}
			return nil, fmt.Errorf("inventory lookup failed: %w", err)
		}
		product = p
	case intent.ProductQuery != "":
		products, err := o.catalog.SearchByTitle(catalogCtx, intent.ProductQuery)
		if err != nil {
			return nil, fmt.Errorf("inventory lookup failed: %w", err)
		}
		if len(products) == 0 {
			return &ChatResponse{
				Message: fmt.Sprintf("I found no products for %q.", intent.ProductQuery),
				Intent:  intent.Kind,
			}, nil
		}
		product = &products[0]
	default:
		return &ChatResponse{
			Message: "Which product's availability should I check?",
			Intent:  intent.Kind,
		}, nil
	}

	msg := fmt.Sprintf("%q is out of stock.", product.Title)
	if product.AvailableQuantity > 0 {
		msg = fmt.Sprintf("%q is available (%d in stock) at %s %s.",
			product.Title, product.AvailableQuantity,
			product.UnitPrice.StringFixed(2), product.Currency)
	}

	return &ChatResponse{
		Message:  msg,
		Intent:   intent.Kind,
		Products: []models.Product{*product},
	}, nil
}

// handleCreateOrder runs the full intent-to-payment pipeline. Failures
// before the payment step never contact the provider; a payment-create
// failure leaves the already-created order PENDING for reconciliation
// instead of rolling it back.
func (o *Orchestrator) handleCreateOrder(ctx context.Context, req *ChatRequest, intent *models.Intent) (*ChatResponse, error) {
	productID := intent.ProductID
	if productID == "" {
		productID = req.ProductID
	}
	if productID == "" {
		// ambiguous reference; never guess what to buy
		return &ChatResponse{
			Message: "Please select a specific product first.",
			Intent:  intent.Kind,
		}, nil
	}

	quantity := intent.Quantity
	if req.Quantity > 0 {
		quantity = req.Quantity
	}
	if quantity < 1 {
		quantity = 1
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	} else {
		// the Redis key answers the common fresh-key case without a
		// database read; the unique column on orders stays the durable
		// backstop
		seen, cerr := o.cache.CheckIdempotencyKey(ctx, idempotencyKey)
		if cerr != nil {
			o.logger.Warn("Idempotency cache check failed, falling back to database",
				zap.Error(cerr))
			seen = true
		}
		if seen {
			existing, err := o.store.GetOrderByIdempotencyKey(ctx, idempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("failed to check idempotency: %w", err)
			}
			if existing != nil {
				o.logger.Info("Duplicate order request detected",
					zap.String("idempotency_key", idempotencyKey),
					zap.Int64("order_id", existing.ID))
				return o.replayOrder(ctx, existing)
			}
		}
	}

	catalogCtx, cancel := context.WithTimeout(ctx, o.business.CatalogTimeout)
	product, err := o.catalog.GetByID(catalogCtx, productID)
	cancel()
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("product_resolution").Inc()
		return nil, fmt.Errorf("product resolution failed: %w", err)
	}

	breakdown, err := pricing.Breakdown(product, quantity, o.business.ServiceFee)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("pricing").Inc()
		return nil, err
	}

	orderReq := &models.OrderRequest{
		Items: []models.LineItem{{
			ProductID: product.ID,
			Title:     product.Title,
			Quantity:  quantity,
			UnitPrice: product.UnitPrice,
		}},
		Customer: models.Customer{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
		},
		Price: breakdown,
	}

	createCtx, cancel := context.WithTimeout(ctx, o.business.CatalogTimeout)
	external, err := o.catalog.CreateOrder(createCtx, orderReq)
	cancel()
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("backend_order").Inc()
		return nil, fmt.Errorf("order creation failed: %w", err)
	}

	order := &models.Order{
		ExternalID:     external.ID,
		UserID:         req.UserID,
		ProductID:      product.ID,
		ProductTitle:   product.Title,
		Quantity:       quantity,
		UnitPrice:      product.UnitPrice,
		Subtotal:       breakdown.Subtotal,
		ServiceFee:     breakdown.ServiceFee,
		Total:          breakdown.Total,
		Currency:       breakdown.Currency,
		CustomerName:   joinName(req.FirstName, req.LastName),
		CustomerEmail:  req.Email,
		Status:         models.OrderStatusPending,
		IdempotencyKey: idempotencyKey,
	}
	if err := o.store.CreateOrder(ctx, order); err != nil {
		// a lost Redis key lets a duplicate reach the unique column;
		// replay the stored order instead of failing the request
		if existing, lerr := o.store.GetOrderByIdempotencyKey(ctx, idempotencyKey); lerr == nil && existing != nil {
			o.logger.Warn("Duplicate order caught by the database, replaying",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int64("order_id", existing.ID))
			return o.replayOrder(ctx, existing)
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to record order: %w", err)
	}

	if err := o.cache.SetIdempotencyKey(ctx, idempotencyKey, order.ID, idempotencyKeyTTL); err != nil {
		o.logger.Warn("Failed to cache idempotency key", zap.Error(err))
	}

	util.OrdersCreatedTotal.Inc()
	o.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("external_id", order.ExternalID),
		zap.String("total", order.Total.StringFixed(2)))

	o.publishOrderCreated(ctx, order)

	payCtx, cancel := context.WithTimeout(ctx, o.business.PaymentTimeout)
	intentRec, err := o.gateway.Create(payCtx, payment.Request{
		ReferenceID: order.ExternalID,
		Description: fmt.Sprintf("Order #%s with service fee", orderNumber(external)),
		Breakdown:   breakdown,
		ReturnURL:   o.appURL + "/paypal-success",
		CancelURL:   o.appURL + "/paypal-cancel",
	})
	cancel()
	if err != nil {
		// the backend order stands; reconciliation picks up stuck PENDING rows
		util.PaymentsFailedTotal.WithLabelValues(o.gateway.Provider(), "create").Inc()
		o.publishPaymentFailed(ctx, order.ID, "", err.Error())
		return nil, fmt.Errorf("payment initiation failed: %w", err)
	}

	intentRec.OrderID = order.ID
	if err := o.store.CreatePaymentIntent(ctx, intentRec); err != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	util.PaymentsCreatedTotal.WithLabelValues(intentRec.Provider).Inc()
	o.publishPaymentCreated(ctx, intentRec)

	return &ChatResponse{
		Message: fmt.Sprintf("I created an order for you. The total is %s %s (including a %s %s service fee).",
			breakdown.Total.StringFixed(2), breakdown.Currency,
			breakdown.ServiceFee.StringFixed(2), breakdown.Currency),
		Intent:  intent.Kind,
		Order:   order,
		Payment: handleFromIntent(intentRec, breakdown.ServiceFee.StringFixed(2)),
	}, nil
}

func (o *Orchestrator) handleOther(ctx context.Context, req *ChatRequest, intent *models.Intent) (*ChatResponse, error) {
	replyCtx, cancel := context.WithTimeout(ctx, o.business.ClassifyTimeout)
	defer cancel()

	reply, err := o.classifier.Reply(replyCtx, req.Message)
	if err != nil {
		return nil, fmt.Errorf("assistant reply failed: %w", err)
	}
	return &ChatResponse{Message: reply, Intent: intent.Kind}, nil
}

// GetOrder returns a locally recorded order by id
func (o *Orchestrator) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return o.store.GetOrderByID(ctx, id)
}

// replayOrder answers a duplicate submission with the original outcome
func (o *Orchestrator) replayOrder(ctx context.Context, order *models.Order) (*ChatResponse, error) {
	resp := &ChatResponse{
		Message: fmt.Sprintf("This order already exists. The total is %s %s.",
			order.Total.StringFixed(2), order.Currency),
		Intent: models.IntentCreateOrder,
		Order:  order,
	}

	intent, err := o.store.GetPaymentIntentByOrderID(ctx, order.ID)
	if err == nil {
		resp.Payment = handleFromIntent(intent, order.ServiceFee.StringFixed(2))
	}
	return resp, nil
}

func (o *Orchestrator) publishOrderCreated(ctx context.Context, order *models.Order) {
	event := &models.OrderCreatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderCreated),
		OrderID:    order.ID,
		ExternalID: order.ExternalID,
		UserID:     order.UserID,
		Total:      order.Total.StringFixed(2),
		Currency:   order.Currency,
	}
	if err := o.publisher.PublishOrderCreated(ctx, event); err != nil {
		o.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (o *Orchestrator) publishPaymentCreated(ctx context.Context, intent *models.PaymentIntent) {
	event := &models.PaymentCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentCreated),
		OrderID:   intent.OrderID,
		IntentID:  intent.ID,
		Provider:  intent.Provider,
		Amount:    intent.Amount.StringFixed(2),
		Currency:  intent.Currency,
	}
	if err := o.publisher.PublishPaymentCreated(ctx, event); err != nil {
		o.logger.Error("Failed to publish PaymentCreated event", zap.Error(err))
	}
}

func (o *Orchestrator) publishPaymentFailed(ctx context.Context, orderID int64, intentID, reason string) {
	event := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		OrderID:   orderID,
		IntentID:  intentID,
		Reason:    reason,
	}
	if err := o.publisher.PublishPaymentFailed(ctx, event); err != nil {
		o.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func handleFromIntent(intent *models.PaymentIntent, serviceFee string) *PaymentHandle {
	return &PaymentHandle{
		Provider:     intent.Provider,
		IntentID:     intent.ID,
		Status:       intent.Status,
		Amount:       intent.Amount.StringFixed(2),
		ServiceFee:   serviceFee,
		Currency:     intent.Currency,
		ApprovalURL:  intent.ApprovalURL,
		ClientSecret: intent.ClientSecret,
	}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

func orderNumber(external *models.ExternalOrder) string {
	if external.Number != "" {
		return external.Number
	}
	return external.ID
}
