package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"shop-assistant/config"
	"shop-assistant/internal/models"
	"shop-assistant/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	intent models.Intent
	reply  string
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, message string) (models.Intent, error) {
	return f.intent, f.err
}

func (f *fakeClassifier) Reply(ctx context.Context, message string) (string, error) {
	return f.reply, f.err
}

type fakeCatalog struct {
	products     map[string]models.Product
	searchHits   []models.Product
	orderCounter int
	createCalls  int
	searchCalls  int
	getCalls     int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: make(map[string]models.Product)}
}

func (f *fakeCatalog) Name() string { return "fake" }

func (f *fakeCatalog) SearchByTitle(ctx context.Context, query string) ([]models.Product, error) {
	f.searchCalls++
	return f.searchHits, nil
}

func (f *fakeCatalog) GetByID(ctx context.Context, id string) (*models.Product, error) {
	f.getCalls++
	p, ok := f.products[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return &p, nil
}

func (f *fakeCatalog) CreateOrder(ctx context.Context, req *models.OrderRequest) (*models.ExternalOrder, error) {
	f.createCalls++
	f.orderCounter++
	return &models.ExternalOrder{
		ID:     fmt.Sprintf("ext-%d", f.orderCounter),
		Number: fmt.Sprintf("%d", 1000+f.orderCounter),
	}, nil
}

type fakeGateway struct {
	createErr    error
	captureErr   error
	createCalls  int
	captureCalls int
	intents      map[string]string // intent id -> status
	counter      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: make(map[string]string)}
}

func (f *fakeGateway) Provider() string { return "paypal" }

func (f *fakeGateway) Create(ctx context.Context, req payment.Request) (*models.PaymentIntent, error) {
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.counter++
	id := fmt.Sprintf("PAY-%d", f.counter)
	f.intents[id] = models.PaymentStatusCreated
	return &models.PaymentIntent{
		ID:          id,
		Provider:    "paypal",
		Amount:      req.Breakdown.Total,
		Currency:    req.Breakdown.Currency,
		Status:      models.PaymentStatusCreated,
		ApprovalURL: "https://paypal.test/approve/" + id,
	}, nil
}

func (f *fakeGateway) Capture(ctx context.Context, intentID string) (*models.CaptureResult, error) {
	f.captureCalls++
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	f.intents[intentID] = models.PaymentStatusCaptured
	return &models.CaptureResult{
		IntentID:  intentID,
		CaptureID: "CAP-" + intentID,
		Status:    models.PaymentStatusCaptured,
		Amount:    decimal.RequireFromString("30.47"),
		Currency:  "EUR",
	}, nil
}

func (f *fakeGateway) Confirm(ctx context.Context, intentID, clientSecret string) (*models.PaymentIntent, error) {
	return &models.PaymentIntent{ID: intentID, Status: models.PaymentStatusApproved}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	orders    map[int64]*models.Order
	byKey     map[string]int64
	intents   map[string]*models.PaymentIntent
	processed map[string]bool
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[int64]*models.Order),
		byKey:     make(map[string]int64),
		intents:   make(map[string]*models.PaymentIntent),
		processed: make(map[string]bool),
	}
}

func (f *fakeStore) CreateOrder(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order.IdempotencyKey != "" {
		if _, exists := f.byKey[order.IdempotencyKey]; exists {
			return fmt.Errorf(`duplicate key value violates unique constraint "orders_idempotency_key_key"`)
		}
	}
	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	copied := *order
	f.orders[order.ID] = &copied
	if order.IdempotencyKey != "" {
		f.byKey[order.IdempotencyKey] = order.ID
	}
	return nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	copied := *order
	return &copied, nil
}

func (f *fakeStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[key]
	if !ok {
		return nil, nil
	}
	copied := *f.orders[id]
	return &copied, nil
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order, ok := f.orders[orderID]; ok {
		order.Status = status
	}
	return nil
}

func (f *fakeStore) MarkOrderPaid(ctx context.Context, orderID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok || order.Status != models.OrderStatusPending {
		return false, nil
	}
	order.Status = models.OrderStatusPaid
	return true, nil
}

func (f *fakeStore) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *intent
	f.intents[intent.ID] = &copied
	return nil
}

func (f *fakeStore) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return nil, fmt.Errorf("payment intent not found: %s", id)
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeStore) GetPaymentIntentByOrderID(ctx context.Context, orderID int64) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, intent := range f.intents {
		if intent.OrderID == orderID {
			copied := *intent
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("payment intent not found for order: %d", orderID)
}

func (f *fakeStore) UpdatePaymentIntentStatus(ctx context.Context, id, status, captureID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.intents[id]; ok {
		intent.Status = status
		intent.CaptureID = captureID
	}
	return nil
}

func (f *fakeStore) MarkPaymentIntentCaptured(ctx context.Context, id, captureID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok || intent.Status == models.PaymentStatusCaptured {
		return false, nil
	}
	intent.Status = models.PaymentStatusCaptured
	intent.CaptureID = captureID
	return true, nil
}

func (f *fakeStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID], nil
}

func (f *fakeStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	seen        map[string]bool
	captures    map[string]*models.CaptureResult
	idempotency map[string]interface{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		seen:        make(map[string]bool),
		captures:    make(map[string]*models.CaptureResult),
		idempotency: make(map[string]interface{}),
	}
}

func (f *fakeCache) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeCache) CacheCaptureResult(ctx context.Context, intentID string, result interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := result.(*models.CaptureResult); ok {
		copied := *r
		f.captures[intentID] = &copied
	}
	return nil
}

func (f *fakeCache) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idempotency[key] = value
	return nil
}

func (f *fakeCache) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.idempotency[key]
	return ok, nil
}

func (f *fakeCache) GetCaptureResult(ctx context.Context, intentID string, out interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cached, ok := f.captures[intentID]
	if !ok {
		return false, nil
	}
	if target, ok := out.(*models.CaptureResult); ok {
		*target = *cached
	}
	return true, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	created  []*models.OrderCreatedEvent
	payments []*models.PaymentCreatedEvent
	captured []*models.PaymentCapturedEvent
	failed   []*models.PaymentFailedEvent
	provider []*models.ProviderEvent
}

func (f *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return nil
}

func (f *fakePublisher) PublishPaymentCreated(ctx context.Context, e *models.PaymentCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, e)
	return nil
}

func (f *fakePublisher) PublishPaymentCaptured(ctx context.Context, e *models.PaymentCapturedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = append(f.captured, e)
	return nil
}

func (f *fakePublisher) PublishPaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, e)
	return nil
}

func (f *fakePublisher) PublishProviderEvent(ctx context.Context, e *models.ProviderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provider = append(f.provider, e)
	return nil
}

type fixture struct {
	orchestrator *Orchestrator
	classifier   *fakeClassifier
	catalog      *fakeCatalog
	gateway      *fakeGateway
	store        *fakeStore
	cache        *fakeCache
	publisher    *fakePublisher
}

func newFixture() *fixture {
	f := &fixture{
		classifier: &fakeClassifier{},
		catalog:    newFakeCatalog(),
		gateway:    newFakeGateway(),
		store:      newFakeStore(),
		cache:      newFakeCache(),
		publisher:  &fakePublisher{},
	}
	business := config.BusinessConfig{
		ServiceFee:      decimal.RequireFromString("0.50"),
		Currency:        "EUR",
		ClassifyTimeout: time.Second,
		CatalogTimeout:  time.Second,
		PaymentTimeout:  time.Second,
	}
	f.orchestrator = NewOrchestrator(
		f.classifier, f.catalog, f.gateway, f.store, f.cache, f.publisher,
		business, "http://localhost:8080")
	return f
}

func (f *fixture) withProduct(id, title, price string, available int) {
	f.catalog.products[id] = models.Product{
		ID:                id,
		Title:             title,
		UnitPrice:         decimal.RequireFromString(price),
		Currency:          "EUR",
		AvailableQuantity: available,
	}
}

func TestHandleChatCreateOrder(t *testing.T) {
	f := newFixture()
	f.withProduct("42", "Mechanical Keyboard", "9.99", 12)
	f.classifier.intent = models.Intent{
		Kind:      models.IntentCreateOrder,
		ProductID: "42",
		Quantity:  3,
	}

	resp, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "buy 3 keyboards",
		UserID:  "user-1",
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Order)
	assert.Equal(t, "29.97", resp.Order.Subtotal.StringFixed(2))
	assert.Equal(t, "0.50", resp.Order.ServiceFee.StringFixed(2))
	assert.Equal(t, "30.47", resp.Order.Total.StringFixed(2))
	assert.Equal(t, models.OrderStatusPending, resp.Order.Status)
	assert.Equal(t, "EUR", resp.Order.Currency)

	require.NotNil(t, resp.Payment)
	assert.Equal(t, "30.47", resp.Payment.Amount)
	assert.Equal(t, "0.50", resp.Payment.ServiceFee)
	assert.Equal(t, models.PaymentStatusCreated, resp.Payment.Status)
	assert.NotEmpty(t, resp.Payment.ApprovalURL)

	assert.Len(t, f.publisher.created, 1)
	assert.Len(t, f.publisher.payments, 1)
	assert.Equal(t, "30.47", f.publisher.payments[0].Amount)
}

func TestHandleChatCreateOrderWithoutProduct(t *testing.T) {
	f := newFixture()
	f.classifier.intent = models.Intent{Kind: models.IntentCreateOrder}

	resp, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "I want to buy it",
		UserID:  "user-1",
	})
	require.NoError(t, err)

	// ambiguous reference asks for clarification instead of guessing
	assert.Nil(t, resp.Order)
	assert.Nil(t, resp.Payment)
	assert.Contains(t, resp.Message, "select a specific product")
	assert.Zero(t, f.catalog.createCalls)
	assert.Zero(t, f.gateway.createCalls)
}

func TestHandleChatSearchNoResults(t *testing.T) {
	f := newFixture()
	f.classifier.intent = models.Intent{
		Kind:         models.IntentSearchProduct,
		ProductQuery: "quantum widget",
	}

	resp, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "find me a quantum widget",
		UserID:  "user-1",
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Products)
	assert.Nil(t, resp.Order)
	assert.Contains(t, resp.Message, "no products")
	assert.Zero(t, f.catalog.createCalls)
}

func TestHandleChatSearchResults(t *testing.T) {
	f := newFixture()
	f.catalog.searchHits = []models.Product{
		{ID: "1", Title: "Blue Shirt", UnitPrice: decimal.RequireFromString("19.90"), Currency: "EUR"},
		{ID: "2", Title: "Blue Jeans", UnitPrice: decimal.RequireFromString("49.00"), Currency: "EUR"},
	}
	f.classifier.intent = models.Intent{
		Kind:         models.IntentSearchProduct,
		ProductQuery: "blue",
	}

	resp, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "show me blue things",
		UserID:  "user-1",
	})
	require.NoError(t, err)
	assert.Len(t, resp.Products, 2)
}

func TestHandleChatInventory(t *testing.T) {
	f := newFixture()
	f.withProduct("7", "Desk Lamp", "24.00", 5)
	f.classifier.intent = models.Intent{
		Kind:      models.IntentCheckInventory,
		ProductID: "7",
	}

	resp, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "is the desk lamp in stock?",
		UserID:  "user-1",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "5 in stock")
	require.Len(t, resp.Products, 1)
}

func TestHandleChatPaymentFailureLeavesOrderPending(t *testing.T) {
	f := newFixture()
	f.withProduct("42", "Mechanical Keyboard", "9.99", 12)
	f.classifier.intent = models.Intent{
		Kind:      models.IntentCreateOrder,
		ProductID: "42",
		Quantity:  1,
	}
	f.gateway.createErr = models.ErrPaymentUnavailable

	_, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "buy the keyboard",
		UserID:  "user-1",
	})
	require.Error(t, err)

	// the backend order was created before the payment step and stays PENDING
	order, err := f.store.GetOrderByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Len(t, f.publisher.failed, 1)
}

func TestHandleChatIdempotentReplay(t *testing.T) {
	f := newFixture()
	f.withProduct("42", "Mechanical Keyboard", "9.99", 12)
	f.classifier.intent = models.Intent{
		Kind:      models.IntentCreateOrder,
		ProductID: "42",
		Quantity:  3,
	}
	req := &ChatRequest{
		Message:        "buy 3 keyboards",
		UserID:         "user-1",
		IdempotencyKey: "key-abc",
	}

	first, err := f.orchestrator.HandleChat(context.Background(), req)
	require.NoError(t, err)

	second, err := f.orchestrator.HandleChat(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, f.catalog.createCalls)
	assert.Equal(t, 1, f.gateway.createCalls)
	require.NotNil(t, second.Payment)
	assert.Equal(t, first.Payment.IntentID, second.Payment.IntentID)

	// the key landed in the cache fast path
	seen, err := f.cache.CheckIdempotencyKey(context.Background(), "key-abc")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestHandleChatIdempotentReplayAfterCacheLoss(t *testing.T) {
	f := newFixture()
	f.withProduct("42", "Mechanical Keyboard", "9.99", 12)
	f.classifier.intent = models.Intent{
		Kind:      models.IntentCreateOrder,
		ProductID: "42",
		Quantity:  3,
	}
	req := &ChatRequest{
		Message:        "buy 3 keyboards",
		UserID:         "user-1",
		IdempotencyKey: "key-abc",
	}

	first, err := f.orchestrator.HandleChat(context.Background(), req)
	require.NoError(t, err)

	// a flushed cache must not double-create; the unique column catches
	// the duplicate and the stored order is replayed
	f.cache.mu.Lock()
	f.cache.idempotency = make(map[string]interface{})
	f.cache.mu.Unlock()

	second, err := f.orchestrator.HandleChat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	f.store.mu.Lock()
	assert.Len(t, f.store.orders, 1)
	f.store.mu.Unlock()
}

func TestHandleChatProductNotFound(t *testing.T) {
	f := newFixture()
	f.classifier.intent = models.Intent{
		Kind:      models.IntentCreateOrder,
		ProductID: "999",
	}

	_, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "buy product 999",
		UserID:  "user-1",
	})
	require.ErrorIs(t, err, models.ErrProductNotFound)
	assert.Zero(t, f.catalog.createCalls)
	assert.Zero(t, f.gateway.createCalls)
}

func TestHandleChatValidation(t *testing.T) {
	f := newFixture()

	_, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{Message: "hi"})
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = f.orchestrator.HandleChat(context.Background(), &ChatRequest{UserID: "user-1"})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestHandleChatOtherFallsBackToReply(t *testing.T) {
	f := newFixture()
	f.classifier.intent = models.Intent{Kind: models.IntentOther}
	f.classifier.reply = "I can help you search for products and place orders."

	resp, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "what's the weather?",
		UserID:  "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, f.classifier.reply, resp.Message)
}

func createOrderWithPayment(t *testing.T, f *fixture) (*models.Order, *PaymentHandle) {
	t.Helper()
	f.withProduct("42", "Mechanical Keyboard", "9.99", 12)
	f.classifier.intent = models.Intent{
		Kind:      models.IntentCreateOrder,
		ProductID: "42",
		Quantity:  3,
	}
	resp, err := f.orchestrator.HandleChat(context.Background(), &ChatRequest{
		Message: "buy 3 keyboards",
		UserID:  "user-1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Payment)
	return resp.Order, resp.Payment
}

func TestCapturePayment(t *testing.T) {
	f := newFixture()
	order, handle := createOrderWithPayment(t, f)

	result, err := f.orchestrator.CapturePayment(context.Background(), handle.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCaptured, result.Status)
	assert.NotEmpty(t, result.CaptureID)

	stored, err := f.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.Len(t, f.publisher.captured, 1)
}

func TestCapturePaymentIdempotent(t *testing.T) {
	f := newFixture()
	_, handle := createOrderWithPayment(t, f)

	first, err := f.orchestrator.CapturePayment(context.Background(), handle.IntentID)
	require.NoError(t, err)

	second, err := f.orchestrator.CapturePayment(context.Background(), handle.IntentID)
	require.NoError(t, err)

	// the second call answers from the recorded result
	assert.Equal(t, first.CaptureID, second.CaptureID)
	assert.Equal(t, 1, f.gateway.captureCalls)
	assert.Len(t, f.publisher.captured, 1)
}

func TestCapturePaymentNotApproved(t *testing.T) {
	f := newFixture()
	order, handle := createOrderWithPayment(t, f)
	f.gateway.captureErr = models.ErrPaymentNotApproved

	_, err := f.orchestrator.CapturePayment(context.Background(), handle.IntentID)
	require.ErrorIs(t, err, models.ErrPaymentNotApproved)

	stored, err := f.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	// retryable state, no terminal failure event
	assert.Empty(t, f.publisher.failed)
}

func TestCapturePaymentAfterOrderFailed(t *testing.T) {
	f := newFixture()
	_, handle := createOrderWithPayment(t, f)

	denied := &models.ProviderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "WH-9",
			EventType: models.EventTypeProviderWebhook,
			Timestamp: time.Now(),
		},
		Provider: models.ProviderPayPal,
		Kind:     models.ProviderEventCaptureDenied,
		IntentID: handle.IntentID,
	}
	require.NoError(t, f.orchestrator.ApplyProviderEvent(context.Background(), denied))

	// the order already failed; the provider must not be asked to capture
	_, err := f.orchestrator.CapturePayment(context.Background(), handle.IntentID)
	require.ErrorIs(t, err, models.ErrOrderNotPayable)
	assert.Zero(t, f.gateway.captureCalls)

	intent, err := f.store.GetPaymentIntent(context.Background(), handle.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, intent.Status)
}

func TestApplyProviderEventCaptureCompleted(t *testing.T) {
	f := newFixture()
	order, handle := createOrderWithPayment(t, f)

	event := &models.ProviderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "WH-1",
			EventType: models.EventTypeProviderWebhook,
			Timestamp: time.Now(),
		},
		Provider:   models.ProviderPayPal,
		Kind:       models.ProviderEventCaptureCompleted,
		IntentID:   handle.IntentID,
		ResourceID: "CAP-webhook",
	}
	require.NoError(t, f.orchestrator.ApplyProviderEvent(context.Background(), event))

	stored, err := f.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)

	intent, err := f.store.GetPaymentIntent(context.Background(), handle.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCaptured, intent.Status)
	assert.Equal(t, "CAP-webhook", intent.CaptureID)
	assert.Zero(t, f.gateway.captureCalls)
}

func TestApplyProviderEventDuplicate(t *testing.T) {
	f := newFixture()
	_, handle := createOrderWithPayment(t, f)

	event := &models.ProviderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "WH-1",
			EventType: models.EventTypeProviderWebhook,
			Timestamp: time.Now(),
		},
		Provider:   models.ProviderPayPal,
		Kind:       models.ProviderEventCaptureCompleted,
		IntentID:   handle.IntentID,
		ResourceID: "CAP-webhook",
	}
	require.NoError(t, f.orchestrator.ApplyProviderEvent(context.Background(), event))
	require.NoError(t, f.orchestrator.ApplyProviderEvent(context.Background(), event))

	assert.Len(t, f.publisher.captured, 1)
}

func TestApplyProviderEventCaptureDenied(t *testing.T) {
	f := newFixture()
	order, handle := createOrderWithPayment(t, f)

	event := &models.ProviderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "WH-2",
			EventType: models.EventTypeProviderWebhook,
			Timestamp: time.Now(),
		},
		Provider: models.ProviderPayPal,
		Kind:     models.ProviderEventCaptureDenied,
		IntentID: handle.IntentID,
	}
	require.NoError(t, f.orchestrator.ApplyProviderEvent(context.Background(), event))

	stored, err := f.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.Len(t, f.publisher.failed, 1)
}

func TestApplyProviderEventUnknownIntent(t *testing.T) {
	f := newFixture()

	event := &models.ProviderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "WH-3",
			EventType: models.EventTypeProviderWebhook,
			Timestamp: time.Now(),
		},
		Provider: models.ProviderStripe,
		Kind:     models.ProviderEventCaptureCompleted,
		IntentID: "pi_unknown",
	}
	// unknown intents are acked so the provider stops redelivering
	require.NoError(t, f.orchestrator.ApplyProviderEvent(context.Background(), event))
}

func TestNormalizePayPalEvent(t *testing.T) {
	body := []byte(`{
		"id": "WH-58D329510W468432D",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "3C679366HH908993F",
			"supplementary_data": {
				"related_ids": {"order_id": "5O190127TN364715T"}
			}
		}
	}`)

	event, err := NormalizePayPalEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "WH-58D329510W468432D", event.EventID)
	assert.Equal(t, models.ProviderPayPal, event.Provider)
	assert.Equal(t, models.ProviderEventCaptureCompleted, event.Kind)
	assert.Equal(t, "5O190127TN364715T", event.IntentID)
	assert.Equal(t, "3C679366HH908993F", event.ResourceID)
}

func TestNormalizePayPalEventUnknownType(t *testing.T) {
	body := []byte(`{"id": "WH-1", "event_type": "BILLING.SUBSCRIPTION.CREATED", "resource": {"id": "R-1"}}`)

	event, err := NormalizePayPalEvent(body)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderEventUnknown, event.Kind)
}

func TestNormalizeStripeEvent(t *testing.T) {
	body := []byte(`{
		"id": "evt_1NG8Du2eZvKYlo2C",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_3MtwBwLkdIwHu7ix", "latest_charge": "ch_3MtwBw"}}
	}`)

	event, err := NormalizeStripeEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "evt_1NG8Du2eZvKYlo2C", event.EventID)
	assert.Equal(t, models.ProviderStripe, event.Provider)
	assert.Equal(t, models.ProviderEventCaptureCompleted, event.Kind)
	assert.Equal(t, "pi_3MtwBwLkdIwHu7ix", event.IntentID)
	assert.Equal(t, "ch_3MtwBw", event.ResourceID)
}

func TestNormalizeStripeEventFailed(t *testing.T) {
	body := []byte(`{"id": "evt_2", "type": "payment_intent.payment_failed", "data": {"object": {"id": "pi_failed"}}}`)

	event, err := NormalizeStripeEvent(body)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderEventCaptureDenied, event.Kind)
	assert.Equal(t, "pi_failed", event.ResourceID)
}
