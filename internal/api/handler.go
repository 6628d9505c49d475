package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/service"
	"shop-assistant/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler wires HTTP endpoints to the orchestrator
type Handler struct {
	orchestrator *service.Orchestrator
	publisher    service.EventPublisher
	readyCheck   func(ctx context.Context) error
	logger       *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(orchestrator *service.Orchestrator, publisher service.EventPublisher, readyCheck func(ctx context.Context) error) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		publisher:    publisher,
		readyCheck:   readyCheck,
		logger:       util.GetLogger(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(prometheusMiddleware())

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/chat", h.Chat)
		v1.GET("/orders/:id", h.GetOrder)
		v1.POST("/payments/capture", h.CapturePayment)
		v1.POST("/payments/confirm", h.ConfirmPayment)
		v1.POST("/webhooks/paypal", h.PayPalWebhook)
		v1.POST("/webhooks/stripe", h.StripeWebhook)
	}
}

// Chat handles one assistant message
func (h *Handler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orchestrator.HandleChat(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetOrder returns a locally recorded order
func (h *Handler) GetOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orchestrator.GetOrder(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	c.JSON(http.StatusOK, order)
}

type captureRequest struct {
	IntentID string `json:"payment_intent_id" binding:"required"`
}

// CapturePayment captures an approved payment intent
func (h *Handler) CapturePayment(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.orchestrator.CapturePayment(c.Request.Context(), req.IntentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type confirmRequest struct {
	IntentID     string `json:"payment_intent_id" binding:"required"`
	ClientSecret string `json:"client_secret"`
}

// ConfirmPayment refreshes an intent's state from the provider
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent, err := h.orchestrator.ConfirmPayment(c.Request.Context(), req.IntentID, req.ClientSecret)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, intent)
}

// PayPalWebhook receives PayPal webhook deliveries. The handler only
// normalizes and enqueues; it acks even on bad payloads so the provider
// stops redelivering garbage.
func (h *Handler) PayPalWebhook(c *gin.Context) {
	h.handleWebhook(c, service.NormalizePayPalEvent)
}

// StripeWebhook receives Stripe webhook deliveries
func (h *Handler) StripeWebhook(c *gin.Context) {
	h.handleWebhook(c, service.NormalizeStripeEvent)
}

func (h *Handler) handleWebhook(c *gin.Context, normalize func([]byte) (*models.ProviderEvent, error)) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	event, err := normalize(body)
	if err != nil {
		h.logger.Warn("Dropping malformed webhook", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.publisher.PublishProviderEvent(c.Request.Context(), event); err != nil {
		// a nack here makes the provider retry, which the dedup layer absorbs
		h.logger.Error("Failed to enqueue provider event",
			zap.String("event_id", event.EventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Health returns liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready returns readiness of downstream dependencies
func (h *Handler) Ready(c *gin.Context) {
	if h.readyCheck != nil {
		if err := h.readyCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// respondError maps domain errors onto HTTP statuses. The client gets a
// generic message; the wrapped chain with provider detail goes to the log.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, models.ErrValidation):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, models.ErrInvalidQuantity):
		status, msg = http.StatusBadRequest, "invalid quantity"
	case errors.Is(err, models.ErrInvalidAmount):
		status, msg = http.StatusBadRequest, "invalid amount"
	case errors.Is(err, models.ErrProductNotFound):
		status, msg = http.StatusNotFound, "product not found"
	case errors.Is(err, models.ErrPaymentNotApproved):
		status, msg = http.StatusConflict, "payment has not been approved yet"
	case errors.Is(err, models.ErrOrderNotPayable):
		status, msg = http.StatusConflict, "order can no longer be paid"
	case errors.Is(err, models.ErrClassifierUnavailable):
		status, msg = http.StatusBadGateway, "assistant is temporarily unavailable"
	case errors.Is(err, models.ErrCatalogUnavailable):
		status, msg = http.StatusBadGateway, "catalog is temporarily unavailable"
	case errors.Is(err, models.ErrPaymentUnavailable):
		status, msg = http.StatusBadGateway, "payment provider is temporarily unavailable"
	}

	h.logger.Error("Request failed",
		zap.Int("status", status),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(status, gin.H{"error": msg})
}

// prometheusMiddleware records request counts and latency
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).
			Observe(time.Since(start).Seconds())
	}
}
