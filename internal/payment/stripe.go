package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stripe implements the intent-style flow against the Payment Intents API.
// Amounts travel as minor-unit integers; the service fee is carried in
// metadata so it stays distinguishable from the item total.
type Stripe struct {
	baseURL   string
	secretKey string
	client    *http.Client
	logger    *zap.Logger
}

// NewStripe creates a Stripe gateway backend
func NewStripe(baseURL, secretKey string, timeout time.Duration) *Stripe {
	return &Stripe{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
		logger:    util.GetLogger(),
	}
}

type stripeIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
	LatestCharge string            `json:"latest_charge"`
}

type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Stripe) Provider() string {
	return models.ProviderStripe
}

// Create opens a manual-capture payment intent. amount is the minor-unit
// total; metadata carries subtotal and service_fee as decimal strings so
// their sum can be checked against the reported amount.
func (s *Stripe) Create(ctx context.Context, req Request) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "Stripe.Create")
	defer span.End()
	defer observePayment(s.Provider(), "create")()

	if err := validate(req); err != nil {
		return nil, err
	}

	amount, err := minorUnits(req.Breakdown.Total)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", strings.ToLower(req.Breakdown.Currency))
	form.Set("capture_method", "manual")
	form.Set("description", req.Description)
	form.Set("metadata[order_reference]", req.ReferenceID)
	form.Set("metadata[subtotal]", req.Breakdown.Subtotal.StringFixed(2))
	form.Set("metadata[service_fee]", req.Breakdown.ServiceFee.StringFixed(2))

	var intent stripeIntent
	if err := s.do(ctx, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}

	return s.normalize(&intent), nil
}

// Capture finalizes a confirmed intent
func (s *Stripe) Capture(ctx context.Context, intentID string) (*models.CaptureResult, error) {
	ctx, span := util.StartSpan(ctx, "Stripe.Capture")
	defer span.End()
	defer observePayment(s.Provider(), "capture")()

	var intent stripeIntent
	path := fmt.Sprintf("/v1/payment_intents/%s/capture", url.PathEscape(intentID))
	if err := s.do(ctx, path, url.Values{}, &intent); err != nil {
		return nil, err
	}

	return &models.CaptureResult{
		IntentID:  intent.ID,
		CaptureID: intent.LatestCharge,
		Status:    mapStripeStatus(intent.Status),
		Amount:    decimal.New(intent.Amount, -2),
		Currency:  strings.ToUpper(intent.Currency),
	}, nil
}

// Confirm moves the intent from created to capturable
func (s *Stripe) Confirm(ctx context.Context, intentID, clientSecret string) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "Stripe.Confirm")
	defer span.End()
	defer observePayment(s.Provider(), "confirm")()

	form := url.Values{}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	var intent stripeIntent
	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", url.PathEscape(intentID))
	if err := s.do(ctx, path, form, &intent); err != nil {
		return nil, err
	}
	return s.normalize(&intent), nil
}

func (s *Stripe) normalize(intent *stripeIntent) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:           intent.ID,
		Provider:     s.Provider(),
		Amount:       decimal.New(intent.Amount, -2),
		Currency:     strings.ToUpper(intent.Currency),
		Status:       mapStripeStatus(intent.Status),
		ClientSecret: intent.ClientSecret,
	}
}

func (s *Stripe) do(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var errBody stripeErrorBody
		_ = json.Unmarshal(raw, &errBody)
		if errBody.Error.Code == "payment_intent_unexpected_state" {
			return fmt.Errorf("%w: %s", models.ErrPaymentNotApproved, errBody.Error.Message)
		}
		return fmt.Errorf("%w: status %d: %s", models.ErrPaymentUnavailable, resp.StatusCode, errBody.Error.Message)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}
	return nil
}

func mapStripeStatus(status string) string {
	switch status {
	case "requires_payment_method", "requires_confirmation", "requires_action", "processing":
		return models.PaymentStatusCreated
	case "requires_capture":
		return models.PaymentStatusApproved
	case "succeeded":
		return models.PaymentStatusCaptured
	case "canceled":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusCreated
	}
}
