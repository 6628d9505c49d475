package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/util"

	"go.uber.org/zap"
)

// PayPal implements the redirect-approval flow against the Checkout Orders
// v2 API. The buyer approves via the returned link; capture happens on a
// later call once the provider reports APPROVED.
type PayPal struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	logger       *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPal creates a PayPal gateway backend
func NewPayPal(baseURL, clientID, clientSecret string, timeout time.Duration) *PayPal {
	return &PayPal{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: timeout},
		logger:       util.GetLogger(),
	}
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalAmount struct {
	paypalMoney
	Breakdown *paypalBreakdown `json:"breakdown,omitempty"`
}

type paypalBreakdown struct {
	ItemTotal paypalMoney `json:"item_total"`
	Handling  paypalMoney `json:"handling"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	Description string       `json:"description,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Amount      paypalAmount `json:"amount"`
	Payments    *struct {
		Captures []struct {
			ID     string      `json:"id"`
			Status string      `json:"status"`
			Amount paypalMoney `json:"amount"`
		} `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext *paypalAppContext    `json:"application_context,omitempty"`
}

type paypalAppContext struct {
	UserAction string `json:"user_action,omitempty"`
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []paypalLink         `json:"links"`
}

type paypalErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (p *PayPal) Provider() string {
	return models.ProviderPayPal
}

// Create opens a CAPTURE-intent checkout order. The purchase unit carries an
// explicit item_total/handling breakdown; both legs are 2-dp decimal strings
// and sum exactly to the reported total, so the fee is never folded into the
// item price.
func (p *PayPal) Create(ctx context.Context, req Request) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "PayPal.Create")
	defer span.End()
	defer observePayment(p.Provider(), "create")()

	if err := validate(req); err != nil {
		return nil, err
	}

	body := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.ReferenceID,
			Description: req.Description,
			Amount: paypalAmount{
				paypalMoney: paypalMoney{
					CurrencyCode: req.Breakdown.Currency,
					Value:        req.Breakdown.Total.StringFixed(2),
				},
				Breakdown: &paypalBreakdown{
					ItemTotal: paypalMoney{
						CurrencyCode: req.Breakdown.Currency,
						Value:        req.Breakdown.Subtotal.StringFixed(2),
					},
					Handling: paypalMoney{
						CurrencyCode: req.Breakdown.Currency,
						Value:        req.Breakdown.ServiceFee.StringFixed(2),
					},
				},
			},
		}},
		ApplicationContext: &paypalAppContext{
			UserAction: "PAY_NOW",
			ReturnURL:  req.ReturnURL,
			CancelURL:  req.CancelURL,
		},
	}

	var order paypalOrder
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, err
	}

	intent := &models.PaymentIntent{
		ID:          order.ID,
		Provider:    p.Provider(),
		Amount:      req.Breakdown.Total,
		Currency:    req.Breakdown.Currency,
		Status:      mapPayPalStatus(order.Status),
		ApprovalURL: approvalLink(order.Links),
	}
	return intent, nil
}

// Capture finalizes an approved order. The provider call is not idempotent;
// the orchestrator short-circuits already-captured intents before reaching
// here.
func (p *PayPal) Capture(ctx context.Context, intentID string) (*models.CaptureResult, error) {
	ctx, span := util.StartSpan(ctx, "PayPal.Capture")
	defer span.End()
	defer observePayment(p.Provider(), "capture")()

	var order paypalOrder
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(intentID))
	if err := p.do(ctx, http.MethodPost, path, struct{}{}, &order); err != nil {
		return nil, err
	}

	result := &models.CaptureResult{
		IntentID: order.ID,
		Status:   mapPayPalStatus(order.Status),
	}
	if len(order.PurchaseUnits) > 0 && order.PurchaseUnits[0].Payments != nil &&
		len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		capture := order.PurchaseUnits[0].Payments.Captures[0]
		result.CaptureID = capture.ID
		result.Currency = capture.Amount.CurrencyCode
		if amount, err := parseMoney(capture.Amount.Value); err == nil {
			result.Amount = amount
		}
	}
	return result, nil
}

// Confirm is a status refresh for the redirect flow; approval itself happens
// on the provider's pages, not through an API credential.
func (p *PayPal) Confirm(ctx context.Context, intentID, _ string) (*models.PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "PayPal.Confirm")
	defer span.End()
	defer observePayment(p.Provider(), "confirm")()

	var order paypalOrder
	path := fmt.Sprintf("/v2/checkout/orders/%s", url.PathEscape(intentID))
	if err := p.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		return nil, err
	}

	return &models.PaymentIntent{
		ID:          order.ID,
		Provider:    p.Provider(),
		Status:      mapPayPalStatus(order.Status),
		ApprovalURL: approvalLink(order.Links),
	}, nil
}

func (p *PayPal) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Prefer", "return=representation")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var errBody paypalErrorBody
		_ = json.Unmarshal(raw, &errBody)
		if notApproved(&errBody) {
			return fmt.Errorf("%w: %s", models.ErrPaymentNotApproved, errBody.Name)
		}
		return fmt.Errorf("%w: status %d: %s", models.ErrPaymentUnavailable, resp.StatusCode, errBody.Name)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
		}
	}
	return nil
}

// token fetches or reuses the OAuth2 client-credentials access token
func (p *PayPal) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request status %d", models.ErrPaymentUnavailable, resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}

	p.accessToken = tokenResp.AccessToken
	// refresh a minute early
	p.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second)
	return p.accessToken, nil
}

func notApproved(errBody *paypalErrorBody) bool {
	for _, d := range errBody.Details {
		if d.Issue == "ORDER_NOT_APPROVED" {
			return true
		}
	}
	return errBody.Name == "UNPROCESSABLE_ENTITY" && strings.Contains(errBody.Message, "not approved")
}

func mapPayPalStatus(status string) string {
	switch status {
	case "CREATED", "PAYER_ACTION_REQUIRED", "SAVED":
		return models.PaymentStatusCreated
	case "APPROVED":
		return models.PaymentStatusApproved
	case "COMPLETED":
		return models.PaymentStatusCaptured
	case "VOIDED":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusCreated
	}
}

func approvalLink(links []paypalLink) string {
	for _, l := range links {
		if l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}
