package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Shopify talks to the Shopify Admin REST API
type Shopify struct {
	baseURL  string // https://{shop}/admin/api/{version}
	token    string
	currency string
	client   *http.Client
	logger   *zap.Logger
}

// NewShopify creates a Shopify catalog backend
func NewShopify(shopURL, token, apiVersion, currency string, timeout time.Duration) *Shopify {
	return &Shopify{
		baseURL:  fmt.Sprintf("%s/admin/api/%s", shopURL, apiVersion),
		token:    token,
		currency: currency,
		client:   &http.Client{Timeout: timeout},
		logger:   util.GetLogger(),
	}
}

type shopifyVariant struct {
	ID                int64  `json:"id"`
	Price             string `json:"price"`
	InventoryQuantity int    `json:"inventory_quantity"`
}

type shopifyProduct struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	BodyHTML string           `json:"body_html"`
	Variants []shopifyVariant `json:"variants"`
}

type shopifyOrderLine struct {
	VariantID int64  `json:"variant_id,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type shopifyCustomer struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

type shopifyOrder struct {
	ID              int64              `json:"id,omitempty"`
	OrderNumber     int64              `json:"order_number,omitempty"`
	LineItems       []shopifyOrderLine `json:"line_items"`
	Customer        *shopifyCustomer   `json:"customer,omitempty"`
	TotalPrice      string             `json:"total_price,omitempty"`
	FinancialStatus string             `json:"financial_status,omitempty"`
}

func (s *Shopify) Name() string {
	return "shopify"
}

// SearchByTitle searches products by title. No match is an empty slice.
func (s *Shopify) SearchByTitle(ctx context.Context, query string) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "Shopify.SearchByTitle")
	defer span.End()
	defer observeCatalog(s.Name(), "search")()

	var out struct {
		Products []shopifyProduct `json:"products"`
	}
	endpoint := fmt.Sprintf("%s/products.json?title=%s", s.baseURL, url.QueryEscape(query))
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}

	products := make([]models.Product, 0, len(out.Products))
	for i := range out.Products {
		p, err := s.normalize(&out.Products[i])
		if err != nil {
			s.logger.Warn("Skipping unnormalizable product",
				zap.Int64("product_id", out.Products[i].ID),
				zap.Error(err))
			continue
		}
		products = append(products, *p)
	}
	return products, nil
}

// GetByID fetches a single product
func (s *Shopify) GetByID(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "Shopify.GetByID")
	defer span.End()
	defer observeCatalog(s.Name(), "get")()

	var out struct {
		Product shopifyProduct `json:"product"`
	}
	endpoint := fmt.Sprintf("%s/products/%s.json", s.baseURL, url.PathEscape(id))
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return s.normalize(&out.Product)
}

// CreateOrder creates a pending order at the shop
func (s *Shopify) CreateOrder(ctx context.Context, req *models.OrderRequest) (*models.ExternalOrder, error) {
	ctx, span := util.StartSpan(ctx, "Shopify.CreateOrder")
	defer span.End()
	defer observeCatalog(s.Name(), "create_order")()

	lines := make([]shopifyOrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		productID, _ := strconv.ParseInt(item.ProductID, 10, 64)
		lines = append(lines, shopifyOrderLine{
			ProductID: productID,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice.StringFixed(2),
		})
	}

	body := struct {
		Order shopifyOrder `json:"order"`
	}{
		Order: shopifyOrder{
			LineItems: lines,
			Customer: &shopifyCustomer{
				FirstName: req.Customer.FirstName,
				LastName:  req.Customer.LastName,
				Email:     req.Customer.Email,
			},
			TotalPrice:      req.Price.Total.StringFixed(2),
			FinancialStatus: "pending",
		},
	}

	var out struct {
		Order shopifyOrder `json:"order"`
	}
	if err := s.do(ctx, http.MethodPost, s.baseURL+"/orders.json", body, &out); err != nil {
		return nil, err
	}

	return &models.ExternalOrder{
		ID:     strconv.FormatInt(out.Order.ID, 10),
		Number: strconv.FormatInt(out.Order.OrderNumber, 10),
	}, nil
}

func (s *Shopify) normalize(p *shopifyProduct) (*models.Product, error) {
	if len(p.Variants) == 0 {
		return nil, fmt.Errorf("%w: product %d has no variants", models.ErrProductNotFound, p.ID)
	}
	price, err := decimal.NewFromString(p.Variants[0].Price)
	if err != nil {
		return nil, fmt.Errorf("unparseable price %q: %w", p.Variants[0].Price, err)
	}
	return &models.Product{
		ID:                strconv.FormatInt(p.ID, 10),
		Title:             p.Title,
		Description:       p.BodyHTML,
		UnitPrice:         price,
		Currency:          s.currency,
		AvailableQuantity: p.Variants[0].InventoryQuantity,
	}, nil
}

func (s *Shopify) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrProductNotFound
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", models.ErrCatalogUnavailable, resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	return nil
}
