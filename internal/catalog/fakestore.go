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
	"strings"
	"time"

	"shop-assistant/internal/models"
	"shop-assistant/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FakeStore talks to the public Fake Store API. The API has no title-query
// endpoint, so search fetches the list and filters client side; it has no
// real order endpoint either, so order creation posts a cart.
type FakeStore struct {
	baseURL  string
	currency string
	client   *http.Client
	logger   *zap.Logger
}

// NewFakeStore creates a Fake Store catalog backend
func NewFakeStore(baseURL, currency string, timeout time.Duration) *FakeStore {
	return &FakeStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: currency,
		client:   &http.Client{Timeout: timeout},
		logger:   util.GetLogger(),
	}
}

type fakeStoreProduct struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Rating      struct {
		Rate  float64 `json:"rate"`
		Count int     `json:"count"`
	} `json:"rating"`
}

type fakeStoreCartItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type fakeStoreCart struct {
	ID       int64               `json:"id,omitempty"`
	UserID   int64               `json:"userId"`
	Products []fakeStoreCartItem `json:"products"`
}

func (f *FakeStore) Name() string {
	return "fakestore"
}

// SearchByTitle filters the product list by a case-insensitive title match
func (f *FakeStore) SearchByTitle(ctx context.Context, query string) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "FakeStore.SearchByTitle")
	defer span.End()
	defer observeCatalog(f.Name(), "search")()

	var all []fakeStoreProduct
	if err := f.do(ctx, http.MethodGet, f.baseURL+"/products", nil, &all); err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	products := make([]models.Product, 0)
	for i := range all {
		if needle != "" && !strings.Contains(strings.ToLower(all[i].Title), needle) {
			continue
		}
		products = append(products, *f.normalize(&all[i]))
	}
	return products, nil
}

// GetByID fetches a single product
func (f *FakeStore) GetByID(ctx context.Context, id string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "FakeStore.GetByID")
	defer span.End()
	defer observeCatalog(f.Name(), "get")()

	var p fakeStoreProduct
	endpoint := f.baseURL + "/products/" + url.PathEscape(id)
	if err := f.do(ctx, http.MethodGet, endpoint, nil, &p); err != nil {
		return nil, err
	}
	// the API answers 200 with an empty body for unknown ids
	if p.ID == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrProductNotFound, id)
	}
	return f.normalize(&p), nil
}

// CreateOrder records the purchase as a cart, the closest thing the API has
// to an order sink
func (f *FakeStore) CreateOrder(ctx context.Context, req *models.OrderRequest) (*models.ExternalOrder, error) {
	ctx, span := util.StartSpan(ctx, "FakeStore.CreateOrder")
	defer span.End()
	defer observeCatalog(f.Name(), "create_order")()

	items := make([]fakeStoreCartItem, 0, len(req.Items))
	for _, item := range req.Items {
		productID, _ := strconv.ParseInt(item.ProductID, 10, 64)
		items = append(items, fakeStoreCartItem{ProductID: productID, Quantity: item.Quantity})
	}

	var out fakeStoreCart
	body := fakeStoreCart{UserID: 1, Products: items}
	if err := f.do(ctx, http.MethodPost, f.baseURL+"/carts", body, &out); err != nil {
		return nil, err
	}

	return &models.ExternalOrder{ID: strconv.FormatInt(out.ID, 10)}, nil
}

func (f *FakeStore) normalize(p *fakeStoreProduct) *models.Product {
	return &models.Product{
		ID:          strconv.FormatInt(p.ID, 10),
		Title:       p.Title,
		Description: p.Description,
		UnitPrice:   p.Price,
		Currency:    f.currency,
		// no stock endpoint; the rating count stands in as availability
		AvailableQuantity: p.Rating.Count,
	}
}

func (f *FakeStore) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrProductNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", models.ErrCatalogUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return models.ErrProductNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	return nil
}
