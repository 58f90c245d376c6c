package ordersvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ec-platform/internal/breaker"
	"github.com/example/ec-platform/internal/domain/product"
)

// HTTPCatalog looks products up in the product service. Calls run through a
// circuit breaker so a dead product service fails checkout fast instead of
// stacking up timed-out requests.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
	breaker *breaker.Breaker
}

func NewHTTPCatalog(baseURL string, b *breaker.Breaker) *HTTPCatalog {
	return &HTTPCatalog{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		breaker: b,
	}
}

func (c *HTTPCatalog) Product(ctx context.Context, productID string) (ProductSnapshot, error) {
	return breaker.Do(c.breaker, ctx, func(ctx context.Context) (ProductSnapshot, error) {
		return c.fetch(ctx, productID)
	})
}

func (c *HTTPCatalog) fetch(ctx context.Context, productID string) (ProductSnapshot, error) {
	url := fmt.Sprintf("%s/api/products/%s", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProductSnapshot{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ProductSnapshot{}, fmt.Errorf("product service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ProductSnapshot{}, product.ErrNotFound
	default:
		return ProductSnapshot{}, fmt.Errorf("product service returned %d", resp.StatusCode)
	}

	var body struct {
		Data ProductSnapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ProductSnapshot{}, fmt.Errorf("decode product response: %w", err)
	}
	return body.Data, nil
}
