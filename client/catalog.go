package client

import (
	"context"
	"fmt"
	"net/url"

	"craftshop/storefront/models"
)

// Catalog API routes.
const (
	PathProducts = "/api/products"
)

// CatalogClient reads products from the storefront catalog API.
type CatalogClient struct {
	rest *restClient
}

func NewCatalogClient(baseURL string, opts ...Option) *CatalogClient {
	return &CatalogClient{rest: newRestClient("catalog", baseURL, opts)}
}

// GetAll returns every valid product. Products failing validation are
// logged and left out.
func (c *CatalogClient) GetAll(ctx context.Context) ([]models.Product, error) {
	var raw []models.Product
	if err := c.rest.getJSON(ctx, PathProducts, &raw); err != nil {
		return nil, err
	}

	products := make([]models.Product, 0, len(raw))
	for _, p := range raw {
		if err := p.Validate(); err != nil {
			c.rest.logger.Warn().Err(err).Msg("skipping invalid product")
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// GetByID returns one product, or an error wrapping ErrNotFound.
func (c *CatalogClient) GetByID(ctx context.Context, code string) (models.Product, error) {
	var p models.Product
	if err := c.rest.getJSON(ctx, PathProducts+"/"+url.PathEscape(code), &p); err != nil {
		return models.Product{}, err
	}
	if err := p.Validate(); err != nil {
		return models.Product{}, fmt.Errorf("invalid product %q: %w", code, err)
	}
	return p, nil
}

// CatalogSink receives a fresh catalog snapshot.
type CatalogSink interface {
	Replace(products []models.Product)
}

// Refresh loads the catalog and hands it to sink. On error sink keeps its
// previous snapshot.
func (c *CatalogClient) Refresh(ctx context.Context, sink CatalogSink) (int, error) {
	products, err := c.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	sink.Replace(products)
	c.rest.logger.Debug().Int("products", len(products)).Msg("catalog refreshed")
	return len(products), nil
}
