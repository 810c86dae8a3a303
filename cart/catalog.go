package cart

import (
	"sync"

	"craftshop/storefront/models"
)

// Catalog resolves cart product references to the current product snapshot.
type Catalog interface {
	Product(code string) (models.Product, bool)
}

// StaticCatalog is an in-memory Catalog whose snapshot can be replaced as
// fresh catalog data arrives.
type StaticCatalog struct {
	mu       sync.RWMutex
	products map[string]models.Product
}

func NewStaticCatalog(products []models.Product) *StaticCatalog {
	c := &StaticCatalog{}
	c.Replace(products)
	return c
}

func (c *StaticCatalog) Product(code string) (models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[code]
	return p, ok
}

// Replace swaps the whole snapshot.
func (c *StaticCatalog) Replace(products []models.Product) {
	m := make(map[string]models.Product, len(products))
	for _, p := range products {
		m[p.Code] = p
	}
	c.mu.Lock()
	c.products = m
	c.mu.Unlock()
}

func (c *StaticCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}
