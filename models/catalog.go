package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ProductOption is a paid add-on a customer can select for a product.
type ProductOption struct {
	Code  string          `json:"code"`
	Name  string          `json:"name,omitempty"`
	Price decimal.Decimal `json:"price"`
}

// Product is the catalog's read-only view of an item for sale. Code is the
// catalog key cart lines refer to.
type Product struct {
	Code      string           `json:"code"`
	Name      string           `json:"name,omitempty"`
	BasePrice decimal.Decimal  `json:"basePrice"`
	SalePrice *decimal.Decimal `json:"salePrice,omitempty"`
	Options   []ProductOption  `json:"options,omitempty"`
}

// OnSale reports whether the product carries a sale price.
func (p Product) OnSale() bool { return p.SalePrice != nil }

// Option looks up an add-on by code.
func (p Product) Option(code string) (ProductOption, bool) {
	for _, opt := range p.Options {
		if opt.Code == code {
			return opt, true
		}
	}
	return ProductOption{}, false
}

// Validate checks the invariants the cart relies on.
func (p Product) Validate() error {
	if p.Code == "" {
		return fmt.Errorf("product code is empty")
	}
	if p.BasePrice.IsNegative() {
		return fmt.Errorf("product %s: negative base price", p.Code)
	}
	if p.SalePrice != nil && p.SalePrice.GreaterThan(p.BasePrice) {
		return fmt.Errorf("product %s: sale price %s exceeds base price %s", p.Code, p.SalePrice, p.BasePrice)
	}
	return nil
}
