package cart

import (
	"slices"

	"github.com/shopspring/decimal"

	"craftshop/storefront/models"
)

// Amounts are exact decimals; nothing is rounded here. Totals always satisfy
// Total == Subtotal - Discount + DeliveryCost.

// Summary is every derived cart figure computed from one consistent view.
type Summary struct {
	Subtotal             decimal.Decimal `json:"subtotal"`
	Discount             decimal.Decimal `json:"discount"`
	DeliveryCost         decimal.Decimal `json:"deliveryCost"`
	Total                decimal.Decimal `json:"total"`
	ItemCount            int             `json:"itemCount"`
	AmountToFreeDelivery decimal.Decimal `json:"amountToFreeDelivery"`
}

// LineTotal is the priced breakdown of one cart line.
type LineTotal struct {
	ItemID       string          `json:"itemId"`
	ProductID    string          `json:"productId"`
	Quantity     int             `json:"quantity"`
	Resolved     bool            `json:"resolved"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	OptionsPrice decimal.Decimal `json:"optionsPrice"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
}

func (l LineTotal) Total() decimal.Decimal { return l.Subtotal.Sub(l.Discount) }

// priceLine prices one line against the catalog. A product missing from the
// catalog contributes nothing; so does an option code the product no longer
// offers.
func priceLine(it models.CartLineItem, catalog Catalog) LineTotal {
	lt := LineTotal{
		ItemID:       it.ID,
		ProductID:    it.ProductID,
		Quantity:     it.Quantity,
		UnitPrice:    decimal.Zero,
		OptionsPrice: decimal.Zero,
		Subtotal:     decimal.Zero,
		Discount:     decimal.Zero,
	}
	if catalog == nil {
		return lt
	}
	p, ok := catalog.Product(it.ProductID)
	if !ok {
		return lt
	}
	lt.Resolved = true
	lt.UnitPrice = p.BasePrice
	for i, code := range it.SelectedOptions {
		if slices.Contains(it.SelectedOptions[:i], code) {
			continue
		}
		if opt, ok := p.Option(code); ok {
			lt.OptionsPrice = lt.OptionsPrice.Add(opt.Price)
		}
	}
	qty := decimal.NewFromInt(int64(it.Quantity))
	lt.Subtotal = p.BasePrice.Add(lt.OptionsPrice).Mul(qty)
	if p.SalePrice != nil {
		lt.Discount = p.BasePrice.Sub(*p.SalePrice).Mul(qty)
	}
	return lt
}

func (e *Engine) summaryLocked() Summary {
	s := Summary{Subtotal: decimal.Zero, Discount: decimal.Zero}
	for _, it := range e.items {
		lt := priceLine(it, e.catalog)
		s.Subtotal = s.Subtotal.Add(lt.Subtotal)
		s.Discount = s.Discount.Add(lt.Discount)
		s.ItemCount += it.Quantity
	}
	final := s.Subtotal.Sub(s.Discount)
	s.DeliveryCost = deliveryCost(final, e.settings)
	s.Total = final.Add(s.DeliveryCost)
	s.AmountToFreeDelivery = decimal.Max(decimal.Zero, e.settings.FreeDeliveryThreshold.Sub(final))
	return s
}

func deliveryCost(finalSubtotal decimal.Decimal, s Settings) decimal.Decimal {
	if finalSubtotal.GreaterThanOrEqual(s.FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return s.DeliveryCost
}

// Summary computes all derived figures at once.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaryLocked()
}

// LineTotals prices every line in cart order.
func (e *Engine) LineTotals() []LineTotal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LineTotal, 0, len(e.items))
	for _, it := range e.items {
		out = append(out, priceLine(it, e.catalog))
	}
	return out
}

// Subtotal sums base price plus selected option prices times quantity. Sale
// prices are ignored here; the markdown is reported by Discount.
func (e *Engine) Subtotal() decimal.Decimal { return e.Summary().Subtotal }

// Discount sums (base - sale) times quantity over lines whose product is on sale.
func (e *Engine) Discount() decimal.Decimal { return e.Summary().Discount }

// DeliveryCost is zero once Subtotal-Discount reaches the free delivery
// threshold and the flat fee otherwise.
func (e *Engine) DeliveryCost() decimal.Decimal { return e.Summary().DeliveryCost }

// Total is what the customer is charged.
func (e *Engine) Total() decimal.Decimal { return e.Summary().Total }

// ItemCount sums quantities across lines.
func (e *Engine) ItemCount() int { return e.Summary().ItemCount }

// AmountToFreeDelivery is how much more the customer needs to spend, never negative.
func (e *Engine) AmountToFreeDelivery() decimal.Decimal { return e.Summary().AmountToFreeDelivery }
