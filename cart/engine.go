// Package cart is the storefront's shopping cart: line items, their
// persistence, and the subtotal, discount, delivery and total figures derived
// from the catalog and store settings.
package cart

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"craftshop/storefront/kvstore"
	"craftshop/storefront/logging"
	"craftshop/storefront/models"
	"craftshop/storefront/tracker"
)

// Tracker receives the analytics the cart emits. Implementations must return
// without waiting on the network.
type Tracker interface {
	TrackEvent(ev tracker.Event)
	TrackFunnel(f tracker.Funnel)
}

type nopTracker struct{}

func (nopTracker) TrackEvent(tracker.Event)   {}
func (nopTracker) TrackFunnel(tracker.Funnel) {}

// Engine owns the cart line items. All methods are safe for concurrent use;
// a mutation and its persistence write happen under one lock.
type Engine struct {
	mu       sync.Mutex
	items    []models.CartLineItem
	open     bool
	catalog  Catalog
	settings Settings
	store    kvstore.Store
	tracker  Tracker
	logger   zerolog.Logger
	newID    func() string
}

type Option func(*Engine)

func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

func WithTracker(t Tracker) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracker = t
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator overrides how line item ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New builds an engine over catalog and restores the snapshot persisted in
// store. Damaged or legacy snapshots are repaired rather than rejected.
func New(catalog Catalog, store kvstore.Store, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		settings: DefaultSettings(),
		store:    store,
		tracker:  nopTracker{},
		logger:   logging.Component("cart"),
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.restore()
	return e
}

// AddToCart adds one unit of productID with the given options. An existing
// line with the same product and the same set of options is incremented
// instead of a new line being created.
func (e *Engine) AddToCart(productID string, selectedOptions []string) {
	selectedOptions = uniqueOptions(selectedOptions)
	want := canonicalOptions(selectedOptions)

	e.mu.Lock()
	quantity := 1
	idx := slices.IndexFunc(e.items, func(it models.CartLineItem) bool {
		return it.ProductID == productID && slices.Equal(canonicalOptions(it.SelectedOptions), want)
	})
	if idx >= 0 {
		e.items[idx].Quantity++
		quantity = e.items[idx].Quantity
	} else {
		e.items = append(e.items, models.CartLineItem{
			ID:              e.newID(),
			ProductID:       productID,
			Quantity:        1,
			SelectedOptions: selectedOptions,
		})
	}
	e.open = true
	e.persistLocked()
	cartCtx := e.checkoutContextLocked()
	e.mu.Unlock()

	e.emitEvent(tracker.Event{
		Type:      models.EventAddToCart,
		Category:  "ecommerce",
		Label:     productID,
		ProductID: productID,
		Data: map[string]any{
			"options":  slices.Clone(selectedOptions),
			"quantity": quantity,
		},
	})
	e.emitFunnel(tracker.Funnel{Stage: models.StageAddedToCart, Cart: &cartCtx})
}

// RemoveFromCart deletes the line with itemID. Unknown ids are ignored.
func (e *Engine) RemoveFromCart(itemID string) {
	e.mu.Lock()
	idx := e.indexLocked(itemID)
	if idx < 0 {
		e.mu.Unlock()
		return
	}
	removed := e.items[idx]
	e.items = slices.Delete(e.items, idx, idx+1)
	e.persistLocked()
	e.mu.Unlock()

	e.emitEvent(tracker.Event{
		Type:      models.EventRemoveFromCart,
		Category:  "ecommerce",
		Label:     removed.ProductID,
		ProductID: removed.ProductID,
		Data:      map[string]any{"quantity": removed.Quantity},
	})
}

// UpdateQuantity sets the quantity of a line. Zero or negative removes it.
func (e *Engine) UpdateQuantity(itemID string, quantity int) {
	if quantity <= 0 {
		e.RemoveFromCart(itemID)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexLocked(itemID)
	if idx < 0 {
		return
	}
	e.items[idx].Quantity = quantity
	e.persistLocked()
}

// UpdateOptions replaces the option set of a line in place. The line is not
// merged with another line carrying the same product and options.
func (e *Engine) UpdateOptions(itemID string, selectedOptions []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexLocked(itemID)
	if idx < 0 {
		return
	}
	e.items[idx].SelectedOptions = uniqueOptions(selectedOptions)
	e.persistLocked()
}

// ClearCart removes every line.
func (e *Engine) ClearCart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = nil
	e.persistLocked()
}

// SetOpen records whether the cart drawer is visible.
func (e *Engine) SetOpen(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open == open {
		return
	}
	e.open = open
	e.persistLocked()
}

func (e *Engine) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Items returns a copy of the current lines in insertion order.
func (e *Engine) Items() []models.CartLineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.itemsLocked()
}

func (e *Engine) itemsLocked() []models.CartLineItem {
	out := make([]models.CartLineItem, len(e.items))
	for i, it := range e.items {
		it.SelectedOptions = slices.Clone(it.SelectedOptions)
		out[i] = it
	}
	return out
}

// SetSettings replaces the delivery settings used by subsequent queries.
func (e *Engine) SetSettings(s Settings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
}

func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// SetCatalog swaps the catalog snapshot used to price lines.
func (e *Engine) SetCatalog(c Catalog) {
	e.mu.Lock()
	e.catalog = c
	e.mu.Unlock()
}

// CheckoutContext describes the cart for checkout funnel stages.
func (e *Engine) CheckoutContext() models.CartContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkoutContextLocked()
}

func (e *Engine) checkoutContextLocked() models.CartContext {
	products := make([]models.FunnelProduct, 0, len(e.items))
	for _, it := range e.items {
		products = append(products, models.FunnelProduct{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Options:   slices.Clone(it.SelectedOptions),
		})
	}
	return models.CartContext{Products: products, Total: e.summaryLocked().Total}
}

func (e *Engine) indexLocked(itemID string) int {
	return slices.IndexFunc(e.items, func(it models.CartLineItem) bool { return it.ID == itemID })
}

// emitEvent and emitFunnel shield cart mutations from a misbehaving tracker.
func (e *Engine) emitEvent(ev tracker.Event) {
	defer e.recoverTracker()
	e.tracker.TrackEvent(ev)
}

func (e *Engine) emitFunnel(f tracker.Funnel) {
	defer e.recoverTracker()
	e.tracker.TrackFunnel(f)
}

func (e *Engine) recoverTracker() {
	if r := recover(); r != nil {
		e.logger.Error().Interface("panic", r).Msg("analytics tracker panicked")
	}
}

// canonicalOptions returns the sorted, de-duplicated form of an option set.
// uniqueOptions drops repeated codes, keeping the first occurrence order.
func uniqueOptions(opts []string) []string {
	out := make([]string, 0, len(opts))
	for _, code := range opts {
		if !slices.Contains(out, code) {
			out = append(out, code)
		}
	}
	return out
}

func canonicalOptions(opts []string) []string {
	out := slices.Clone(opts)
	slices.Sort(out)
	return slices.Compact(out)
}
